// Command dmctl is a demo/ops CLI for the dungeon-master runtime: it
// loads a session config, feeds a turn's player inputs through the
// pipeline, and prints the resulting narrative. It is not a product
// surface — there is no HTTP/web layer here by design (spec.md §1).
//
// Usage:
//
//	dmctl run --config campaign.yaml --session camp-1 --turn turn.json
//	dmctl validate --config campaign.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/taleforge/dungeonmaster/pkg/config"
	"github.com/taleforge/dungeonmaster/pkg/logger"
	"github.com/taleforge/dungeonmaster/pkg/telemetry"
)

// CLI defines dmctl's command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Process one player turn through the DM pipeline."`
	Validate ValidateCmd `cmd:"" help:"Validate a session configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	LogLevel   string  `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFormat  string  `help:"Log format (simple, verbose, or custom)." default:"simple"`
	TraceRatio float64 `help:"Fraction of spans to sample (0 disables tracing)." default:"0"`
}

// VersionCmd shows build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("dmctl version %s\n", version)
	return nil
}

// ValidateCmd loads and validates a session configuration file without
// running anything.
type ValidateCmd struct {
	Config string `short:"c" required:"" help:"Path to session config file." type:"path"`
}

func (c *ValidateCmd) Run() error {
	ctx, cancel := signalContext()
	defer cancel()

	_ = config.LoadEnvFiles()
	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	defer loader.Close()

	fmt.Printf("config %q is valid (%d LLMs, %d agents, %d tools)\n",
		c.Config, len(cfg.LLMs), len(cfg.Agents), len(cfg.Tools))
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("dmctl"),
		kong.Description("dmctl - dungeon-master agent-orchestration runtime CLI"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, os.Stderr, cli.LogFormat)

	shutdown := telemetry.InitTracerProvider(cli.TraceRatio)
	defer shutdown(context.Background())

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
