package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/config"
	"github.com/taleforge/dungeonmaster/pkg/dm"
	"github.com/taleforge/dungeonmaster/pkg/dm/model"
	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/ratelimit"
	"github.com/taleforge/dungeonmaster/pkg/scheduler"
	"github.com/taleforge/dungeonmaster/pkg/storage"
	"github.com/taleforge/dungeonmaster/pkg/timemanager"
)

// RunCmd processes one player turn through the full DM pipeline (§4.9)
// and prints the resulting narrative.
type RunCmd struct {
	Config    string `short:"c" required:"" help:"Path to session config file." type:"path"`
	Session   string `required:"" help:"Session ID the turn applies to."`
	Turn      string `required:"" help:"Path to a JSON file containing the turn's player inputs." type:"path"`
	NPCPool   int    `name:"npc-pool" default:"8" help:"Max NPC agents held resident at once."`
	BatchSize int    `name:"batch-concurrency" default:"4" help:"Scheduler batch concurrency cap."`
}

// turnFile is the on-disk shape dmctl expects for --turn: a list of
// player inputs for one turn.
type turnFile struct {
	Inputs []struct {
		PlayerID      string `json:"player_id"`
		CharacterName string `json:"character_name"`
		Content       string `json:"content"`
	} `json:"inputs"`
}

func (c *RunCmd) Run() error {
	ctx, cancel := signalContext()
	defer cancel()

	_ = config.LoadEnvFiles()
	cfg, loader, err := config.LoadConfigFile(ctx, c.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer loader.Close()

	raw, err := os.ReadFile(c.Turn)
	if err != nil {
		return fmt.Errorf("failed to read turn file: %w", err)
	}
	var tf turnFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("failed to parse turn file: %w", err)
	}
	if len(tf.Inputs) == 0 {
		return fmt.Errorf("turn file %q declares no inputs", c.Turn)
	}
	now := time.Now()
	inputs := make([]model.PlayerInput, 0, len(tf.Inputs))
	for _, in := range tf.Inputs {
		inputs = append(inputs, model.PlayerInput{
			PlayerID:      in.PlayerID,
			CharacterName: in.CharacterName,
			Content:       in.Content,
			Timestamp:     now,
		})
	}

	llmRegistry := llms.NewLLMRegistry()
	for name, llmCfg := range cfg.LLMs {
		if _, err := llmRegistry.CreateLLMFromConfig(name, llmCfg); err != nil {
			return fmt.Errorf("failed to create LLM provider %q: %w", name, err)
		}
	}

	schedCfg := scheduler.Config{BatchConcurrency: c.BatchSize}
	if cfg.Scheduler != nil {
		schedCfg.DefaultProvider = cfg.Scheduler.DefaultProvider
		schedCfg.FallbackProviders = cfg.Scheduler.FallbackProviders
		schedCfg.MaxRetries = cfg.Scheduler.MaxRetries
		schedCfg.CostThreshold = cfg.Scheduler.CostThreshold
		if cfg.Scheduler.RetryDelay != "" {
			if d, err := time.ParseDuration(cfg.Scheduler.RetryDelay); err == nil {
				schedCfg.RetryDelay = d
			}
		}
		if cfg.Scheduler.HighPriorityLatencyThresholdMS > 0 {
			schedCfg.HighPriorityLatencyThreshold = time.Duration(cfg.Scheduler.HighPriorityLatencyThresholdMS) * time.Millisecond
		}
		if cfg.Scheduler.DefaultLatencyMS > 0 {
			schedCfg.DefaultLatency = time.Duration(cfg.Scheduler.DefaultLatencyMS) * time.Millisecond
		}
	}
	dbPool := config.NewDBPool()
	limiter, err := ratelimit.NewRateLimiterFromConfig(cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}
	schedCfg.Limiter = limiter

	sched := scheduler.New(llmRegistry, schedCfg)
	chatter := &schedulerChatter{sched: sched}

	entities := storage.NewMemoryGraphStore()
	npcStore := newMemoryNPCStore()
	clock := timemanager.New()

	pipeline := dm.NewPipeline(dm.PipelineConfig{
		Classifier: dm.NewClassifier(chatter),
		Extractor:  dm.NewExtractor(chatter, entities),
		Dispatcher: dm.NewDispatcher(),
		NPCs:       dm.NewNPCPool(chatter, npcStore, c.NPCPool),
		Clock:      clock,
		Responses:  dm.NewResponseGenerator(chatter),
	})

	result := pipeline.ProcessPlayerTurn(ctx, c.Session, inputs)

	fmt.Println(result.Narrative)
	return nil
}
