package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Schema is a Tool's declared contract: name, description, its typed
// parameters, and a free-form description of what it returns. It is
// derived from ToolInfo so every registered Tool already has one.
type Schema struct {
	Name        string
	Description string
	Parameters  []ToolParameter
	Returns     string
}

func schemaFromInfo(info ToolInfo) Schema {
	return Schema{Name: info.Name, Description: info.Description, Parameters: info.Parameters}
}

// ToolStats accumulates per-tool call statistics.
type ToolStats struct {
	Calls        int64
	Successes    int64
	Failures     int64
	TotalElapsed time.Duration
}

// AverageElapsed returns the mean call duration, zero if no calls yet.
func (s ToolStats) AverageElapsed() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalElapsed / time.Duration(s.Calls)
}

// Manager is the Tool Manager of §4.3: it validates arguments against a
// tool's declared schema before ever calling it, records success/failure
// statistics with elapsed time, and offers batched and chained
// invocation on top of the registry's single-call path.
type Manager struct {
	registry *ToolRegistry

	statsMu sync.Mutex
	stats   map[string]*ToolStats
}

// NewManager wraps an existing ToolRegistry (registration, discovery,
// and execution stay the registry's job; Manager adds validation,
// stats, batching, and chaining on top).
func NewManager(registry *ToolRegistry) *Manager {
	return &Manager{registry: registry, stats: make(map[string]*ToolStats)}
}

// Call validates args against the tool's declared schema before
// executing it. On a validation failure the tool is never invoked: the
// returned ToolResult has ok=false and the registry's stats are not
// touched, matching §4.3's "it MUST NOT call the tool" contract.
func (m *Manager) Call(ctx context.Context, name string, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	tool, err := m.registry.GetTool(name)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ToolName: name}, nil
	}

	if verr := validateArgs(schemaFromInfo(tool.GetInfo()), args); verr != nil {
		m.record(name, false, time.Since(start))
		return ToolResult{Success: false, Error: verr.Error(), ToolName: name, ExecutionTime: time.Since(start)}, nil
	}

	result, execErr := m.registry.ExecuteTool(ctx, name, args)
	m.record(name, result.Success && execErr == nil, time.Since(start))
	return result, execErr
}

func (m *Manager) record(name string, ok bool, elapsed time.Duration) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	s, exists := m.stats[name]
	if !exists {
		s = &ToolStats{}
		m.stats[name] = s
	}
	s.Calls++
	s.TotalElapsed += elapsed
	if ok {
		s.Successes++
	} else {
		s.Failures++
	}
}

// Stats returns a snapshot of the accumulated per-tool statistics.
func (m *Manager) Stats(name string) ToolStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	if s, ok := m.stats[name]; ok {
		return *s
	}
	return ToolStats{}
}

// validateArgs checks presence of required parameters and, when an enum
// is declared, that the supplied value is a member of it. It performs
// no type coercion: a present-but-wrong-shaped value is the tool's own
// problem to report via ToolResult.Error.
func validateArgs(schema Schema, args map[string]interface{}) error {
	for _, p := range schema.Parameters {
		v, present := args[p.Name]
		if p.Required && !present {
			return fmt.Errorf("missing required parameter %q", p.Name)
		}
		if !present {
			continue
		}
		if len(p.Enum) > 0 {
			sv, ok := v.(string)
			if !ok {
				return fmt.Errorf("parameter %q must be one of %v", p.Name, p.Enum)
			}
			valid := false
			for _, e := range p.Enum {
				if e == sv {
					valid = true
					break
				}
			}
			if !valid {
				return fmt.Errorf("parameter %q value %q is not one of %v", p.Name, sv, p.Enum)
			}
		}
	}
	return nil
}

// ListTools returns tool metadata, optionally filtered to a name
// whitelist (filters == nil means "all tools").
func (m *Manager) ListTools(filters []string) []ToolInfo {
	all := m.registry.ListTools()
	if len(filters) == 0 {
		return all
	}
	allowed := make(map[string]bool, len(filters))
	for _, f := range filters {
		allowed[f] = true
	}
	out := make([]ToolInfo, 0, len(all))
	for _, info := range all {
		if allowed[info.Name] {
			out = append(out, info)
		}
	}
	return out
}

// Call describes one invocation for BatchCall/ChainTools.
type Call struct {
	Name string
	Args map[string]interface{}
}

// BatchResult pairs a batch/chain call's outcome with its originating
// index, so callers can correlate results back to the Call slice even
// though batch execution runs them concurrently.
type BatchResult struct {
	Index  int
	Result ToolResult
	Err    error
}

// BatchCall executes every call concurrently and returns results in the
// same order as the input slice.
func (m *Manager) BatchCall(ctx context.Context, calls []Call) []BatchResult {
	results := make([]BatchResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			res, err := m.Call(gctx, c.Name, c.Args)
			results[i] = BatchResult{Index: i, Result: res, Err: err}
			return nil // a single tool failure must not cancel the rest of the batch
		})
	}
	_ = g.Wait()
	return results
}

// ChainTools runs calls in sequence; the output of step N-1 is injected
// into step N's arguments under the key "previous_result". Returns the
// ordered per-step results; a step failure stops the chain (subsequent
// steps never execute) but earlier results are still returned.
func (m *Manager) ChainTools(ctx context.Context, calls []Call) ([]ToolResult, error) {
	results := make([]ToolResult, 0, len(calls))
	var previous interface{}
	for _, c := range calls {
		args := c.Args
		if args == nil {
			args = map[string]interface{}{}
		} else {
			copied := make(map[string]interface{}, len(args)+1)
			for k, v := range args {
				copied[k] = v
			}
			args = copied
		}
		if previous != nil {
			args["previous_result"] = previous
		}
		result, err := m.Call(ctx, c.Name, args)
		results = append(results, result)
		if err != nil {
			return results, err
		}
		if !result.Success {
			return results, fmt.Errorf("chain stopped at tool %q: %s", c.Name, result.Error)
		}
		if result.Output != nil {
			previous = result.Output
		} else {
			previous = result.Content
		}
	}
	return results, nil
}
