// Package scheduler implements the LLM Provider Scheduler (C2): given a
// RequestContext it enumerates (adapter, model) candidates, scores them,
// executes with retry/backoff, and falls back across providers on
// persistent failure. It is the one place in the runtime that decides
// which vendor actually serves a request.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/ratelimit"
	"github.com/taleforge/dungeonmaster/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

// Config tunes the scheduler's scoring and retry behaviour.
type Config struct {
	CostThreshold               float64       // USD; above this, cost scoring is capped hard (§4.2 scoring table)
	HighPriorityLatencyThreshold time.Duration // max acceptable latency for the default provider under PriorityHigh
	DefaultProvider              string
	FallbackProviders            []string
	MaxRetries                   int
	RetryDelay                   time.Duration
	DefaultLatency               time.Duration // used when a provider has no rolling average yet

	// Limiter, if set, throttles outbound requests per provider so a
	// vendor's own rate limit is never hit; a limit hit is treated as
	// a transient failure and retried/backed off exactly like a 429.
	Limiter ratelimit.RateLimiter

	// BatchConcurrency caps how many of a ScheduleBatch call's requests
	// run at once (§5: "the batch-request processor uses a semaphore
	// concurrency to cap parallel requests").
	BatchConcurrency int64
}

func (c *Config) setDefaults() {
	if c.CostThreshold == 0 {
		c.CostThreshold = 0.05
	}
	if c.HighPriorityLatencyThreshold == 0 {
		c.HighPriorityLatencyThreshold = 2 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 250 * time.Millisecond
	}
	if c.DefaultLatency == 0 {
		c.DefaultLatency = 800 * time.Millisecond
	}
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = 4
	}
}

// providerMetrics is the per-provider counter set, guarded only for O(1)
// updates, per §5's lock discipline.
type providerMetrics struct {
	mu             sync.Mutex
	RequestCount   int64
	SuccessCount   int64
	ErrorCount     int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
	TotalCost      float64
}

func (m *providerMetrics) record(d time.Duration, cost float64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount++
	if err != nil {
		m.ErrorCount++
	} else {
		m.SuccessCount++
	}
	m.TotalLatency += d
	m.AverageLatency = m.TotalLatency / time.Duration(m.RequestCount)
	m.TotalCost += cost
}

func (m *providerMetrics) snapshot() ProviderMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ProviderMetrics{
		RequestCount:   m.RequestCount,
		SuccessCount:   m.SuccessCount,
		ErrorCount:     m.ErrorCount,
		TotalLatency:   m.TotalLatency,
		AverageLatency: m.AverageLatency,
		TotalCost:      m.TotalCost,
	}
}

// ProviderMetrics is the read-only snapshot returned by Scheduler.Metrics.
type ProviderMetrics struct {
	RequestCount   int64
	SuccessCount   int64
	ErrorCount     int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
	TotalCost      float64
}

// candidate is one (provider name, model) pairing considered for a
// request.
type candidate struct {
	providerName string
	provider     llms.LLMProvider
	model        llms.ModelInfo
	score        float64
	estCost      float64
	estLatencyMs float64
}

// Scheduler picks a provider+model per request, retries, and falls back.
type Scheduler struct {
	registry *llms.LLMRegistry
	cfg      Config

	metricsMu sync.RWMutex
	metrics   map[string]*providerMetrics
}

// New creates a Scheduler over a registry of already-constructed LLM
// providers.
func New(registry *llms.LLMRegistry, cfg Config) *Scheduler {
	cfg.setDefaults()
	return &Scheduler{
		registry: registry,
		cfg:      cfg,
		metrics:  make(map[string]*providerMetrics),
	}
}

func (s *Scheduler) providerMetrics(name string) *providerMetrics {
	s.metricsMu.RLock()
	m, ok := s.metrics[name]
	s.metricsMu.RUnlock()
	if ok {
		return m
	}
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	if m, ok := s.metrics[name]; ok {
		return m
	}
	m = &providerMetrics{}
	s.metrics[name] = m
	return m
}

// Metrics returns a snapshot of one provider's cumulative counters.
func (s *Scheduler) Metrics(providerName string) ProviderMetrics {
	return s.providerMetrics(providerName).snapshot()
}

// estimateTokens is the scheduler's char/4 heuristic for scoring before a
// request has actually run (§4.2).
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func estimateRequestCost(provider llms.LLMProvider, model llms.ModelInfo, ctx llms.RequestContext) float64 {
	var promptChars int
	for _, m := range ctx.Messages {
		promptChars += len(m.Content)
	}
	promptTokens := estimateTokens(ctx.System) + estimateTokens(strings.Repeat("x", promptChars))
	completionTokens := ctx.MaxTokens
	if completionTokens == 0 {
		completionTokens = model.MaxTokens
	}
	usage := llms.TokenUsage{PromptTokens: promptTokens, CompletionTokens: completionTokens, TotalTokens: promptTokens + completionTokens}
	cost, err := provider.EstimateCost(model.ID, usage)
	if err != nil {
		return 0
	}
	return cost
}

func score(cost float64, latencyMs float64, priority llms.Priority, costThreshold float64) float64 {
	s := 100.0
	if cost > costThreshold {
		s -= 50
	} else {
		s -= math.Min(30, cost*1000)
	}
	s -= math.Min(20, latencyMs/200)
	switch priority {
	case llms.PriorityHigh:
		s += 20
	case llms.PriorityMedium:
		s += 10
	}
	return math.Max(0, s)
}

// candidates enumerates every (provider, model) pair eligible for ctx:
// if ctx.Model is set, only matching models survive; deprecated models
// and (when the request carries images) image-incapable models are
// always dropped.
func (s *Scheduler) candidates(ctx context.Context, req llms.RequestContext) ([]candidate, error) {
	hasImages := req.HasImageContent()
	var out []candidate

	for _, name := range s.registry.ListLLMs() {
		provider, err := s.registry.GetLLM(name)
		if err != nil {
			continue
		}
		models, err := provider.ListModels(ctx)
		if err != nil {
			continue
		}
		latencyMs := float64(s.estimatedLatency(name).Milliseconds())
		for _, model := range models {
			if model.Deprecated {
				continue
			}
			if hasImages && !model.Capabilities.Images {
				continue
			}
			if req.Model != "" && model.ID != req.Model {
				continue
			}
			cost := estimateRequestCost(provider, model, req)
			out = append(out, candidate{
				providerName: name,
				provider:     provider,
				model:        model,
				score:        score(cost, latencyMs, req.Priority, s.cfg.CostThreshold),
				estCost:      cost,
				estLatencyMs: latencyMs,
			})
		}
	}
	return out, nil
}

func (s *Scheduler) estimatedLatency(providerName string) time.Duration {
	m := s.providerMetrics(providerName)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RequestCount == 0 {
		return s.cfg.DefaultLatency
	}
	return m.AverageLatency
}

// selectCandidate implements §4.2's selection rule: a fixed model always
// returns the highest-scored candidate for that model; otherwise the
// configured default provider wins if "acceptable" for the request's
// priority, else the top-scored candidate overall.
func (s *Scheduler) selectCandidate(cands []candidate, req llms.RequestContext) (candidate, error) {
	if len(cands) == 0 {
		return candidate{}, fmt.Errorf("scheduler: no eligible provider/model for request")
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	if req.Model != "" {
		return cands[0], nil
	}

	for _, c := range cands {
		if c.providerName != s.cfg.DefaultProvider {
			continue
		}
		if c.estCost > s.cfg.CostThreshold {
			continue
		}
		if req.Priority == llms.PriorityHigh && time.Duration(c.estLatencyMs)*time.Millisecond > s.cfg.HighPriorityLatencyThreshold {
			continue
		}
		return c, nil
	}
	return cands[0], nil
}

// Result is what Schedule returns for a unary request.
type Result struct {
	Response llms.Response
	Provider string
	Model    string
}

// Schedule selects a provider+model, executes with retry/backoff, and
// falls back across s.cfg.FallbackProviders on persistent failure.
func (s *Scheduler) Schedule(ctx context.Context, req llms.RequestContext) (Result, error) {
	tracer := telemetry.GetTracer("dm.scheduler")
	ctx, span := tracer.Start(ctx, telemetry.SpanLLMRequest)
	defer span.End()

	cands, err := s.candidates(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	chosen, err := s.selectCandidate(cands, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrLLMProvider, chosen.providerName),
		attribute.String(telemetry.AttrLLMModel, chosen.model.ID),
	)

	resp, err := s.attempt(ctx, chosen, req)
	if err == nil {
		return Result{Response: resp, Provider: chosen.providerName, Model: chosen.model.ID}, nil
	}

	lastErr := err
	excluded := map[string]bool{chosen.providerName: true}
	for _, fb := range s.cfg.FallbackProviders {
		if excluded[fb] {
			continue
		}
		excluded[fb] = true
		fbReq := req
		fbReq.Model = ""
		fbCands, cerr := s.candidatesForProvider(ctx, fb, fbReq)
		if cerr != nil || len(fbCands) == 0 {
			continue
		}
		fbChosen, serr := s.selectCandidate(fbCands, fbReq)
		if serr != nil {
			continue
		}
		resp, err := s.attempt(ctx, fbChosen, fbReq)
		if err == nil {
			return Result{Response: resp, Provider: fbChosen.providerName, Model: fbChosen.model.ID}, nil
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return Result{}, fmt.Errorf("scheduler: all providers exhausted: %w", lastErr)
}

// ScheduleBatch runs Schedule over every request in reqs concurrently,
// capped at cfg.BatchConcurrency in-flight at once (§5). Results and
// errors are returned positionally, one pair per request; a request's
// own failure does not cancel its siblings.
func (s *Scheduler) ScheduleBatch(ctx context.Context, reqs []llms.RequestContext) ([]Result, []error) {
	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))
	sem := semaphore.NewWeighted(s.cfg.BatchConcurrency)
	var wg sync.WaitGroup
	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		wg.Add(1)
		go func(i int, req llms.RequestContext) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = s.Schedule(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results, errs
}

func (s *Scheduler) candidatesForProvider(ctx context.Context, providerName string, req llms.RequestContext) ([]candidate, error) {
	all, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0)
	for _, c := range all {
		if c.providerName == providerName {
			out = append(out, c)
		}
	}
	return out, nil
}

// attempt runs up to cfg.MaxRetries+1 tries against one candidate with
// exponential backoff between tries, recording metrics per attempt.
func (s *Scheduler) attempt(ctx context.Context, c candidate, req llms.RequestContext) (llms.Response, error) {
	m := s.providerMetrics(c.providerName)
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if s.cfg.Limiter != nil {
			res, lerr := s.cfg.Limiter.CheckAndRecord(ctx, ratelimit.ScopeUser, c.providerName, int64(estimateTokens(req.System)), 1)
			if lerr == nil && res != nil && !res.Allowed {
				lerr = ratelimit.NewRateLimitError(res)
			}
			if lerr != nil {
				lastErr = lerr
				if attempt < s.cfg.MaxRetries {
					delay := s.cfg.RetryDelay * time.Duration(1<<uint(attempt))
					select {
					case <-ctx.Done():
						return llms.Response{}, ctx.Err()
					case <-time.After(delay):
					}
				}
				continue
			}
		}
		start := time.Now()
		resp, err := c.provider.Generate(ctx, req.Messages, req.Tools)
		elapsed := time.Since(start)

		cost, _ := c.provider.EstimateCost(c.model.ID, resp.Usage)
		m.record(elapsed, cost, err)
		metrics := telemetry.GetGlobalMetrics()
		if metrics != nil {
			metrics.RecordLLMRequest(ctx, c.providerName, elapsed, cost, err)
		}

		if err == nil {
			return resp, nil
		}
		lastErr = err

		if apiErr, ok := err.(*llms.ApiError); ok && !apiErr.IsRetryable() {
			return llms.Response{}, err
		}
		if attempt < s.cfg.MaxRetries {
			delay := s.cfg.RetryDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return llms.Response{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return llms.Response{}, lastErr
}

// ScheduleStream selects a provider+model and streams the response. On
// a persistent failure it falls back exactly as Schedule does; because
// a fallback provider only has a unary API contract guaranteed, its
// response is re-chunked into two synthetic chunks: one "text" chunk
// carrying the full content, then a terminal "done" chunk (§4.2).
func (s *Scheduler) ScheduleStream(ctx context.Context, req llms.RequestContext) (<-chan llms.StreamChunk, error) {
	cands, err := s.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	chosen, err := s.selectCandidate(cands, req)
	if err != nil {
		return nil, err
	}

	ch, err := chosen.provider.GenerateStreaming(ctx, req.Messages, req.Tools)
	if err == nil {
		return ch, nil
	}

	// Streaming start failed: try fallbacks, synthesising a 2-chunk
	// stream from whichever fallback's unary call succeeds.
	excluded := map[string]bool{chosen.providerName: true}
	for _, fb := range s.cfg.FallbackProviders {
		if excluded[fb] {
			continue
		}
		excluded[fb] = true
		fbReq := req
		fbReq.Model = ""
		fbCands, cerr := s.candidatesForProvider(ctx, fb, fbReq)
		if cerr != nil || len(fbCands) == 0 {
			continue
		}
		fbChosen, serr := s.selectCandidate(fbCands, fbReq)
		if serr != nil {
			continue
		}
		resp, gerr := s.attempt(ctx, fbChosen, fbReq)
		if gerr != nil {
			continue
		}
		return synthesizeStream(resp), nil
	}
	return nil, fmt.Errorf("scheduler: streaming failed on all providers: %w", err)
}

func synthesizeStream(resp llms.Response) <-chan llms.StreamChunk {
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Type: "text", Text: resp.Text}
	ch <- llms.StreamChunk{Type: "done", Tokens: resp.Usage.TotalTokens}
	close(ch)
	return ch
}
