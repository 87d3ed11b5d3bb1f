// Package telemetry provides the shared tracing and metrics surface used
// across the runtime: one otel tracer per subsystem and a small set of
// Prometheus collectors that the scheduler, tool manager, and monitor
// publish to.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanLLMRequest     = "llm.request"
	SpanToolExecution  = "tool.execute"
	SpanAgentTask      = "agent.execute_task"
	SpanReasoning      = "reasoning.process"
	SpanTurn           = "dm.turn"
	// SpanAgentCall is kept as an alias of SpanAgentTask for call sites
	// grounded directly on the teacher's agent instrumentation naming.
	SpanAgentCall = SpanAgentTask
)

// Attribute keys.
const (
	AttrLLMProvider    = "llm.provider"
	AttrLLMModel       = "llm.model"
	AttrLLMTokensInput = "llm.tokens.input"
	AttrLLMTokensOutput = "llm.tokens.output"
	AttrToolName       = "tool.name"
	AttrAgentName      = "agent.name"
	AttrAgentID        = "agent.id"
	AttrAgentLLM       = "agent.llm_model"
	AttrSessionID      = "session.id"
)

// GetTracer returns the named tracer from the global otel provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// InitTracerProvider installs a sampling SDK TracerProvider as the global
// otel provider so spans created with GetTracer are actually recorded
// instead of discarded by the default no-op provider. There is no span
// exporter wired up (dmctl has no OTLP collector endpoint to send to,
// and pulling one in is out of scope for a single-process CLI) — the
// SDK still runs the sampler and builds real spans, which is what
// RecordError/SetStatus calls in pkg/tools and pkg/scheduler act on.
// rate is a TraceIDRatioBased sampling rate in [0,1]; 0 disables tracing.
func InitTracerProvider(rate float64) func(context.Context) error {
	if rate <= 0 {
		return func(context.Context) error { return nil }
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Metrics is the process-wide Prometheus collector set. It is created once
// and registered with prometheus.DefaultRegisterer; components fetch it
// with GetGlobalMetrics instead of constructing their own.
type Metrics struct {
	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	LLMRequests     *prometheus.CounterVec
	LLMLatency      *prometheus.HistogramVec
	LLMCostTotal    *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	HealthScore     prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetGlobalMetrics returns (and lazily creates) the process-wide metrics
// set, registering its collectors with the default Prometheus registry.
func GetGlobalMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dm_tool_calls_total",
				Help: "Tool invocations by tool name and outcome.",
			}, []string{"tool", "outcome"}),
			ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: "dm_tool_duration_seconds",
				Help: "Tool execution latency.",
			}, []string{"tool"}),
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dm_llm_requests_total",
				Help: "Scheduled LLM requests by provider and outcome.",
			}, []string{"provider", "outcome"}),
			LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: "dm_llm_latency_seconds",
				Help: "LLM request latency by provider.",
			}, []string{"provider"}),
			LLMCostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "dm_llm_cost_usd_total",
				Help: "Estimated LLM spend by provider.",
			}, []string{"provider"}),
			QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dm_task_queue_depth",
				Help: "Monitoring scheduler queue depth by priority.",
			}, []string{"priority"}),
			HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "dm_health_score",
				Help: "Composite health score computed by the monitor.",
			}),
		}
		prometheus.MustRegister(
			globalMetrics.ToolCalls,
			globalMetrics.ToolDuration,
			globalMetrics.LLMRequests,
			globalMetrics.LLMLatency,
			globalMetrics.LLMCostTotal,
			globalMetrics.QueueDepth,
			globalMetrics.HealthScore,
		)
	})
	return globalMetrics
}

// RecordToolExecution records a single tool call outcome and latency.
func (m *Metrics) RecordToolExecution(_ context.Context, tool string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordLLMRequest records a single scheduled LLM request outcome, latency,
// and estimated cost for the provider that served it.
func (m *Metrics) RecordLLMRequest(_ context.Context, provider string, d time.Duration, cost float64, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMRequests.WithLabelValues(provider, outcome).Inc()
	m.LLMLatency.WithLabelValues(provider).Observe(d.Seconds())
	if cost > 0 {
		m.LLMCostTotal.WithLabelValues(provider).Add(cost)
	}
}
