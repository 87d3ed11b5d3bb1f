package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/taleforge/dungeonmaster/pkg/telemetry"
)

// SystemSample is one periodic reading of host resource usage.
type SystemSample struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	NetBytesSent  uint64
	NetBytesRecv  uint64
	Timestamp     time.Time
}

// HealthReport summarises the current health score and its inputs.
type HealthReport struct {
	Score       float64
	CPUPercent  float64
	MemPercent  float64
	RespTimeMs  float64
	FailureRate float64
}

// CustomCollector is a user-registered sampling function invoked once
// per collection cycle. It must be callable and parameterless — any
// other shape is rejected at registration (§4.8).
type CustomCollector func() (name string, value float64)

// Collector runs the periodic (30s) metrics sampling loop: system
// resource usage feeding a health score computed from CPU, memory,
// response time, and failure rate, queue depths per priority, and any
// registered custom collectors. The loop does not publish the active
// task count kept by RecordTaskStart/RecordTaskDone, and it does not
// sample load-balancer utilisation.
type Collector struct {
	queues map[string]*Queue

	cacheMu    sync.Mutex
	cpuCache   float64
	cpuCacheAt time.Time
	cpuTTL     time.Duration

	statsMu      sync.Mutex
	activeTasks  int
	respTimesMs  []float64
	failures     int
	completions  int

	customMu   sync.Mutex
	customs    map[string]CustomCollector

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector builds a Collector over the given named queues.
func NewCollector(queues map[string]*Queue) *Collector {
	return &Collector{
		queues:  queues,
		cpuTTL:  5 * time.Second,
		customs: make(map[string]CustomCollector),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// CPUPercent implements CPUSource for ADAPTIVE queues: a cached reading
// refreshed at most once per cpuTTL to avoid hot-sampling.
func (c *Collector) CPUPercent() float64 {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if time.Since(c.cpuCacheAt) < c.cpuTTL {
		return c.cpuCache
	}
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return c.cpuCache
	}
	c.cpuCache = percents[0]
	c.cpuCacheAt = time.Now()
	return c.cpuCache
}

// RegisterCollector adds a custom sampler, rejecting anything that is
// not a callable, parameterless function.
func (c *Collector) RegisterCollector(name string, fn CustomCollector) error {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return fmt.Errorf("monitor: collector %q is not callable", name)
	}
	if v.Type().NumIn() != 0 {
		return fmt.Errorf("monitor: collector %q must be parameterless", name)
	}
	c.customMu.Lock()
	defer c.customMu.Unlock()
	c.customs[name] = fn
	return nil
}

// RecordTaskStart/RecordTaskDone track active task count and response
// time / failure rate for the health score.
func (c *Collector) RecordTaskStart() {
	c.statsMu.Lock()
	c.activeTasks++
	c.statsMu.Unlock()
}

func (c *Collector) RecordTaskDone(elapsed time.Duration, failed bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.activeTasks--
	c.respTimesMs = append(c.respTimesMs, float64(elapsed.Milliseconds()))
	if len(c.respTimesMs) > 100 {
		c.respTimesMs = c.respTimesMs[len(c.respTimesMs)-100:]
	}
	c.completions++
	if failed {
		c.failures++
	}
}

func (c *Collector) avgResponseMs() float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if len(c.respTimesMs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.respTimesMs {
		sum += v
	}
	return sum / float64(len(c.respTimesMs))
}

func (c *Collector) failureRate() float64 {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if c.completions == 0 {
		return 0
	}
	return float64(c.failures) / float64(c.completions)
}

// Sample takes one reading of system resource usage.
func (c *Collector) Sample(ctx context.Context) SystemSample {
	s := SystemSample{Timestamp: time.Now(), CPUPercent: c.CPUPercent()}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent
	}
	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil && len(parts) > 0 {
		if usage, err := disk.UsageWithContext(ctx, parts[0].Mountpoint); err == nil {
			s.DiskPercent = usage.UsedPercent
		}
	}
	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		s.NetBytesSent = counters[0].BytesSent
		s.NetBytesRecv = counters[0].BytesRecv
	}
	return s
}

// Health computes the health score from CPU, memory, average response
// time, and failure rate. Below 70 is a warning condition (§4.8).
func (c *Collector) Health(ctx context.Context) HealthReport {
	sample := c.Sample(ctx)
	respMs := c.avgResponseMs()
	failRate := c.failureRate()

	score := 100.0
	score -= sample.CPUPercent * 0.3
	score -= sample.MemoryPercent * 0.2
	score -= minFloat(respMs/50, 20)
	score -= failRate * 100 * 0.3
	if score < 0 {
		score = 0
	}

	report := HealthReport{Score: score, CPUPercent: sample.CPUPercent, MemPercent: sample.MemoryPercent, RespTimeMs: respMs, FailureRate: failRate}
	telemetry.GetGlobalMetrics().HealthScore.Set(score)
	if score < 70 {
		slog.Warn("monitor: health score below threshold", "score", score, "cpu", sample.CPUPercent, "mem", sample.MemoryPercent, "resp_ms", respMs, "failure_rate", failRate)
	}
	return report
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Start runs the 30s collection loop until ctx is cancelled or Stop is
// called.
func (c *Collector) Start(ctx context.Context) {
	go c.loop(ctx)
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.doneCh)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *Collector) collectOnce(ctx context.Context) {
	c.Health(ctx)

	for name, q := range c.queues {
		for priority, depth := range q.Depths() {
			telemetry.GetGlobalMetrics().QueueDepth.WithLabelValues(fmt.Sprintf("%s:%d", name, priority)).Set(float64(depth))
		}
	}

	c.customMu.Lock()
	customs := make(map[string]CustomCollector, len(c.customs))
	for k, v := range c.customs {
		customs[k] = v
	}
	c.customMu.Unlock()

	for name, fn := range customs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("monitor: custom collector panicked", "name", name, "recover", r)
				}
			}()
			label, value := fn()
			slog.Debug("monitor: custom collector sample", "name", name, "label", label, "value", value)
		}()
	}
}

// Stop halts the collection loop and waits for it to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}
