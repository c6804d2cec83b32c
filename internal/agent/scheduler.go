package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// SchedulerConfig bounds wave execution.
type SchedulerConfig struct {
	// MaxParallel caps concurrent invocations within a wave (default 4).
	MaxParallel int
}

// BatchSummary describes one scheduled batch.
type BatchSummary struct {
	WaveCount         int
	ParallelismFactor float64
	Duration          time.Duration
}

// Scheduler groups tool calls into dependency-respecting waves and runs
// each wave concurrently. Results always come back in submission order.
type Scheduler struct {
	invoker  *Invoker
	registry *tools.Registry
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   SchedulerConfig
}

// NewScheduler wires a scheduler over the invoker.
func NewScheduler(invoker *Invoker, registry *tools.Registry, logger *observability.Logger, metrics *observability.Metrics, config SchedulerConfig) *Scheduler {
	if config.MaxParallel <= 0 {
		config.MaxParallel = 4
	}
	return &Scheduler{
		invoker:  invoker,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
		config:   config,
	}
}

// Execute runs the batch. Cancellation aborts in-flight and queued calls;
// finished calls are reported as-is.
func (s *Scheduler) Execute(ctx context.Context, calls []models.ToolCall) ([]*models.ToolInvocation, BatchSummary) {
	started := time.Now()
	if len(calls) == 0 {
		return nil, BatchSummary{}
	}

	for i := range calls {
		if calls[i].CallID == "" {
			calls[i].CallID = fmt.Sprintf("call_%d", i+1)
		}
	}

	waves := s.planWaves(calls)
	results := make([]*models.ToolInvocation, len(calls))
	sem := semaphore.NewWeighted(int64(s.config.MaxParallel))

	for _, wave := range waves {
		if ctx.Err() != nil {
			break
		}
		if s.metrics != nil {
			s.metrics.WaveParallelism.Observe(float64(len(wave)))
		}

		var wg sync.WaitGroup
		for _, idx := range wave {
			if err := sem.Acquire(ctx, 1); err != nil {
				break
			}
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				defer sem.Release(1)
				results[i] = s.invoker.Invoke(ctx, calls[i])
			}(idx)
		}
		wg.Wait()
	}

	// Calls never started report as cancelled.
	now := time.Now()
	for i := range results {
		if results[i] == nil {
			results[i] = &models.ToolInvocation{
				ToolName:   calls[i].Name,
				CallID:     calls[i].CallID,
				StartedAt:  now,
				FinishedAt: now,
				Outcome:    models.Fail(models.FailureCancelled, "batch cancelled before execution"),
			}
		}
	}

	summary := BatchSummary{
		WaveCount: len(waves),
		Duration:  time.Since(started),
	}
	if summary.WaveCount > 0 {
		summary.ParallelismFactor = float64(len(calls)) / float64(summary.WaveCount)
	}
	if s.logger != nil {
		s.logger.Debug(ctx, "tool batch executed",
			"calls", len(calls), "waves", summary.WaveCount,
			"parallelism", summary.ParallelismFactor, "elapsed", summary.Duration.String())
	}
	return results, summary
}

// planWaves computes dependency-respecting waves: wave k holds every call
// whose dependencies all live in waves before k.
func (s *Scheduler) planWaves(calls []models.ToolCall) [][]int {
	profiles := make([]callProfile, len(calls))
	for i, call := range calls {
		profiles[i] = s.profile(call)
	}

	wave := make([]int, len(calls))
	maxWave := 0
	for i := 1; i < len(calls); i++ {
		for j := 0; j < i; j++ {
			if conflicts(profiles[j], profiles[i]) && wave[j]+1 > wave[i] {
				wave[i] = wave[j] + 1
			}
		}
		if wave[i] > maxWave {
			maxWave = wave[i]
		}
	}

	waves := make([][]int, maxWave+1)
	for i := range calls {
		waves[wave[i]] = append(waves[wave[i]], i)
	}
	return waves
}

// callProfile is the static footprint used for conflict analysis.
type callProfile struct {
	paths       map[string]bool
	writes      bool
	destructive bool
}

// pathArgKeys are argument names treated as filesystem references.
var pathArgKeys = []string{"path", "file", "dir", "directory", "filename"}

func (s *Scheduler) profile(call models.ToolCall) callProfile {
	p := callProfile{paths: map[string]bool{}}

	spec, ok := s.registry.Get(call.Name)
	if ok {
		p.writes = spec.SideEffecting
		// Shell commands can touch anything; order them after every
		// earlier call in the batch.
		p.destructive = spec.Category == tools.CategoryShell
	} else {
		p.writes = true
	}

	var args map[string]any
	if json.Unmarshal(call.Arguments, &args) == nil {
		for _, key := range pathArgKeys {
			if v, ok := args[key].(string); ok && v != "" {
				p.paths[v] = true
			}
		}
	}
	return p
}

// conflicts reports whether b must run after a.
func conflicts(a, b callProfile) bool {
	if b.destructive || a.destructive {
		return true
	}
	for path := range b.paths {
		if a.paths[path] && (a.writes || b.writes) {
			return true
		}
	}
	return false
}
