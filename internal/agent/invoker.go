package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cinder-ai/cinder/internal/infra"
	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/internal/retry"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// InvokerConfig tunes single-call execution.
type InvokerConfig struct {
	// DefaultTimeout bounds ordinary tools (default 30s); LongTimeout
	// bounds tools flagged LongRunning (default 60s).
	DefaultTimeout time.Duration
	LongTimeout    time.Duration

	// Breaker supplies per-tool circuit breaker defaults.
	Breaker infra.CircuitBreakerConfig

	// RetryAttempts bounds automatic retries of transient failures for
	// read-only tools (default 2 total attempts; side-effecting tools
	// are never retried).
	RetryAttempts int

	Mask MaskOptions
}

// ToolStats is the per-tool health counter set.
type ToolStats struct {
	Calls         int64
	Successes     int64
	Failures      int64
	TotalDuration time.Duration
}

// ToolHealth pairs stats with the breaker state for one tool.
type ToolHealth struct {
	Tool    string
	Stats   ToolStats
	Breaker string
}

// Invoker executes a single tool call under a circuit breaker, argument
// validation, a wall-clock timeout, panic isolation, and masking.
type Invoker struct {
	registry *tools.Registry
	breakers *infra.CircuitBreakerRegistry
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   InvokerConfig

	mu    sync.Mutex
	stats map[string]*ToolStats
}

// NewInvoker wires an invoker over the registry.
func NewInvoker(registry *tools.Registry, logger *observability.Logger, metrics *observability.Metrics, config InvokerConfig) *Invoker {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.LongTimeout <= 0 {
		config.LongTimeout = 60 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 2
	}

	breakerDefaults := config.Breaker
	if metrics != nil && breakerDefaults.OnStateChange == nil {
		breakerDefaults.OnStateChange = func(from, to string) {
			metrics.RecordCircuitTransition("tools", to)
		}
	}

	return &Invoker{
		registry: registry,
		breakers: infra.NewCircuitBreakerRegistry(breakerDefaults),
		logger:   logger,
		metrics:  metrics,
		config:   config,
		stats:    map[string]*ToolStats{},
	}
}

// Invoke runs one call to completion. Errors never escape: every outcome
// is captured in the returned invocation.
func (inv *Invoker) Invoke(ctx context.Context, call models.ToolCall) *models.ToolInvocation {
	started := time.Now()

	finalize := func(res *models.ToolResult) *models.ToolInvocation {
		masked := Mask(res, inv.config.Mask)
		return &models.ToolInvocation{
			ToolName:         call.Name,
			CallID:           call.CallID,
			StartedAt:        started,
			FinishedAt:       time.Now(),
			Outcome:          res,
			MaskedContent:    masked.Content,
			CompressionRatio: masked.CompressionRatio,
		}
	}

	breaker := inv.breakers.Get(call.Name)
	if err := breaker.Allow(); err != nil {
		var open *infra.OpenError
		res := models.Fail(models.FailureCircuitOpen, err.Error())
		if errors.As(err, &open) {
			res.WithMeta("retry_after_s", open.RetryAfter.Seconds())
		}
		inv.record(call.Name, false, time.Since(started), "circuit_open")
		return finalize(res)
	}

	spec, ok := inv.registry.Get(call.Name)
	if !ok {
		breaker.Release()
		res := models.Fail(models.FailureUnknownTool, fmt.Sprintf("unknown tool %q", call.Name)).
			WithMeta("available", strings.Join(inv.registry.List(), ", "))
		inv.record(call.Name, false, time.Since(started), "unknown_tool")
		return finalize(res)
	}

	args, err := spec.ValidateArgs(call.Arguments)
	if err != nil {
		breaker.Release()
		inv.record(call.Name, false, time.Since(started), "invalid_arguments")
		return finalize(models.Fail(models.FailureInvalidArguments, err.Error()))
	}

	timeout := inv.config.DefaultTimeout
	if spec.LongRunning {
		timeout = inv.config.LongTimeout
	}

	res := inv.execute(ctx, spec, args, timeout)

	breaker.Record(breakerOutcome(res))
	status := "success"
	if !res.Success {
		status = string(res.Kind)
	}
	inv.record(call.Name, res.Success, time.Since(started), status)
	if inv.logger != nil {
		inv.logger.Debug(ctx, "tool executed",
			"tool", call.Name, "call_id", call.CallID,
			"success", res.Success, "elapsed", time.Since(started).String())
	}
	return finalize(res)
}

// execute runs the tool body under the timeout, recovering panics and
// retrying transient failures for read-only tools.
func (inv *Invoker) execute(ctx context.Context, spec *tools.Spec, args map[string]any, timeout time.Duration) *models.ToolResult {
	attempts := 1
	if !spec.SideEffecting {
		attempts = inv.config.RetryAttempts
	}

	var res *models.ToolResult
	retry.Do(ctx, retry.Config{MaxAttempts: attempts, InitialDelay: 200 * time.Millisecond}, func() error {
		res = inv.runOnce(ctx, spec, args, timeout)
		if res.Success {
			return nil
		}
		err := fmt.Errorf("%s: %s", res.Kind, res.Error)
		if !retryableKind(res.Kind) {
			return retry.Permanent(err)
		}
		return err
	})

	if res == nil {
		res = models.Fail(models.FailureUnexpected, "tool produced no result")
	}
	return res
}

func (inv *Invoker) runOnce(ctx context.Context, spec *tools.Spec, args map[string]any, timeout time.Duration) (res *models.ToolResult) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *models.ToolResult
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		r, err := spec.Runner.Run(callCtx, args)
		done <- outcome{res: r, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err != nil:
			return models.Fail(classifyFailure(out.err), out.err.Error())
		case out.res == nil:
			return models.Fail(models.FailureUnexpected, "tool returned no result")
		default:
			return out.res
		}

	case <-callCtx.Done():
		if ctx.Err() != nil {
			return models.Fail(models.FailureCancelled, "tool cancelled")
		}
		return models.Fail(models.FailureTimeout, fmt.Sprintf("tool timed out after %s", timeout))
	}
}

// breakerOutcome maps a result to the error fed into the circuit breaker.
// Only infrastructure-level failures count against the breaker; an
// ordinary non-zero exit is a tool-level answer, not tool distress.
func breakerOutcome(res *models.ToolResult) error {
	if res.Success {
		return nil
	}
	switch res.Kind {
	case models.FailureNonZeroExit, models.FailureValidation, models.FailureCancelled:
		return nil
	default:
		return errors.New(res.Error)
	}
}

func (inv *Invoker) record(tool string, success bool, elapsed time.Duration, status string) {
	inv.mu.Lock()
	st := inv.stats[tool]
	if st == nil {
		st = &ToolStats{}
		inv.stats[tool] = st
	}
	st.Calls++
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.TotalDuration += elapsed
	inv.mu.Unlock()

	if inv.metrics != nil {
		inv.metrics.RecordToolExecution(tool, status, elapsed.Seconds())
	}
}

// Health returns a read-only snapshot of per-tool stats and breaker
// states, sorted by tool name.
func (inv *Invoker) Health() []ToolHealth {
	inv.mu.Lock()
	out := make([]ToolHealth, 0, len(inv.stats))
	for tool, st := range inv.stats {
		out = append(out, ToolHealth{Tool: tool, Stats: *st, Breaker: inv.breakers.Get(tool).State()})
	}
	inv.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}
