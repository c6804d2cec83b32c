package agent

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cinder-ai/cinder/internal/infra"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

func registryWith(t *testing.T, specs ...*tools.Spec) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil)
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func echoSpec() *tools.Spec {
	return &tools.Spec{
		Name:        "echo",
		Description: "echoes its input",
		Category:    tools.CategoryFile,
		Params: []tools.Param{
			{Name: "text", Type: "string", Required: true},
		},
		Runner: tools.RunnerFunc(func(_ context.Context, args map[string]any) (*models.ToolResult, error) {
			return models.Ok(args["text"]), nil
		}),
	}
}

func TestInvokerSuccess(t *testing.T) {
	reg := registryWith(t, echoSpec())
	inv := NewInvoker(reg, nil, nil, InvokerConfig{})

	res := inv.Invoke(context.Background(), models.ToolCall{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
		CallID:    "call_1",
	})
	if !res.Outcome.Success {
		t.Fatalf("failed: %v", res.Outcome.Error)
	}
	if res.CallID != "call_1" || res.ToolName != "echo" {
		t.Fatalf("identity lost: %+v", res)
	}
	if res.MaskedContent == "" {
		t.Fatal("masked content must be populated")
	}
}

func TestInvokerUnknownTool(t *testing.T) {
	reg := registryWith(t, echoSpec())
	inv := NewInvoker(reg, nil, nil, InvokerConfig{})

	res := inv.Invoke(context.Background(), models.ToolCall{Name: "nope", Arguments: json.RawMessage(`{}`)})
	if res.Outcome.Success || res.Outcome.Kind != models.FailureUnknownTool {
		t.Fatalf("want unknown_tool, got %+v", res.Outcome)
	}
	if res.Outcome.Metadata["available"] == "" {
		t.Fatal("available tool list should be attached")
	}
}

func TestInvokerInvalidArguments(t *testing.T) {
	reg := registryWith(t, echoSpec())
	inv := NewInvoker(reg, nil, nil, InvokerConfig{})

	res := inv.Invoke(context.Background(), models.ToolCall{Name: "echo", Arguments: json.RawMessage(`{}`)})
	if res.Outcome.Kind != models.FailureInvalidArguments {
		t.Fatalf("kind = %v", res.Outcome.Kind)
	}
}

func TestInvokerTimeout(t *testing.T) {
	slow := &tools.Spec{
		Name:          "slow",
		Description:   "sleeps past its budget",
		Category:      tools.CategoryFile,
		SideEffecting: true,
		Runner: tools.RunnerFunc(func(ctx context.Context, _ map[string]any) (*models.ToolResult, error) {
			select {
			case <-time.After(2 * time.Second):
				return models.Ok("done"), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	}
	reg := registryWith(t, slow)
	inv := NewInvoker(reg, nil, nil, InvokerConfig{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	res := inv.Invoke(context.Background(), models.ToolCall{Name: "slow", Arguments: json.RawMessage(`{}`)})
	if res.Outcome.Kind != models.FailureTimeout {
		t.Fatalf("kind = %v", res.Outcome.Kind)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout enforcement took %v", time.Since(start))
	}
}

func TestInvokerTimeoutNotRetried(t *testing.T) {
	var runs atomic.Int32
	hang := &tools.Spec{
		Name:        "hang",
		Description: "never finishes on its own",
		Category:    tools.CategoryFile,
		Runner: tools.RunnerFunc(func(ctx context.Context, _ map[string]any) (*models.ToolResult, error) {
			runs.Add(1)
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	}
	reg := registryWith(t, hang)
	inv := NewInvoker(reg, nil, nil, InvokerConfig{DefaultTimeout: 50 * time.Millisecond, RetryAttempts: 3})

	start := time.Now()
	res := inv.Invoke(context.Background(), models.ToolCall{Name: "hang", Arguments: json.RawMessage(`{}`)})
	if res.Outcome.Kind != models.FailureTimeout {
		t.Fatalf("kind = %v", res.Outcome.Kind)
	}
	// Read-only tools retry transient failures but a timeout already spent
	// its full budget; it must run exactly once.
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timed-out call took %v", time.Since(start))
	}
}

func TestInvokerPanicIsolated(t *testing.T) {
	boom := &tools.Spec{
		Name:          "boom",
		Description:   "panics",
		Category:      tools.CategoryFile,
		SideEffecting: true,
		Runner: tools.RunnerFunc(func(context.Context, map[string]any) (*models.ToolResult, error) {
			panic("kaboom")
		}),
	}
	reg := registryWith(t, boom)
	inv := NewInvoker(reg, nil, nil, InvokerConfig{})

	res := inv.Invoke(context.Background(), models.ToolCall{Name: "boom", Arguments: json.RawMessage(`{}`)})
	if res.Outcome.Success || res.Outcome.Kind != models.FailureExecutionError {
		t.Fatalf("panic should surface as execution_error, got %+v", res.Outcome)
	}
}

func TestInvokerCircuitOpensAndRecovers(t *testing.T) {
	var healthy atomic.Bool
	flaky := &tools.Spec{
		Name:          "flaky",
		Description:   "fails until told otherwise",
		Category:      tools.CategoryFile,
		SideEffecting: true,
		Runner: tools.RunnerFunc(func(context.Context, map[string]any) (*models.ToolResult, error) {
			if healthy.Load() {
				return models.Ok("fine"), nil
			}
			return models.Fail(models.FailureExecutionError, "backend down"), nil
		}),
	}
	reg := registryWith(t, flaky)
	inv := NewInvoker(reg, nil, nil, InvokerConfig{
		Breaker: infra.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			OpenTimeout:      50 * time.Millisecond,
			HalfOpenMaxCalls: 2,
		},
	})
	call := models.ToolCall{Name: "flaky", Arguments: json.RawMessage(`{}`)}

	for i := 0; i < 3; i++ {
		if res := inv.Invoke(context.Background(), call); res.Outcome.Kind != models.FailureExecutionError {
			t.Fatalf("call %d kind = %v", i, res.Outcome.Kind)
		}
	}

	res := inv.Invoke(context.Background(), call)
	if res.Outcome.Kind != models.FailureCircuitOpen {
		t.Fatalf("4th call kind = %v, want circuit_open", res.Outcome.Kind)
	}
	if _, ok := res.Outcome.Metadata["retry_after_s"]; !ok {
		t.Fatal("circuit_open should carry retry_after_s")
	}

	healthy.Store(true)
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if res := inv.Invoke(context.Background(), call); !res.Outcome.Success {
			t.Fatalf("probe %d failed: %+v", i, res.Outcome)
		}
	}
	if res := inv.Invoke(context.Background(), call); !res.Outcome.Success {
		t.Fatalf("breaker should be closed again: %+v", res.Outcome)
	}
}

func TestInvokerHealthSnapshot(t *testing.T) {
	reg := registryWith(t, echoSpec())
	inv := NewInvoker(reg, nil, nil, InvokerConfig{})

	inv.Invoke(context.Background(), models.ToolCall{Name: "echo", Arguments: json.RawMessage(`{"text":"a"}`)})
	inv.Invoke(context.Background(), models.ToolCall{Name: "echo", Arguments: json.RawMessage(`{}`)})

	health := inv.Health()
	if len(health) != 1 || health[0].Tool != "echo" {
		t.Fatalf("health = %+v", health)
	}
	if health[0].Stats.Calls != 2 || health[0].Stats.Successes != 1 || health[0].Stats.Failures != 1 {
		t.Fatalf("stats = %+v", health[0].Stats)
	}
}
