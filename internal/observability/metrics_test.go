package observability

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Metrics register with the default registry, so the test binary builds
// them exactly once.
var (
	metricsOnce sync.Once
	testMetrics *Metrics
)

func sharedMetrics() *Metrics {
	metricsOnce.Do(func() { testMetrics = NewMetrics() })
	return testMetrics
}

func TestRecordLLMRequest(t *testing.T) {
	m := sharedMetrics()
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "success", 1.2, 120, 45)
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "success")); got != 1 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "prompt")); got != 120 {
		t.Fatalf("prompt tokens = %v", got)
	}
	// Zero-token requests must not create token samples.
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "completion")); got != 45 {
		t.Fatalf("completion tokens = %v", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := sharedMetrics()
	m.RecordToolExecution("read_file", "success", 0.02)
	m.RecordToolExecution("read_file", "success", 0.03)
	m.RecordToolExecution("bash_command", "error", 1.5)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("read_file", "success")); got != 2 {
		t.Fatalf("read_file successes = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("bash_command", "error")); got != 1 {
		t.Fatalf("bash_command errors = %v", got)
	}
}

func TestRecordCircuitTransitionAndError(t *testing.T) {
	m := sharedMetrics()
	m.RecordCircuitTransition("flaky_tool", "open")
	m.RecordError("loop", "stream")
	m.RecordError("loop", "stream")

	if got := testutil.ToFloat64(m.CircuitTransitions.WithLabelValues("flaky_tool", "open")); got != 1 {
		t.Fatalf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("loop", "stream")); got != 2 {
		t.Fatalf("errors = %v", got)
	}
}

func TestSnapshotRendersRecordedFamilies(t *testing.T) {
	m := sharedMetrics()
	m.RecordToolExecution("write_file", "success", 0.05)
	m.WaveParallelism.Observe(2.0)
	m.LoopIterations.Observe(3)

	snap := Snapshot()
	for _, want := range []string{
		"cinder_tool_executions_total",
		`tool_name="write_file"`,
		"cinder_wave_parallelism_factor",
		"cinder_loop_iterations",
	} {
		if !strings.Contains(snap, want) {
			t.Fatalf("snapshot missing %q:\n%s", want, snap)
		}
	}
	if strings.Contains(snap, "go_goroutines") {
		t.Fatal("snapshot must only include cinder_* families")
	}
}
