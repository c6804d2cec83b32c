package observability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics tracks the agent runtime: LLM requests, tool executions, circuit
// breaker transitions, and error rates. All metrics register with the
// Prometheus default registry; the REPL's /metrics command prints a gathered
// snapshot.
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai|sse), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// WaveParallelism observes the parallelism factor of scheduled tool waves.
	WaveParallelism prometheus.Histogram

	// CircuitTransitions counts breaker state changes.
	// Labels: tool_name, to_state (closed|open|half-open)
	CircuitTransitions *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component (loop|provider|tool|sandbox), error_type
	ErrorCounter *prometheus.CounterVec

	// LoopIterations observes how many iterations each agent turn used.
	LoopIterations prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
// Call once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cinder_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinder_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinder_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinder_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cinder_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		WaveParallelism: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cinder_wave_parallelism_factor",
				Help:    "Parallelism factor (calls / waves) of scheduled tool batches",
				Buckets: []float64{1, 1.5, 2, 3, 4, 6, 8},
			},
		),

		CircuitTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinder_circuit_transitions_total",
				Help: "Circuit breaker state transitions by tool and target state",
			},
			[]string{"tool_name", "to_state"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cinder_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		LoopIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cinder_loop_iterations",
				Help:    "Agent loop iterations consumed per user turn",
				Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
			},
		),
	}
}

// RecordLLMRequest records metrics for one LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for one tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCircuitTransition counts a breaker state change.
func (m *Metrics) RecordCircuitTransition(toolName, toState string) {
	m.CircuitTransitions.WithLabelValues(toolName, toState).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// Snapshot renders the current cinder_* metric families as plain text for
// the REPL. Families with no samples are omitted.
func Snapshot() string {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Sprintf("metrics unavailable: %v", err)
	}

	var b strings.Builder
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, fam := range families {
		name := fam.GetName()
		if !strings.HasPrefix(name, "cinder_") {
			continue
		}
		for _, metric := range fam.GetMetric() {
			fmt.Fprintf(&b, "%s%s %s\n", name, formatLabels(metric), formatValue(fam.GetType(), metric))
		}
	}
	if b.Len() == 0 {
		return "no metrics recorded yet\n"
	}
	return b.String()
}

func formatLabels(m *dto.Metric) string {
	if len(m.GetLabel()) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		parts = append(parts, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatValue(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "?"
	}
}
