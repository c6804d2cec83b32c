package models

import (
	"encoding/json"
	"time"
)

// ToolCall is a single tool invocation request extracted from model output.
// CallID is monotonic within a wave and stable across scheduling.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	CallID    string          `json:"call_id"`
}

// FailureKind classifies a tool failure.
type FailureKind string

const (
	FailureInvalidArguments FailureKind = "invalid_arguments"
	FailureUnknownTool      FailureKind = "unknown_tool"
	FailureTimeout          FailureKind = "timeout"
	FailureCircuitOpen      FailureKind = "circuit_open"
	FailureExecutionError   FailureKind = "execution_error"
	FailureMemoryExceeded   FailureKind = "memory_exceeded"
	FailureOSError          FailureKind = "os_error"
	FailureValidation       FailureKind = "validation"
	FailureCancelled        FailureKind = "cancelled"
	FailureNonZeroExit      FailureKind = "non_zero_exit"
	FailureUnexpected       FailureKind = "unexpected"
)

// ToolResult is the outcome of one tool execution. Exactly one of Data or
// Error is meaningful: a failure never carries Data and a success never
// carries Error.
type ToolResult struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Kind     FailureKind    `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ok builds a success result.
func Ok(data any) *ToolResult {
	return &ToolResult{Success: true, Data: data}
}

// Fail builds a failure result of the given kind.
func Fail(kind FailureKind, msg string) *ToolResult {
	return &ToolResult{Success: false, Kind: kind, Error: msg}
}

// WithMeta attaches a metadata entry and returns the result for chaining.
func (r *ToolResult) WithMeta(key string, value any) *ToolResult {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

// ToolInvocation wraps a finished ToolResult with identity, timing, and the
// masked representation used for model context. Never mutated after finalize.
type ToolInvocation struct {
	ToolName         string      `json:"tool_name"`
	CallID           string      `json:"call_id"`
	StartedAt        time.Time   `json:"started_at"`
	FinishedAt       time.Time   `json:"finished_at"`
	Outcome          *ToolResult `json:"outcome"`
	MaskedContent    string      `json:"masked_content"`
	CompressionRatio float64     `json:"compression_ratio"`
}

// Duration reports wall-clock time spent in the tool.
func (inv *ToolInvocation) Duration() time.Duration {
	return inv.FinishedAt.Sub(inv.StartedAt)
}

// ExecutionLimits are hard caps applied to a sandboxed child process.
type ExecutionLimits struct {
	Timeout        time.Duration `json:"timeout"`
	MaxOutputBytes int           `json:"max_output_bytes"`
	MaxMemoryMB    int           `json:"max_memory_mb"`
	MaxCPUPercent  int           `json:"max_cpu_percent"`
	MaxOpenFiles   int           `json:"max_open_files"`
}
