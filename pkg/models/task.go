package models

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyRequest is returned when a task request is blank after trimming.
var ErrEmptyRequest = errors.New("task request must not be empty")

// AgentTask is one unit of work handed to an agent.
type AgentTask struct {
	Request   string            `json:"request"`
	Context   map[string]any    `json:"context,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewAgentTask validates and builds a task. The request must be non-empty
// after trimming.
func NewAgentTask(request string) (*AgentTask, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, ErrEmptyRequest
	}
	return &AgentTask{Request: request, CreatedAt: time.Now()}, nil
}

// AgentResponse is the terminal outcome of one agent run. Exactly one of
// Data or Error is meaningful.
type AgentResponse struct {
	Success   bool   `json:"success"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ThinkingLevel grades how much reasoning effort a signature records.
type ThinkingLevel string

const (
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
)

// ThoughtSignature carries reasoning continuity between loop iterations.
type ThoughtSignature struct {
	SignatureID      string        `json:"signature_id"`
	ReasoningSummary string        `json:"reasoning_summary"`
	Insights         []string      `json:"insights,omitempty"`
	NextAction       string        `json:"next_action,omitempty"`
	ThinkingLevel    ThinkingLevel `json:"thinking_level"`
	CreatedAt        time.Time     `json:"created_at"`
}
