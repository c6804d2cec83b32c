// Package agent contains the agentic execution core: the tool invoker,
// the parallel scheduler, conversation history with output masking, and
// the iterative loop that drives stream → parse → execute → feed-back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cinder-ai/cinder/pkg/models"
)

var (
	// ErrMaxIterations signals the loop hit its iteration budget while
	// the model still wanted tools.
	ErrMaxIterations = errors.New("maximum tool iterations reached")

	// ErrNoProvider signals the loop was started without an LLM backend.
	ErrNoProvider = errors.New("no LLM provider configured")

	// ErrPlanRejected signals the user denied a gated plan.
	ErrPlanRejected = errors.New("plan rejected by user")
)

// LoopPhase identifies where in an iteration a loop error occurred.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseContinue     LoopPhase = "continue"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError wraps a failure with the phase and iteration it happened in.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Cause     error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop failed in phase %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// classifyFailure maps an execution error onto the result failure
// taxonomy. Context errors are checked structurally; everything else
// falls back to message inspection.
func classifyFailure(err error) models.FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return models.FailureTimeout
	case errors.Is(err, context.Canceled):
		return models.FailureCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return models.FailureTimeout
	case strings.Contains(msg, "memory") || strings.Contains(msg, "cannot allocate"):
		return models.FailureMemoryExceeded
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "no such file"):
		return models.FailureOSError
	case strings.Contains(msg, "not found") || strings.Contains(msg, "unknown tool"):
		return models.FailureUnknownTool
	default:
		return models.FailureExecutionError
	}
}

// retryableKind reports whether a failure kind is transient enough to be
// worth an automatic retry for read-only tools. Timeouts are excluded: the
// call already consumed its full budget and a retry would double it.
func retryableKind(kind models.FailureKind) bool {
	switch kind {
	case models.FailureOSError:
		return true
	default:
		return false
	}
}
