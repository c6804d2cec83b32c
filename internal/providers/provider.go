// Package providers implements streaming LLM backends for the agent loop.
//
// All backends speak the same narrow contract: a Request goes in, a channel
// of Chunks comes out. Native tool-use events are folded back into the text
// stream as tool-call markers so the parser sees one uniform wire format
// regardless of backend.
package providers

import (
	"context"

	"github.com/cinder-ai/cinder/internal/tools"
)

// Provider is a streaming LLM backend.
//
// Stream returns immediately with a channel; chunks arrive as the model
// generates them. The channel is closed after the final chunk (Done or Err
// set). Cancelling ctx stops the stream.
type Provider interface {
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
	Name() string
	SupportsTools() bool
}

// Request is one completion turn.
type Request struct {
	Model    string
	System   string
	Messages []Message

	// Tools advertises the callable tools. Backends that support native
	// tool use send these schemas; others rely on the system prompt.
	Tools []tools.LLMToolSchema

	MaxTokens   int
	Temperature float64

	// TopP and TopK apply when positive; backends that lack a knob
	// (OpenAI has no top_k) ignore the missing one.
	TopP float64
	TopK int
}

// Message is one conversation entry. Role is "user" or "assistant";
// tool results travel as user-role text, matching the marker protocol.
type Message struct {
	Role    string
	Content string
}

// Chunk is one streamed fragment.
type Chunk struct {
	// Text is visible output. Synthesized tool-call markers arrive here.
	Text string

	// Thinking carries extended-reasoning deltas when the backend
	// exposes them.
	Thinking string

	Done bool
	Err  error

	// Token usage, populated on the final chunk when the backend
	// reports it.
	InputTokens  int
	OutputTokens int
}

// sendChunk delivers c unless ctx is cancelled first. Producers must use
// this for every send so a consumer that stops reading cannot strand the
// producing goroutine mid-send.
func sendChunk(ctx context.Context, out chan<- *Chunk, c *Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

const (
	// DefaultMaxTokens bounds generations when the request does not set
	// a limit.
	DefaultMaxTokens = 4096

	// DefaultTemperature is forced for models that reject other values.
	DefaultTemperature = 1.0
)
