package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/cinder-ai/cinder/internal/parser"
	"github.com/cinder-ai/cinder/internal/tools"
)

// AnthropicProvider streams completions from the Anthropic Messages API.
// Native tool_use blocks are accumulated across delta events and re-emitted
// as tool-call markers in the text stream.
//
// Safe for concurrent use; each Stream call owns an independent SSE stream.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int           // default 3
	RetryDelay   time.Duration // base for exponential backoff, default 1s
	DefaultModel string
}

// NewAnthropicProvider validates the config and builds the SDK client.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

// Stream sends the request and returns a channel of chunks. Transient
// failures while opening the stream are retried with exponential backoff;
// the channel carries any terminal error.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream = p.createStream(ctx, req)
			err = stream.Err()
			if err == nil {
				break
			}
			if !retryable(err) {
				sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("anthropic: %w", err), Done: true})
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					sendChunk(ctx, chunks, &Chunk{Err: ctx.Err(), Done: true})
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("anthropic: retries exhausted: %w", err), Done: true})
			return
		}

		p.processStream(ctx, stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *Request) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model(req.Model)),
		Messages:    convertAnthropicMessages(req.Messages),
		MaxTokens:   int64(maxTokensOr(req.MaxTokens)),
		Temperature: anthropic.Float(temperatureOr(req.Temperature)),
	}
	if req.TopP > 0 {
		params.TopP = anthropic.Float(req.TopP)
	}
	if req.TopK > 0 {
		params.TopK = anthropic.Int(int64(req.TopK))
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertAnthropicTools(req.Tools)
	}
	return p.client.Messages.NewStreaming(ctx, params)
}

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *Chunk) {
	var toolName string
	var toolInput strings.Builder
	inToolBlock := false
	emptyEvents := 0

	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolName = use.Name
				toolInput.Reset()
				inToolBlock = true
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !sendChunk(ctx, chunks, &Chunk{Text: delta.Text}) {
						return
					}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !sendChunk(ctx, chunks, &Chunk{Thinking: delta.Thinking}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if inToolBlock {
				if !sendChunk(ctx, chunks, &Chunk{Text: "\n" + synthesizeMarker(toolName, toolInput.String()) + "\n"}) {
					return
				}
				inToolBlock = false
				toolName = ""
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = int(delta.Usage.OutputTokens)
			}
			processed = true

		case "message_stop":
			sendChunk(ctx, chunks, &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return

		case "error":
			sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("anthropic: stream error"), Done: true})
			return
		}

		if processed {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("anthropic: malformed stream: %d consecutive empty events", emptyEvents), Done: true})
			return
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("anthropic: %w", err), Done: true})
		return
	}
	sendChunk(ctx, chunks, &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
}

func (p *AnthropicProvider) model(m string) string {
	if m == "" {
		return p.defaultModel
	}
	return m
}

// synthesizeMarker renders an accumulated native tool call in the marker
// wire format so downstream parsing is backend-agnostic.
func synthesizeMarker(name, inputJSON string) string {
	raw := json.RawMessage(inputJSON)
	if !json.Valid(raw) || len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	return parser.FormatMarker(name, raw)
}

func convertAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" || msg.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func convertAnthropicTools(schemas []tools.LLMToolSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(s.Parameters, &schema); err != nil {
			continue
		}
		param := anthropic.ToolUnionParamOfTool(schema, s.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(s.Description)
		}
		out = append(out, param)
	}
	return out
}

func maxTokensOr(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}

func temperatureOr(t float64) float64 {
	if t <= 0 {
		return DefaultTemperature
	}
	return t
}
