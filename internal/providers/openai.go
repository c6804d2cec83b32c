package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider streams chat completions from OpenAI or any
// OpenAI-compatible endpoint. Tool-call deltas are assembled per index and
// re-emitted as tool-call markers once their argument JSON is complete.
type OpenAIProvider struct {
	client       *openai.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider. Only APIKey is required;
// BaseURL points the client at compatible gateways.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewOpenAIProvider validates the config and builds the client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
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
		cfg.DefaultModel = openai.GPT4o
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) SupportsTools() bool { return true }

// Stream sends the request and returns a channel of chunks.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chunks := make(chan *Chunk)

	go func() {
		defer close(chunks)

		var stream *openai.ChatCompletionStream
		var err error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.client.CreateChatCompletionStream(ctx, p.buildRequest(req))
			if err == nil {
				break
			}
			if !retryable(err) {
				sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("openai: %w", err), Done: true})
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
			sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("openai: retries exhausted: %w", err), Done: true})
			return
		}
		defer stream.Close()

		p.processStream(ctx, stream, chunks)
	}()

	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *Request) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	out := openai.ChatCompletionRequest{
		Model:       modelOr(req.Model, p.defaultModel),
		Messages:    messages,
		MaxTokens:   maxTokensOr(req.MaxTokens),
		Temperature: float32(temperatureOr(req.Temperature)),
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.TopP > 0 {
		out.TopP = float32(req.TopP)
	}
	for _, schema := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		})
	}
	return out
}

// pendingToolCall accumulates function-call deltas for one tool-call index.
type pendingToolCall struct {
	name string
	args strings.Builder
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	pending := map[int]*pendingToolCall{}
	var inputTokens, outputTokens int

	flush := func() bool {
		indexes := make([]int, 0, len(pending))
		for i := range pending {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			call := pending[i]
			if !sendChunk(ctx, chunks, &Chunk{Text: "\n" + synthesizeMarker(call.name, call.args.String()) + "\n"}) {
				return false
			}
		}
		pending = map[int]*pendingToolCall{}
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !flush() {
				return
			}
			sendChunk(ctx, chunks, &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return
		}
		if err != nil {
			sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("openai: %w", err), Done: true})
			return
		}

		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !sendChunk(ctx, chunks, &Chunk{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := pending[idx]
			if call == nil {
				call = &pendingToolCall{}
				pending[idx] = call
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}

		// Tool calls are complete once the model reports its stop reason.
		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

func modelOr(m, fallback string) string {
	if m == "" {
		return fallback
	}
	return m
}
