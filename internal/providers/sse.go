package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SSEProvider is a direct HTTP fallback for OpenAI-compatible chat
// endpoints that the SDK clients cannot reach (self-hosted gateways,
// vLLM, llama.cpp servers). It posts a streaming chat request and parses
// the Server-Sent Events framing by hand, tolerating partial or
// non-standard payloads.
type SSEProvider struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	defaultModel string
}

// SSEConfig configures an SSEProvider. BaseURL is required and should
// point at the API root, e.g. "http://localhost:8000/v1".
type SSEConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	Client       *http.Client
}

// NewSSEProvider validates the config and builds the provider.
func NewSSEProvider(cfg SSEConfig) (*SSEProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("providers: SSE base URL is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &SSEProvider{
		client:       cfg.Client,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *SSEProvider) Name() string        { return "sse" }
func (p *SSEProvider) SupportsTools() bool { return false }

type sseChatRequest struct {
	Model       string           `json:"model"`
	Messages    []sseChatMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	TopP        float64          `json:"top_p,omitempty"`
	TopK        int              `json:"top_k,omitempty"`
	Stream      bool             `json:"stream"`
}

type sseChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// sseDelta mirrors the subset of the OpenAI streaming payload we consume.
type sseDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Stream posts the chat request and relays text deltas as chunks.
func (p *SSEProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	body := sseChatRequest{
		Model:       modelOr(req.Model, p.defaultModel),
		MaxTokens:   maxTokensOr(req.MaxTokens),
		Temperature: temperatureOr(req.Temperature),
		TopP:        req.TopP,
		TopK:        req.TopK,
		Stream:      true,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, sseChatMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		body.Messages = append(body.Messages, sseChatMessage{Role: role, Content: msg.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("sse: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("sse: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sse: request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("sse: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		var inputTokens, outputTokens int
		err := parseSSE(resp.Body, func(data string) bool {
			if data == "[DONE]" {
				return false
			}
			var delta sseDelta
			if json.Unmarshal([]byte(data), &delta) != nil {
				// Tolerate junk events from loose server implementations.
				return true
			}
			if delta.Usage != nil {
				inputTokens = delta.Usage.PromptTokens
				outputTokens = delta.Usage.CompletionTokens
			}
			for _, choice := range delta.Choices {
				if choice.Delta.Content != "" {
					if !sendChunk(ctx, chunks, &Chunk{Text: choice.Delta.Content}) {
						return false
					}
				}
			}
			return true
		})

		if ctx.Err() != nil {
			sendChunk(ctx, chunks, &Chunk{Err: ctx.Err(), Done: true})
			return
		}
		if err != nil {
			sendChunk(ctx, chunks, &Chunk{Err: fmt.Errorf("sse: %w", err), Done: true})
			return
		}
		sendChunk(ctx, chunks, &Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
	}()

	return chunks, nil
}

// parseSSE reads event-stream framing and invokes handle for each data
// payload. Multi-line data fields are joined with newlines; comment, id,
// and retry lines are skipped. handle returning false stops the scan.
func parseSSE(r io.Reader, handle func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(dataLines) > 0 {
				data := strings.Join(dataLines, "\n")
				dataLines = nil
				if !handle(data) {
					return nil
				}
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if len(dataLines) > 0 {
		handle(strings.Join(dataLines, "\n"))
	}
	return scanner.Err()
}
