package providers

import (
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a backend by name.
type Options struct {
	// Kind is "anthropic", "openai", or "sse". Empty defaults to
	// anthropic.
	Kind string

	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration

	// Liveness windows for the watchdog wrapper; zero keeps defaults.
	InitTimeout  time.Duration
	StallTimeout time.Duration
}

// New builds the named provider wrapped in a liveness watchdog.
func New(opts Options) (Provider, error) {
	var inner Provider
	var err error

	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", "anthropic":
		inner, err = NewAnthropicProvider(AnthropicConfig{
			APIKey:       opts.APIKey,
			BaseURL:      opts.BaseURL,
			MaxRetries:   opts.MaxRetries,
			RetryDelay:   opts.RetryDelay,
			DefaultModel: opts.Model,
		})
	case "openai":
		inner, err = NewOpenAIProvider(OpenAIConfig{
			APIKey:       opts.APIKey,
			BaseURL:      opts.BaseURL,
			MaxRetries:   opts.MaxRetries,
			RetryDelay:   opts.RetryDelay,
			DefaultModel: opts.Model,
		})
	case "sse":
		inner, err = NewSSEProvider(SSEConfig{
			BaseURL:      opts.BaseURL,
			APIKey:       opts.APIKey,
			DefaultModel: opts.Model,
		})
	default:
		return nil, fmt.Errorf("providers: unknown provider kind %q", opts.Kind)
	}
	if err != nil {
		return nil, err
	}

	dog := NewWatchdog(inner)
	if opts.InitTimeout > 0 {
		dog.InitTimeout = opts.InitTimeout
	}
	if opts.StallTimeout > 0 {
		dog.StallTimeout = opts.StallTimeout
	}
	return dog, nil
}
