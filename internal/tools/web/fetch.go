// Package web provides the web_fetch tool: bounded HTTP GET for research
// agents.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Config controls the fetch tool.
type Config struct {
	// Client defaults to a client with a 30 s timeout.
	Client *http.Client

	// MaxBodyBytes caps the response body (default 512 KiB).
	MaxBodyBytes int64

	UserAgent string
}

// Register adds the web_fetch tool to the registry.
func Register(reg *tools.Registry, cfg Config) error {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 512 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cinder/1.0"
	}

	return reg.Register(&tools.Spec{
		Name:          "web_fetch",
		Description:   "Fetch a URL over HTTP GET and return the response body (truncated to a byte cap).",
		Category:      tools.CategoryNetwork,
		SideEffecting: true,
		Params: []tools.Param{
			{Name: "url", Type: "string", Required: true, Description: "http or https URL to fetch."},
		},
		Check: func(args map[string]any) error {
			raw, _ := args["url"].(string)
			u, err := url.Parse(raw)
			if err != nil {
				return fmt.Errorf("invalid url: %w", err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("only http and https URLs are supported")
			}
			return nil
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			rawURL, _ := args["url"].(string)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return models.Fail(models.FailureInvalidArguments, err.Error()), nil
			}
			req.Header.Set("User-Agent", cfg.UserAgent)

			resp, err := cfg.Client.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return models.Fail(models.FailureCancelled, "fetch cancelled"), nil
				}
				return models.Fail(models.FailureExecutionError, fmt.Sprintf("fetch failed: %v", err)), nil
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxBodyBytes))
			if err != nil {
				return models.Fail(models.FailureExecutionError, fmt.Sprintf("read body: %v", err)), nil
			}
			truncated := int64(len(body)) == cfg.MaxBodyBytes

			if resp.StatusCode >= 400 {
				return models.Fail(models.FailureExecutionError,
					fmt.Sprintf("HTTP %d from %s", resp.StatusCode, rawURL)).
					WithMeta("body", string(body)), nil
			}

			return models.Ok(map[string]any{
				"url":          rawURL,
				"status":       resp.StatusCode,
				"content_type": strings.TrimSpace(resp.Header.Get("Content-Type")),
				"body":         string(body),
				"truncated":    truncated,
			}), nil
		}),
	})
}
