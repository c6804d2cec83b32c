package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

func fetch(t *testing.T, reg *tools.Registry, rawArgs string) *models.ToolResult {
	t.Helper()
	spec, _ := reg.Get("web_fetch")
	args, err := spec.ValidateArgs(json.RawMessage(rawArgs))
	if err != nil {
		t.Fatalf("ValidateArgs: %v", err)
	}
	res, err := spec.Runner.Run(context.Background(), args)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello from server"))
	}))
	defer srv.Close()

	reg := tools.NewRegistry(nil)
	if err := Register(reg, Config{}); err != nil {
		t.Fatal(err)
	}

	res := fetch(t, reg, `{"url":"`+srv.URL+`"}`)
	if !res.Success {
		t.Fatalf("fetch failed: %v", res.Error)
	}
	data := res.Data.(map[string]any)
	if data["body"] != "hello from server" {
		t.Fatalf("body = %v", data["body"])
	}
}

func TestWebFetchTruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	reg := tools.NewRegistry(nil)
	if err := Register(reg, Config{MaxBodyBytes: 1024}); err != nil {
		t.Fatal(err)
	}

	res := fetch(t, reg, `{"url":"`+srv.URL+`"}`)
	data := res.Data.(map[string]any)
	if len(data["body"].(string)) != 1024 || data["truncated"] != true {
		t.Fatalf("body len = %d truncated = %v", len(data["body"].(string)), data["truncated"])
	}
}

func TestWebFetchRejectsNonHTTPSchemes(t *testing.T) {
	reg := tools.NewRegistry(nil)
	if err := Register(reg, Config{}); err != nil {
		t.Fatal(err)
	}

	spec, _ := reg.Get("web_fetch")
	if _, err := spec.ValidateArgs(json.RawMessage(`{"url":"file:///etc/passwd"}`)); err == nil {
		t.Fatal("file scheme should be rejected")
	}
}

func TestWebFetchHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	reg := tools.NewRegistry(nil)
	if err := Register(reg, Config{}); err != nil {
		t.Fatal(err)
	}

	res := fetch(t, reg, `{"url":"`+srv.URL+`"}`)
	if res.Success || res.Kind != models.FailureExecutionError {
		t.Fatalf("want execution_error for HTTP 403, got %+v", res)
	}
}
