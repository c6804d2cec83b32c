package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSSEProviderStreamsDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"Hello", ", ", "world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", text)
		}
		fmt.Fprint(w, "data: {\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":3},\"choices\":[]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewSSEProvider(SSEConfig{BaseURL: srv.URL, DefaultModel: "local"})
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Stream(context.Background(), &Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	var final *Chunk
	for chunk := range out {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
		final = chunk
	}
	if text.String() != "Hello, world" {
		t.Fatalf("text = %q", text.String())
	}
	if final == nil || !final.Done || final.InputTokens != 12 || final.OutputTokens != 3 {
		t.Fatalf("final chunk = %+v", final)
	}
}

func TestSSEProviderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := NewSSEProvider(SSEConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Stream(context.Background(), &Request{}); err == nil {
		t.Fatal("want error for HTTP 401")
	}
}

func TestSSEProviderToleratesJunkEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not json at all\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewSSEProvider(SSEConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	for chunk := range out {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
	}
	if text.String() != "ok" {
		t.Fatalf("text = %q", text.String())
	}
}

func TestSSEProviderSendsSamplingParams(t *testing.T) {
	var got sseChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewSSEProvider(SSEConfig{BaseURL: srv.URL, DefaultModel: "local"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Stream(context.Background(), &Request{
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
		TopP:        0.9,
		TopK:        40,
	})
	if err != nil {
		t.Fatal(err)
	}
	for range out {
	}

	if got.TopP != 0.9 || got.TopK != 40 {
		t.Fatalf("sampling params lost: top_p=%v top_k=%v", got.TopP, got.TopK)
	}
	if got.Temperature != 0.3 {
		t.Fatalf("temperature = %v", got.Temperature)
	}
}

func TestSSEProviderReleasesStreamOnStall(t *testing.T) {
	disconnected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(disconnected)
	}))
	defer srv.Close()

	p, err := NewSSEProvider(SSEConfig{BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	dog := NewWatchdog(p)
	dog.InitTimeout = 500 * time.Millisecond
	dog.StallTimeout = 30 * time.Millisecond

	out, err := dog.Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatal(err)
	}
	var last *Chunk
	for chunk := range out {
		last = chunk
	}
	if last == nil || !errors.Is(last.Err, ErrStreamStalled) {
		t.Fatalf("want stall error, got %+v", last)
	}

	// The producer goroutine must close its HTTP stream once the watchdog
	// gives up, not linger for the process lifetime.
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled stream left the HTTP connection open")
	}
}

func TestParseSSEMultilineData(t *testing.T) {
	stream := "data: line1\ndata: line2\n\ndata: [DONE]\n\n"
	var got []string
	err := parseSSE(strings.NewReader(stream), func(data string) bool {
		got = append(got, data)
		return data != "[DONE]"
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "line1\nline2" {
		t.Fatalf("events = %#v", got)
	}
}

func TestSynthesizeMarker(t *testing.T) {
	marker := synthesizeMarker("read_file", `{"path":"main.go"}`)
	want := `[TOOL_CALL:read_file:{"path":"main.go"}]`
	if marker != want {
		t.Fatalf("marker = %q, want %q", marker, want)
	}

	// Incomplete argument JSON falls back to an empty object.
	if got := synthesizeMarker("git_status", `{"pa`); got != "[TOOL_CALL:git_status:{}]" {
		t.Fatalf("marker = %q", got)
	}
}
