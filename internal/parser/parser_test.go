package parser

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

var knownTools = []string{"read_file", "write_file", "bash_command", "search_files"}

func TestExtractMarker(t *testing.T) {
	p := New(knownTools)

	text := `I'll read that file now.
[TOOL_CALL:read_file:{"path":"main.go"}]
Done.`
	calls := p.Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "read_file" {
		t.Fatalf("name = %q", calls[0].Name)
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		t.Fatal(err)
	}
	if args["path"] != "main.go" {
		t.Fatalf("args = %v", args)
	}
}

func TestExtractMarkerWithBracketInJSON(t *testing.T) {
	p := New(knownTools)

	text := `[TOOL_CALL:write_file:{"path":"a.md","content":"list: [1, 2]"}]`
	calls := p.Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		t.Fatal(err)
	}
	if args["content"] != "list: [1, 2]" {
		t.Fatalf("content = %q", args["content"])
	}
}

func TestExtractRejectsMalformedMarkers(t *testing.T) {
	p := New(knownTools)

	for _, text := range []string{
		"[TOOL_CALL:read_file:{broken]",
		"[TOOL_CALL:1badname:{}]",
		`[TOOL_CALL:read_file:"not an object"]`,
		"[TOOL_CALL:read_file]",
	} {
		if calls := p.Extract(text); len(calls) != 0 {
			t.Errorf("Extract(%q) = %v, want none", text, calls)
		}
	}
}

func TestExtractKeywordCallInFence(t *testing.T) {
	p := New(knownTools)

	text := "Let me check:\n```\nread_file(path='src/app.py')\n```\n"
	calls := p.Extract(text)
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("calls = %v", calls)
	}
	var args map[string]any
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		t.Fatal(err)
	}
	if args["path"] != "src/app.py" {
		t.Fatalf("args = %v", args)
	}
}

func TestExtractKeywordCallLiterals(t *testing.T) {
	p := New(knownTools)

	text := "```\nbash_command(command=\"ls -la\", timeout=5, verbose=true, tags=['a','b'])\n```"
	calls := p.Extract(text)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	var args map[string]any
	if err := json.Unmarshal(calls[0].Arguments, &args); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"command": "ls -la",
		"timeout": float64(5),
		"verbose": true,
		"tags":    []any{"a", "b"},
	}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args = %#v, want %#v", args, want)
	}
}

func TestExtractIgnoresUnknownKeywordCalls(t *testing.T) {
	p := New(knownTools)

	// Ordinary code in a fence must not be mistaken for tool calls.
	text := "```\nprintln(x=1)\nfoo(path='x')\n```"
	if calls := p.Extract(text); len(calls) != 0 {
		t.Fatalf("calls = %v, want none", calls)
	}
}

func TestExtractDeduplicates(t *testing.T) {
	p := New(knownTools)

	text := `[TOOL_CALL:read_file:{"path":"a.go"}]
[TOOL_CALL:read_file:{"path":"a.go"}]
[TOOL_CALL:read_file:{"path":"b.go"}]`
	calls := p.Extract(text)
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2 after dedupe", len(calls))
	}
}

func TestExtractPreservesSourceOrder(t *testing.T) {
	p := New(knownTools)

	text := `[TOOL_CALL:read_file:{"path":"a.go"}]
[TOOL_CALL:write_file:{"path":"b.go","content":"x"}]
[TOOL_CALL:read_file:{"path":"c.go"}]`
	calls := p.Extract(text)
	var names []string
	for _, c := range calls {
		names = append(names, c.Name)
	}
	want := []string{"read_file", "write_file", "read_file"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	p := New(knownTools)

	cases := []struct {
		name string
		args map[string]any
	}{
		{"read_file", map[string]any{"path": "x.go"}},
		{"write_file", map[string]any{"path": "n.md", "content": "hello\nworld"}},
		{"bash_command", map[string]any{"command": "echo \"hi\"", "timeout": float64(3)}},
		{"search_files", map[string]any{"pattern": "[a-z]+", "globs": []any{"*.go"}}},
	}
	for _, tc := range cases {
		marker := FormatMarker(tc.name, tc.args)
		calls := p.Extract(marker)
		if len(calls) != 1 {
			t.Fatalf("Extract(FormatMarker(%s)) = %d calls", tc.name, len(calls))
		}
		var got map[string]any
		if err := json.Unmarshal(calls[0].Arguments, &got); err != nil {
			t.Fatal(err)
		}
		if calls[0].Name != tc.name || !reflect.DeepEqual(got, tc.args) {
			t.Fatalf("round trip mismatch: got (%s, %#v), want (%s, %#v)", calls[0].Name, got, tc.name, tc.args)
		}
	}
}

func TestStripRemovesMarkersAndToolBlocks(t *testing.T) {
	p := New(knownTools)

	text := "Reading now. [TOOL_CALL:read_file:{\"path\":\"a.go\"}] Stand by.\n" +
		"```\nread_file(path='b.go')\n```\n" +
		"```go\nfunc main() {}\n```\n"
	cleaned := p.Strip(text)

	if strings.Contains(cleaned, "TOOL_CALL") {
		t.Fatalf("markers survived: %q", cleaned)
	}
	if strings.Contains(cleaned, "read_file(path='b.go')") {
		t.Fatalf("tool-only fence survived: %q", cleaned)
	}
	if !strings.Contains(cleaned, "func main() {}") {
		t.Fatalf("ordinary code fence removed: %q", cleaned)
	}
	if !strings.Contains(cleaned, "Reading now.") || !strings.Contains(cleaned, "Stand by.") {
		t.Fatalf("prose damaged: %q", cleaned)
	}
}
