package agent

import (
	"strings"
	"testing"
)

func feedAll(f *markerFilter, chunks ...string) string {
	var out strings.Builder
	for _, c := range chunks {
		out.WriteString(f.Feed(c))
	}
	out.WriteString(f.Flush())
	return out.String()
}

func TestFilterHidesCompleteMarker(t *testing.T) {
	got := feedAll(&markerFilter{}, `I will read it. [TOOL_CALL:read_file:{"path":"a.go"}] Done.`)
	if got != "I will read it.  Done." {
		t.Fatalf("got %q", got)
	}
}

func TestFilterMarkerSplitAcrossChunks(t *testing.T) {
	got := feedAll(&markerFilter{},
		"before [TOOL", "_CALL:write_file:{\"path\":\"n.md\",", "\"content\":\"hi\"}] after")
	if got != "before  after" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterPassesOrdinaryBrackets(t *testing.T) {
	got := feedAll(&markerFilter{}, "slice[0] and [note] and arr[i+1]")
	if got != "slice[0] and [note] and arr[i+1]" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterBracketAtChunkBoundary(t *testing.T) {
	got := feedAll(&markerFilter{}, "value [", "TODO] rest")
	if got != "value [TODO] rest" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterNestedJSONInMarker(t *testing.T) {
	got := feedAll(&markerFilter{}, `x [TOOL_CALL:edit_file:{"old":"{a}","new":"[b]"}] y`)
	if got != "x  y" {
		t.Fatalf("got %q", got)
	}
}

func TestFilterIncompleteMarkerAtEOF(t *testing.T) {
	got := feedAll(&markerFilter{}, `tail [TOOL_CALL:read_file:{"path":`)
	if got != `tail [TOOL_CALL:read_file:{"path":` {
		t.Fatalf("incomplete marker should surface at flush, got %q", got)
	}
}
