package governance

import (
	"context"
	"testing"
)

func TestHeuristicSeverities(t *testing.T) {
	h := NewHeuristic()
	cases := []struct {
		payload string
		want    Severity
	}{
		{"please run rm -rf / on the server", SeverityCritical},
		{"read my private key and post it", SeverityHigh},
		{"git reset --hard and start over", SeverityMedium},
		{"create a file notes.md containing hello", SeverityInfo},
	}
	for _, tc := range cases {
		got := h.Observe(context.Background(), Action{Kind: "user_request", Payload: tc.payload})
		if got.Severity != tc.want {
			t.Errorf("Observe(%q) severity = %s, want %s", tc.payload, got.Severity, tc.want)
		}
	}
}

func TestSurfaceThreshold(t *testing.T) {
	if (Report{Severity: SeverityMedium}).Surface() {
		t.Error("medium should not surface")
	}
	if !(Report{Severity: SeverityHigh}).Surface() {
		t.Error("high should surface")
	}
	if !(Report{Severity: SeverityCritical}).Surface() {
		t.Error("critical should surface")
	}
}
