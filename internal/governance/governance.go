// Package governance provides an advisory observer for user requests and
// tool activity. Hooks report severity but never block execution; the
// loop decides whether a report is surfaced.
package governance

import (
	"context"
	"strings"
)

// Severity grades a report.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Action is one observed event.
type Action struct {
	// Kind is "user_request", "tool_call", or "command".
	Kind    string
	Payload string
}

// Report is a hook's advisory verdict.
type Report struct {
	Severity Severity
	Summary  string
}

// Surface reports whether a severity warrants showing the user.
func (r Report) Surface() bool {
	return r.Severity == SeverityHigh || r.Severity == SeverityCritical
}

// Hook observes actions. Implementations must be fast and must not
// block; Observe is called inline on the loop's hot path.
type Hook interface {
	Observe(ctx context.Context, action Action) Report
}

// Heuristic is the built-in hook: substring screening for destructive or
// exfiltration-shaped requests.
type Heuristic struct{}

// NewHeuristic returns the stock hook.
func NewHeuristic() *Heuristic { return &Heuristic{} }

var criticalMarkers = []string{
	"rm -rf /", "mkfs", "dd if=/dev/", ":(){", "> /dev/sda",
}

var highMarkers = []string{
	"sudo ", "chmod 777", "chown -r", "curl | sh", "wget | sh",
	"ssh key", "private key", "credentials", ".env file", "api key", "password",
}

var mediumMarkers = []string{
	"delete all", "drop table", "force push", "--force", "git reset --hard",
}

func (h *Heuristic) Observe(_ context.Context, action Action) Report {
	payload := strings.ToLower(action.Payload)

	for _, m := range criticalMarkers {
		if strings.Contains(payload, m) {
			return Report{Severity: SeverityCritical, Summary: "request contains a destructive system command pattern: " + m}
		}
	}
	for _, m := range highMarkers {
		if strings.Contains(payload, m) {
			return Report{Severity: SeverityHigh, Summary: "request touches sensitive material: " + m}
		}
	}
	for _, m := range mediumMarkers {
		if strings.Contains(payload, m) {
			return Report{Severity: SeverityMedium, Summary: "request includes a risky operation: " + m}
		}
	}
	return Report{Severity: SeverityInfo, Summary: "no concerns"}
}
