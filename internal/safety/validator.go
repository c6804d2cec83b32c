// Package safety classifies shell commands before they reach the sandbox.
// Validation is deterministic: the verdict depends only on the command text
// and the validator's configuration, never on filesystem state.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxCommandLength bounds the raw command accepted for validation.
const MaxCommandLength = 4096

// MaxPipeCount bounds the number of pipes in a single command.
const MaxPipeCount = 10

// VerdictKind is the outcome class of command validation.
type VerdictKind string

const (
	VerdictAllowed     VerdictKind = "allowed"
	VerdictWithWarning VerdictKind = "allowed_with_warning"
	VerdictDenied      VerdictKind = "denied"
)

// Verdict is the result of validating one command.
type Verdict struct {
	Kind   VerdictKind
	Reason string
}

// Allowed reports whether the command may execute at all.
func (v Verdict) Allowed() bool { return v.Kind != VerdictDenied }

func allowed() Verdict             { return Verdict{Kind: VerdictAllowed} }
func warn(reason string) Verdict   { return Verdict{Kind: VerdictWithWarning, Reason: reason} }
func denied(reason string) Verdict { return Verdict{Kind: VerdictDenied, Reason: reason} }

// CommandCategory groups allow-listed commands by blast radius.
type CommandCategory string

const (
	CategoryReadOnly       CommandCategory = "read-only"
	CategoryGitRead        CommandCategory = "git-read"
	CategoryGitWrite       CommandCategory = "git-write"
	CategoryPackageManager CommandCategory = "package-manager"
	CategoryDestructive    CommandCategory = "destructive"
	CategoryNetwork        CommandCategory = "network"
)

// AllowedCommand describes one allow-listed base command.
type AllowedCommand struct {
	BaseName    string
	Category    CommandCategory
	MaxTimeout  time.Duration
	Description string
}

// deniedSubstrings are sequences that mark a command as dangerous wherever
// they appear. A match records a warning but never pre-empts the strict-mode
// checks or the allow-list: a command that would be denied stays denied.
var deniedSubstrings = []string{
	"rm -rf /",
	"rm -rf /*",
	"rm -fr /",
	"mkfs",
	"> /dev/sda",
	"dd of=/dev/sd",
	":(){ :|:& };:",
	"chmod -r 777 /",
	"chmod -R 777 /",
	"shutdown",
	"reboot",
	"halt -f",
}

// dangerousPatterns catch riskier shapes that substring checks miss.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),                         // fork bomb
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+`),                   // recursive/forced rm
	regexp.MustCompile(`\bchmod\s+(-R\s+)?777\b`),                                // world-writable
	regexp.MustCompile(`\bdd\s+if=/dev/(zero|random|urandom)\b`),                 // raw-disk style writes
	regexp.MustCompile(`(curl|wget)[^|]*\|\s*(sudo\s+)?(ba)?sh\b`),               // pipe download to shell
	regexp.MustCompile(`\bsudo\s+(su|rm|dd|mkfs|chown\s+-R)\b`),                  // privileged escalation
	regexp.MustCompile(`\beval\s*\$\(`),                                          // eval from subshell
	regexp.MustCompile(`--no-preserve-root`),
}

// strictViolations are rejected outright in strict mode.
var (
	shellMetachars   = regexp.MustCompile("[;&`$<>]")
	commandChaining  = regexp.MustCompile(`&&|\|\|`)
	ioRedirection    = regexp.MustCompile(`\d?>>?|<`)
	envExpansion     = regexp.MustCompile(`\$\{?[A-Za-z_][A-Za-z0-9_]*\}?`)
	dangerousGlobs   = regexp.MustCompile(`(^|[\s/])\*\s*$|/\*\s`)
	encodedChars     = regexp.MustCompile(`\\x[0-9a-fA-F]{2}|%[0-9a-fA-F]{2}|\\[0-7]{3}`)
	envAllowPrefixes = []string{"$HOME", "$PWD", "$USER", "$PATH", "${HOME", "${PWD", "${USER", "${PATH"}
)

// Config configures a Validator.
type Config struct {
	// Audit disables strict allow-listing for a single scripted session.
	// It must be an explicit opt-in and is logged loudly.
	Audit bool

	// Allowlist is the set of permitted base commands in strict mode.
	// Empty means DefaultAllowlist().
	Allowlist []AllowedCommand

	// WarnRequiresApproval controls whether AllowedWithWarning verdicts
	// are escalated to the approval callback by the loop.
	WarnRequiresApproval bool
}

// Validator classifies shell commands. Safe for concurrent use; the session
// allow-list is the only mutable state.
type Validator struct {
	config Config

	mu      sync.RWMutex
	byBase  map[string]AllowedCommand
	session map[string]bool
}

// NewValidator builds a validator. The allow-list is extended by any
// ALLOWED_CMD_* environment variables (value: "name[:category[:timeout_s]]").
func NewValidator(config Config) *Validator {
	list := config.Allowlist
	if len(list) == 0 {
		list = DefaultAllowlist()
	}
	byBase := make(map[string]AllowedCommand, len(list))
	for _, cmd := range list {
		byBase[cmd.BaseName] = cmd
	}
	for _, cmd := range allowlistFromEnv() {
		byBase[cmd.BaseName] = cmd
	}

	return &Validator{
		config:  config,
		byBase:  byBase,
		session: make(map[string]bool),
	}
}

// WarnRequiresApproval reports the configured warning escalation policy.
func (v *Validator) WarnRequiresApproval() bool { return v.config.WarnRequiresApproval }

// AuditMode reports whether strict allow-listing is bypassed.
func (v *Validator) AuditMode() bool { return v.config.Audit }

// AllowForSession adds a base command to the in-session allow-list. Used by
// approval's allow_always decision; never persisted unless the caller opts in.
func (v *Validator) AllowForSession(base string) {
	base = strings.TrimSpace(base)
	if base == "" {
		return
	}
	v.mu.Lock()
	v.session[base] = true
	v.mu.Unlock()
}

// SessionAllowed returns the session allow-list in no particular order.
func (v *Validator) SessionAllowed() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.session))
	for base := range v.session {
		out = append(out, base)
	}
	return out
}

// Lookup returns the allow-list entry for a base command, session grants
// included.
func (v *Validator) Lookup(base string) (AllowedCommand, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if cmd, ok := v.byBase[base]; ok {
		return cmd, true
	}
	if v.session[base] {
		return AllowedCommand{BaseName: base, Category: CategoryDestructive, MaxTimeout: 30 * time.Second}, true
	}
	return AllowedCommand{}, false
}

// Validate classifies a raw shell command. Denials short-circuit; dangerous
// matches only record a warning, and the strict-mode checks plus the
// allow-list still run, so a warning can never rescue a denied command.
func (v *Validator) Validate(command string) Verdict {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return denied("empty command")
	}
	if len(command) > MaxCommandLength {
		return denied(fmt.Sprintf("command exceeds %d characters", MaxCommandLength))
	}

	var warning string
	lower := strings.ToLower(trimmed)
	for _, sub := range deniedSubstrings {
		if strings.Contains(lower, strings.ToLower(sub)) {
			warning = fmt.Sprintf("matches dangerous sequence %q", sub)
			break
		}
	}
	if warning == "" {
		for _, re := range dangerousPatterns {
			if re.MatchString(trimmed) {
				warning = fmt.Sprintf("matches dangerous pattern %s", re.String())
				break
			}
		}
	}

	if strings.Count(trimmed, "|") > MaxPipeCount {
		return denied("excessive piping")
	}

	verdict := allowed()
	if warning != "" {
		verdict = warn(warning)
	}

	if v.config.Audit {
		return verdict
	}

	if reason := strictViolation(trimmed); reason != "" {
		return denied(reason)
	}

	// Each pipeline segment must resolve to an allow-listed base.
	for _, segment := range strings.Split(trimmed, "|") {
		base := baseCommand(strings.TrimSpace(segment))
		if base == "" {
			return denied("unparseable command")
		}
		if _, ok := v.Lookup(base); !ok {
			return denied(fmt.Sprintf("%q is not whitelisted", base))
		}
	}

	return verdict
}

// strictViolation runs the comprehensive strict-mode check. Empty string
// means no violation.
func strictViolation(command string) string {
	if shellMetachars.MatchString(stripAllowedEnv(command)) {
		return "shell metacharacters are not allowed"
	}
	if commandChaining.MatchString(command) {
		return "command chaining is not allowed"
	}
	if ioRedirection.MatchString(command) {
		return "I/O redirection is not allowed"
	}
	for _, match := range envExpansion.FindAllString(command, -1) {
		if !allowedEnvRef(match) {
			return fmt.Sprintf("environment expansion %q is not allowed", match)
		}
	}
	if dangerousGlobs.MatchString(command) {
		return "dangerous glob token"
	}
	if encodedChars.MatchString(command) {
		return "encoded characters are not allowed"
	}
	return ""
}

func allowedEnvRef(ref string) bool {
	for _, prefix := range envAllowPrefixes {
		if strings.HasPrefix(ref, prefix) {
			return true
		}
	}
	return false
}

// stripAllowedEnv removes allow-listed env references so their $ does not
// trip the metacharacter check.
func stripAllowedEnv(command string) string {
	return envExpansion.ReplaceAllStringFunc(command, func(m string) string {
		if allowedEnvRef(m) {
			return ""
		}
		return m
	})
}

// baseCommand extracts the executable name from a command line, skipping
// leading env assignments.
func baseCommand(command string) string {
	fields := strings.Fields(command)
	for _, field := range fields {
		if strings.Contains(field, "=") && !strings.HasPrefix(field, "/") {
			continue
		}
		base := field
		if idx := strings.LastIndex(base, "/"); idx >= 0 {
			base = base[idx+1:]
		}
		return base
	}
	return ""
}

// allowlistFromEnv parses ALLOWED_CMD_* variables into allow-list entries.
func allowlistFromEnv() []AllowedCommand {
	var out []AllowedCommand
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "ALLOWED_CMD_") || strings.TrimSpace(value) == "" {
			continue
		}
		parts := strings.Split(value, ":")
		cmd := AllowedCommand{
			BaseName:   strings.TrimSpace(parts[0]),
			Category:   CategoryReadOnly,
			MaxTimeout: 30 * time.Second,
		}
		if len(parts) > 1 && parts[1] != "" {
			cmd.Category = CommandCategory(parts[1])
		}
		if len(parts) > 2 {
			if secs, err := strconv.Atoi(parts[2]); err == nil && secs > 0 {
				cmd.MaxTimeout = time.Duration(secs) * time.Second
			}
		}
		if cmd.BaseName != "" {
			out = append(out, cmd)
		}
	}
	return out
}

// DefaultAllowlist returns the built-in strict-mode allow-list.
func DefaultAllowlist() []AllowedCommand {
	short := 30 * time.Second
	long := 120 * time.Second
	return []AllowedCommand{
		{BaseName: "ls", Category: CategoryReadOnly, MaxTimeout: short, Description: "list directory"},
		{BaseName: "cat", Category: CategoryReadOnly, MaxTimeout: short, Description: "print file"},
		{BaseName: "head", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "tail", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "grep", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "rg", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "find", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "wc", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "pwd", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "echo", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "which", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "file", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "stat", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "sed", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "awk", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "sort", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "uniq", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "diff", Category: CategoryReadOnly, MaxTimeout: short},
		{BaseName: "git", Category: CategoryGitRead, MaxTimeout: long, Description: "version control"},
		{BaseName: "go", Category: CategoryPackageManager, MaxTimeout: long, Description: "go toolchain"},
		{BaseName: "make", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "npm", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "pip", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "cargo", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "python", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "python3", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "node", Category: CategoryPackageManager, MaxTimeout: long},
		{BaseName: "mkdir", Category: CategoryDestructive, MaxTimeout: short},
		{BaseName: "touch", Category: CategoryDestructive, MaxTimeout: short},
		{BaseName: "cp", Category: CategoryDestructive, MaxTimeout: short},
		{BaseName: "mv", Category: CategoryDestructive, MaxTimeout: short},
		{BaseName: "curl", Category: CategoryNetwork, MaxTimeout: long},
		{BaseName: "wget", Category: CategoryNetwork, MaxTimeout: long},
	}
}
