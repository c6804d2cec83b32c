// Package shell provides the bash_command tool: validated, sandboxed shell
// execution with optional interactive PTY mode.
package shell

import (
	"context"
	"fmt"
	"time"

	"github.com/cinder-ai/cinder/internal/safety"
	"github.com/cinder-ai/cinder/internal/sandbox"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Config wires the shell tool's collaborators.
type Config struct {
	Validator *safety.Validator
	Executor  *sandbox.Executor
	Workspace string

	// DefaultTimeout bounds commands that do not pass their own timeout.
	DefaultTimeout time.Duration
}

// Register adds the bash_command tool to the registry.
func Register(reg *tools.Registry, cfg Config) error {
	if cfg.Validator == nil || cfg.Executor == nil {
		return fmt.Errorf("shell tool requires a validator and an executor")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}

	return reg.Register(&tools.Spec{
		Name:          "bash_command",
		Description:   "Run a shell command in the workspace sandbox. Commands are validated against the safety policy first.",
		Category:      tools.CategoryShell,
		SideEffecting: true,
		LongRunning:   true,
		Params: []tools.Param{
			{Name: "command", Type: "string", Required: true, Description: "Shell command to execute."},
			{Name: "timeout", Type: "integer", Description: "Timeout in seconds (capped by the command's allow-list entry)."},
			{Name: "interactive", Type: "boolean", Default: false, Description: "Attach a PTY for interactive programs."},
		},
		Runner: tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
			command, _ := args["command"].(string)
			interactive, _ := args["interactive"].(bool)

			verdict := cfg.Validator.Validate(command)
			if !verdict.Allowed() {
				// Denied commands never reach the sandbox.
				return models.Fail(models.FailureValidation,
					fmt.Sprintf("command blocked by validation: %s", verdict.Reason)), nil
			}

			timeout := cfg.DefaultTimeout
			if secs := intArg(args, "timeout", 0); secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
			if entry, ok := cfg.Validator.Lookup(baseOf(command)); ok && entry.MaxTimeout > 0 && timeout > entry.MaxTimeout {
				timeout = entry.MaxTimeout
			}

			res, err := cfg.Executor.Run(ctx, sandbox.Request{
				Command:     command,
				Dir:         cfg.Workspace,
				Limits:      models.ExecutionLimits{Timeout: timeout},
				Interactive: interactive,
			})
			if err != nil {
				if ctx.Err() != nil {
					return models.Fail(models.FailureCancelled, "command cancelled"), nil
				}
				return models.Fail(models.FailureOSError, err.Error()), nil
			}

			stdout := res.Stdout
			if res.Truncated {
				stdout += sandbox.TruncationSentinel
			}
			data := map[string]any{
				"command":   command,
				"stdout":    stdout,
				"stderr":    res.Stderr,
				"exit_code": res.ExitCode,
				"elapsed_s": res.Duration.Seconds(),
			}

			switch {
			case res.TimedOut:
				return models.Fail(models.FailureTimeout,
					fmt.Sprintf("command timed out after %s", timeout)).
					WithMeta("partial", data), nil
			case res.ExitCode != 0:
				return models.Fail(models.FailureNonZeroExit,
					fmt.Sprintf("command exited with code %d", res.ExitCode)).
					WithMeta("output", data), nil
			}

			result := models.Ok(data)
			if verdict.Kind == safety.VerdictWithWarning {
				result.WithMeta("warning", verdict.Reason)
			}
			return result, nil
		}),
	})
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// baseOf extracts the base executable for the allow-list timeout lookup.
func baseOf(command string) string {
	fields := []rune{}
	for _, r := range command {
		if r == ' ' || r == '\t' {
			break
		}
		fields = append(fields, r)
	}
	base := string(fields)
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			return base[i+1:]
		}
	}
	return base
}
