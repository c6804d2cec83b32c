// Package gittool exposes repository operations as tools: git_status,
// git_diff, git_log, and git_commit. Commands run through the sandbox with
// the same limits as bash_command.
package gittool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cinder-ai/cinder/internal/sandbox"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Config wires the git tools.
type Config struct {
	Executor  *sandbox.Executor
	Workspace string
	Timeout   time.Duration
}

// Register adds the git tools to the registry.
func Register(reg *tools.Registry, cfg Config) error {
	if cfg.Executor == nil {
		return fmt.Errorf("git tools require an executor")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	specs := []*tools.Spec{
		{
			Name:        "git_status",
			Description: "Show the working tree status.",
			Category:    tools.CategoryGit,
			Runner:      cfg.runner(func(map[string]any) string { return "git status --short --branch" }),
		},
		{
			Name:        "git_diff",
			Description: "Show uncommitted changes, optionally limited to one path.",
			Category:    tools.CategoryGit,
			Params: []tools.Param{
				{Name: "path", Type: "string", Description: "Limit the diff to this path."},
				{Name: "staged", Type: "boolean", Default: false, Description: "Diff the index instead of the working tree."},
			},
			Runner: cfg.runner(func(args map[string]any) string {
				cmd := "git diff"
				if staged, _ := args["staged"].(bool); staged {
					cmd += " --cached"
				}
				if path, _ := args["path"].(string); path != "" {
					cmd += " -- " + shellQuote(path)
				}
				return cmd
			}),
		},
		{
			Name:        "git_log",
			Description: "Show recent commits.",
			Category:    tools.CategoryGit,
			Params: []tools.Param{
				{Name: "limit", Type: "integer", Default: float64(10), Description: "Number of commits to show."},
			},
			Runner: cfg.runner(func(args map[string]any) string {
				limit := 10
				if v, ok := args["limit"].(float64); ok && v > 0 {
					limit = int(v)
				}
				return "git log --oneline -n " + strconv.Itoa(limit)
			}),
		},
		{
			Name:          "git_commit",
			Description:   "Stage the given paths and create a commit.",
			Category:      tools.CategoryGit,
			SideEffecting: true,
			Params: []tools.Param{
				{Name: "message", Type: "string", Required: true, Description: "Commit message."},
				{Name: "paths", Type: "array", Description: "Paths to stage; omit to commit what is already staged."},
			},
			Check: func(args map[string]any) error {
				if msg, _ := args["message"].(string); strings.TrimSpace(msg) == "" {
					return fmt.Errorf("commit message must not be blank")
				}
				return nil
			},
			Runner: cfg.runner(func(args map[string]any) string {
				var b strings.Builder
				if paths, ok := args["paths"].([]any); ok && len(paths) > 0 {
					b.WriteString("git add --")
					for _, p := range paths {
						if s, ok := p.(string); ok {
							b.WriteString(" " + shellQuote(s))
						}
					}
					b.WriteString(" && ")
				}
				msg, _ := args["message"].(string)
				b.WriteString("git commit -m " + shellQuote(msg))
				return b.String()
			}),
		},
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// runner builds a Runner that renders a git command line and executes it.
func (cfg Config) runner(build func(args map[string]any) string) tools.Runner {
	return tools.RunnerFunc(func(ctx context.Context, args map[string]any) (*models.ToolResult, error) {
		command := build(args)
		res, err := cfg.Executor.Run(ctx, sandbox.Request{
			Command: command,
			Dir:     cfg.Workspace,
			Limits:  models.ExecutionLimits{Timeout: cfg.Timeout},
		})
		if err != nil {
			if ctx.Err() != nil {
				return models.Fail(models.FailureCancelled, "git command cancelled"), nil
			}
			return models.Fail(models.FailureOSError, err.Error()), nil
		}
		if res.TimedOut {
			return models.Fail(models.FailureTimeout, fmt.Sprintf("git command timed out after %s", cfg.Timeout)), nil
		}
		if res.ExitCode != 0 {
			return models.Fail(models.FailureNonZeroExit,
				fmt.Sprintf("git exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))), nil
		}
		return models.Ok(map[string]any{
			"command": command,
			"output":  res.Stdout,
		}), nil
	})
}

// shellQuote single-quotes a value for sh, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
