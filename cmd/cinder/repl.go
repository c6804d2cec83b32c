package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/cinder-ai/cinder/internal/agent"
	"github.com/cinder-ai/cinder/internal/agents"
	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/pkg/models"
)

const replBanner = `cinder - agentic coding assistant
Type a request, or /help for commands.`

const replHelp = `Commands:
  /help         show this help
  /clear        reset the conversation
  /agents       list available agents
  /permissions  show command permissions for this session
  /metrics      dump runtime metrics
  /quit         exit`

// runREPL drives the interactive session. Ctrl-C cancels the in-flight
// turn; a second Ctrl-C at the prompt exits.
func runREPL(ctx context.Context, rt *runtime) error {
	stdin := bufio.NewScanner(os.Stdin)
	approval := promptApproval(stdin)

	loop, manager, err := rt.newLoop(approval)
	if err != nil {
		return err
	}

	fmt.Println(replBanner)
	for {
		fmt.Print("\n> ")
		if !stdin.Scan() {
			fmt.Println()
			return stdin.Err()
		}
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			switch done := handleSlash(rt, manager, line); done {
			case slashQuit:
				return nil
			case slashClear:
				if loop, manager, err = rt.newLoop(approval); err != nil {
					return err
				}
			}
			continue
		}

		runTurn(ctx, loop, line)
	}
}

// runOnce handles `cinder run <message>`: one turn, no prompt. Approval
// is automatic; the command allow-list still applies.
func runOnce(ctx context.Context, rt *runtime, message string) error {
	loop, _, err := rt.newLoop(agent.AutoApprove)
	if err != nil {
		return err
	}
	if failed := runTurn(ctx, loop, message); failed {
		return fmt.Errorf("turn finished with errors")
	}
	return nil
}

// runTurn streams one message and renders its chunks. Returns whether
// any error chunk was emitted.
func runTurn(parent context.Context, loop *agent.Loop, message string) bool {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		select {
		case <-interrupt:
			cancel()
		case <-ctx.Done():
		}
	}()

	stream, err := loop.Run(ctx, message)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return true
	}

	failed := false
	for chunk := range stream {
		if chunk.Kind == models.ChunkError {
			failed = true
		}
		render(chunk)
	}
	fmt.Println()
	return failed
}

func render(chunk models.StreamingChunk) {
	switch chunk.Kind {
	case models.ChunkText:
		fmt.Print(chunk.Payload)
	case models.ChunkThinking:
		fmt.Printf("\033[2m%s\033[0m", chunk.Payload)
	case models.ChunkError:
		fmt.Printf("\n%s\n", chunk.Payload)
	default:
		// status, command, executing, result
		fmt.Printf("\n%s", strings.TrimRight(chunk.Payload, "\n"))
	}
}

// promptApproval asks the user before a side-effecting tool runs.
func promptApproval(stdin *bufio.Scanner) agent.ApprovalCallback {
	return func(_ context.Context, req agent.ApprovalRequest) agent.ApprovalDecision {
		subject := req.Tool
		if req.Command != "" {
			subject = fmt.Sprintf("%s: %s", req.Tool, req.Command)
		}
		fmt.Printf("\nAllow %s? [y]es / [a]lways / [N]o: ", subject)
		if !stdin.Scan() {
			return agent.Deny
		}
		switch strings.ToLower(strings.TrimSpace(stdin.Text())) {
		case "y", "yes":
			return agent.AllowOnce
		case "a", "always":
			return agent.AllowAlways
		default:
			return agent.Deny
		}
	}
}

type slashResult int

const (
	slashHandled slashResult = iota
	slashQuit
	slashClear
)

func handleSlash(rt *runtime, manager *agents.Manager, line string) slashResult {
	switch strings.ToLower(strings.Fields(line)[0]) {
	case "/quit", "/exit":
		return slashQuit
	case "/clear":
		fmt.Println("Conversation cleared.")
		return slashClear
	case "/help":
		fmt.Println(replHelp)
	case "/agents":
		for _, desc := range manager.Descriptors() {
			fmt.Printf("  %-12s %-14s %s\n", desc.Name, desc.Role, desc.Description)
			caps := make([]string, 0, len(desc.Capabilities))
			for _, c := range desc.Capabilities.List() {
				caps = append(caps, string(c))
			}
			fmt.Printf("  %-12s capabilities: %s\n", "", strings.Join(caps, ", "))
		}
	case "/permissions":
		printPermissions(rt)
	case "/metrics":
		fmt.Println(observability.Snapshot())
	default:
		fmt.Printf("Unknown command %q. Try /help.\n", line)
	}
	return slashHandled
}

func printPermissions(rt *runtime) {
	if rt.validator.AuditMode() {
		fmt.Println("AUDIT MODE: the command allow-list is disabled for this session.")
		return
	}
	fmt.Println("Strict allow-listing is active.")
	if rt.cfg.Approval.SideEffectingAutoDeny {
		fmt.Println("Side-effecting tools are auto-denied by config.")
	}
	session := rt.validator.SessionAllowed()
	if len(session) == 0 {
		fmt.Println("No session grants yet; approve a command with 'always' to add one.")
		return
	}
	fmt.Println("Session grants:", strings.Join(session, ", "))
}
