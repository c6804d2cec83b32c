package agents

import (
	"context"
	"fmt"

	"github.com/cinder-ai/cinder/internal/agent"
	"github.com/cinder-ai/cinder/pkg/models"
)

// loopAgent adapts an agent.Loop to the manager contract. Loop chunks
// are already in the streaming taxonomy; Normalize passes them through.
type loopAgent struct {
	loop *agent.Loop
}

func (a *loopAgent) Run(ctx context.Context, task *models.AgentTask) (<-chan any, error) {
	stream, err := a.loop.Run(ctx, task.Request)
	if err != nil {
		return nil, err
	}
	out := make(chan any)
	go func() {
		defer close(out)
		for chunk := range stream {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// loopConstructor builds a capability-restricted loop with the given
// persona prompt. Each agent keeps its own history.
func loopConstructor(persona string, caps models.CapabilitySet) Constructor {
	return func(deps Deps) (Agent, error) {
		if deps.Provider == nil {
			return nil, fmt.Errorf("no LLM provider wired")
		}
		if deps.Registry == nil || deps.Scheduler == nil {
			return nil, fmt.Errorf("tool registry and scheduler are required")
		}

		cfg := deps.Loop
		cfg.SkipRouting = true
		cfg.SystemPrompt = persona

		loop, err := agent.NewLoop(agent.LoopOptions{
			Provider:     deps.Provider,
			Registry:     deps.Registry,
			Scheduler:    deps.Scheduler,
			Logger:       deps.Logger,
			Metrics:      deps.Metrics,
			Validator:    deps.Validator,
			Governance:   deps.Governance,
			Approval:     deps.Approval,
			Capabilities: caps,
			Config:       cfg,
		})
		if err != nil {
			return nil, err
		}
		return &loopAgent{loop: loop}, nil
	}
}

// RegisterDefaults installs the builtin agent set.
func RegisterDefaults(m *Manager) error {
	defaults := []*Descriptor{
		{
			Name:        "executor",
			Role:        "implementation",
			Description: "Writes files, runs commands, and carries out concrete coding tasks.",
			Capabilities: models.NewCapabilitySet(
				models.CapReadOnly, models.CapFileEdit, models.CapBashExec, models.CapNetwork),
			Construct: loopConstructor(
				"You are an execution agent. Carry out the requested change directly: "+
					"inspect the workspace, edit files, and run commands as needed. "+
					"Prefer small verifiable steps and report what you did.",
				models.NewCapabilitySet(
					models.CapReadOnly, models.CapFileEdit, models.CapBashExec, models.CapNetwork)),
		},
		{
			Name:         "reviewer",
			Role:         "code review",
			Description:  "Reads code and reports problems without modifying anything.",
			Capabilities: models.NewCapabilitySet(models.CapReadOnly),
			Construct: loopConstructor(
				"You are a code reviewer. Read the relevant files and report defects, "+
					"risks, and style issues. You never modify the workspace.",
				models.NewCapabilitySet(models.CapReadOnly)),
		},
		{
			Name:         "architect",
			Role:         "design",
			Description:  "Produces designs and plans; reads code but changes nothing.",
			Capabilities: models.NewCapabilitySet(models.CapReadOnly, models.CapDesign),
			Construct: loopConstructor(
				"You are a software architect. Study the existing structure and produce "+
					"a concrete design or plan. You never modify the workspace.",
				models.NewCapabilitySet(models.CapReadOnly, models.CapDesign)),
		},
		{
			Name:         "researcher",
			Role:         "research",
			Description:  "Gathers information from the workspace and the network.",
			Capabilities: models.NewCapabilitySet(models.CapReadOnly, models.CapNetwork),
			Construct: loopConstructor(
				"You are a research agent. Gather the requested information from the "+
					"workspace and the web, cite what you found, and summarize it.",
				models.NewCapabilitySet(models.CapReadOnly, models.CapNetwork)),
		},
	}
	for _, desc := range defaults {
		if err := m.Register(desc); err != nil {
			return err
		}
	}
	return nil
}
