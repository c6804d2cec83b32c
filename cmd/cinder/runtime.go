package main

import (
	"context"
	"os"

	"github.com/cinder-ai/cinder/internal/agent"
	"github.com/cinder-ai/cinder/internal/agents"
	"github.com/cinder-ai/cinder/internal/config"
	"github.com/cinder-ai/cinder/internal/governance"
	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/internal/providers"
	"github.com/cinder-ai/cinder/internal/routing"
	"github.com/cinder-ai/cinder/internal/safety"
	"github.com/cinder-ai/cinder/internal/sandbox"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/internal/tools/files"
	"github.com/cinder-ai/cinder/internal/tools/gittool"
	"github.com/cinder-ai/cinder/internal/tools/shell"
	"github.com/cinder-ai/cinder/internal/tools/web"
)

// runtime holds every long-lived collaborator wired from config. Loops
// are built per session so each can carry its own approval callback.
type runtime struct {
	cfg       *config.Config
	logger    *observability.Logger
	metrics   *observability.Metrics
	validator *safety.Validator
	registry  *tools.Registry
	invoker   *agent.Invoker
	scheduler *agent.Scheduler
	provider  providers.Provider
	govern    governance.Hook
	router    *routing.Router
}

func buildRuntime(cfg *config.Config, err error) (*runtime, error) {
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	validator := safety.NewValidator(safety.Config{
		Audit:                cfg.Safety.Audit,
		WarnRequiresApproval: cfg.Safety.WarnRequiresApproval,
	})
	if cfg.Safety.Audit {
		logger.Warn(context.Background(), "audit mode enabled: command allow-list is OFF for this session")
	}

	executor := sandbox.NewExecutor(logger, cfg.ExecutionLimits())

	workspace, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	if err := files.Register(registry, files.Config{
		Workspace: workspace,
		Backups:   cfg.Backups.Enabled,
	}); err != nil {
		return nil, err
	}
	if err := shell.Register(registry, shell.Config{
		Validator:      validator,
		Executor:       executor,
		Workspace:      workspace,
		DefaultTimeout: cfg.DefaultToolTimeout(),
	}); err != nil {
		return nil, err
	}
	if err := gittool.Register(registry, gittool.Config{
		Executor:  executor,
		Workspace: workspace,
		Timeout:   cfg.DefaultToolTimeout(),
	}); err != nil {
		return nil, err
	}
	if err := web.Register(registry, web.Config{}); err != nil {
		return nil, err
	}

	invoker := agent.NewInvoker(registry, logger, metrics, agent.InvokerConfig{
		DefaultTimeout: cfg.DefaultToolTimeout(),
		LongTimeout:    cfg.LongToolTimeout(),
		Breaker:        cfg.BreakerSettings(),
	})
	scheduler := agent.NewScheduler(invoker, registry, logger, metrics, agent.SchedulerConfig{
		MaxParallel: cfg.Tools.MaxParallel,
	})

	provider, err := providers.New(cfg.ProviderOptions())
	if err != nil {
		return nil, err
	}

	var router *routing.Router
	if !cfg.Router.Disabled {
		router = routing.New(nil, nil, routing.Config{
			MinConfidence:      cfg.Router.MinConfidence,
			AmbiguityThreshold: cfg.Router.AmbiguityThreshold,
		})
	}

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		validator: validator,
		registry:  registry,
		invoker:   invoker,
		scheduler: scheduler,
		provider:  provider,
		govern:    governance.NewHeuristic(),
		router:    router,
	}, nil
}

// loopConfig is the shared base for the main loop and delegated agents.
func (rt *runtime) loopConfig() agent.LoopConfig {
	return agent.LoopConfig{
		MaxIterations:      rt.cfg.Tools.MaxIterations,
		Model:              rt.cfg.LLM.ModelName,
		MaxTokens:          rt.cfg.LLM.MaxOutputTokens,
		Temperature:        rt.cfg.LLM.Temperature,
		TopP:               rt.cfg.LLM.TopP,
		TopK:               rt.cfg.LLM.TopK,
		ShowProviderBanner: true,
		SkipRouting:        rt.cfg.Router.Disabled,
		SurfaceGovernance:  rt.cfg.Governance.SurfaceHighOrCritical,
	}
}

// newLoop builds the top-level loop plus the agent manager backing
// delegation, both sharing the given approval callback.
func (rt *runtime) newLoop(approval agent.ApprovalCallback) (*agent.Loop, *agents.Manager, error) {
	if rt.cfg.Approval.SideEffectingAutoDeny {
		approval = agent.AutoDeny
	}

	manager := agents.NewManager(agents.Deps{
		Provider:   rt.provider,
		Registry:   rt.registry,
		Scheduler:  rt.scheduler,
		Logger:     rt.logger,
		Metrics:    rt.metrics,
		Validator:  rt.validator,
		Governance: rt.govern,
		Approval:   approval,
		Loop:       rt.loopConfig(),
	})
	if err := agents.RegisterDefaults(manager); err != nil {
		return nil, nil, err
	}

	var router agent.Router
	if rt.router != nil {
		router = rt.router
	}

	loop, err := agent.NewLoop(agent.LoopOptions{
		Provider:   rt.provider,
		Registry:   rt.registry,
		Scheduler:  rt.scheduler,
		Logger:     rt.logger,
		Metrics:    rt.metrics,
		Validator:  rt.validator,
		Router:     router,
		Runner:     manager,
		Governance: rt.govern,
		Approval:   approval,
		Config:     rt.loopConfig(),
	})
	if err != nil {
		return nil, nil, err
	}
	return loop, manager, nil
}
