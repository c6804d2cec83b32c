package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cinder-ai/cinder/internal/governance"
	"github.com/cinder-ai/cinder/internal/observability"
	"github.com/cinder-ai/cinder/internal/parser"
	"github.com/cinder-ai/cinder/internal/providers"
	"github.com/cinder-ai/cinder/internal/safety"
	"github.com/cinder-ai/cinder/internal/tools"
	"github.com/cinder-ai/cinder/pkg/models"
)

// Router picks an agent for an input, or declines.
type Router interface {
	Route(input string) *models.RouteDecision
	Suggestions(input string) []models.RouteSuggestion
}

// AgentRunner invokes a named agent and streams normalized chunks.
type AgentRunner interface {
	Invoke(ctx context.Context, agent string, task *models.AgentTask) (<-chan models.StreamingChunk, error)
}

// PlanFunc decides whether a request is complex enough to gate behind an
// approved plan, and if so renders the plan.
type PlanFunc func(ctx context.Context, request string) (plan string, complex bool, err error)

// LoopConfig tunes one loop instance.
type LoopConfig struct {
	// MaxIterations bounds tool iterations per user turn (default 10).
	MaxIterations int

	// ContextTurns bounds how much history enters each request
	// (default 40 turns).
	ContextTurns int

	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64

	// TopP and TopK pass through to the backend when positive.
	TopP float64
	TopK int

	// ShowProviderBanner emits a one-line backend identifier per turn.
	ShowProviderBanner bool

	// SkipRouting forces direct iteration even when a router is wired.
	// Delegated agents run with this set to avoid re-routing.
	SkipRouting bool

	// SurfaceGovernance relays HIGH/CRITICAL governance reports to the
	// user.
	SurfaceGovernance bool
}

// LoopOptions wires a loop's collaborators. Provider, Registry, and
// Scheduler are required; the rest degrade gracefully when nil.
type LoopOptions struct {
	Provider  providers.Provider
	Registry  *tools.Registry
	Scheduler *Scheduler
	History   *History
	Logger    *observability.Logger
	Metrics   *observability.Metrics

	// Validator receives allow-always grants for shell commands.
	Validator *safety.Validator

	Router     Router
	Runner     AgentRunner
	Governance governance.Hook
	Plan       PlanFunc
	Approval   ApprovalCallback

	// Capabilities restricts which tools this loop may execute. Nil
	// means unrestricted.
	Capabilities models.CapabilitySet

	Config LoopConfig
}

// Loop orchestrates stream → parse → execute → feed-back for one session.
type Loop struct {
	provider   providers.Provider
	registry   *tools.Registry
	scheduler  *Scheduler
	parser     *parser.Parser
	history    *History
	logger     *observability.Logger
	metrics    *observability.Metrics
	validator  *safety.Validator
	router     Router
	runner     AgentRunner
	governance governance.Hook
	plan       PlanFunc
	approve    ApprovalCallback
	caps       models.CapabilitySet
	config     LoopConfig

	// approvedTools remembers allow-always grants for this session.
	approvedTools map[string]bool
}

// NewLoop validates wiring and builds a loop.
func NewLoop(opts LoopOptions) (*Loop, error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Registry == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("loop requires a tool registry and scheduler")
	}
	if opts.History == nil {
		opts.History = NewHistory()
	}
	if opts.Config.MaxIterations <= 0 {
		opts.Config.MaxIterations = 10
	}
	if opts.Config.ContextTurns <= 0 {
		opts.Config.ContextTurns = 40
	}

	return &Loop{
		provider:      opts.Provider,
		registry:      opts.Registry,
		scheduler:     opts.Scheduler,
		parser:        parser.New(opts.Registry.List()),
		history:       opts.History,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		validator:     opts.Validator,
		router:        opts.Router,
		runner:        opts.Runner,
		governance:    opts.Governance,
		plan:          opts.Plan,
		approve:       opts.Approval,
		caps:          opts.Capabilities,
		config:        opts.Config,
		approvedTools: map[string]bool{},
	}, nil
}

// History exposes the session log for REPL commands.
func (l *Loop) History() *History { return l.history }

// Run processes one user message and streams chunks until the turn
// completes, fails, or is cancelled.
func (l *Loop) Run(ctx context.Context, message string) (<-chan models.StreamingChunk, error) {
	task, err := models.NewAgentTask(message)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamingChunk)
	go func() {
		defer close(out)
		l.run(ctx, task, out)
	}()
	return out, nil
}

// emitGrace bounds how long a cancelled turn waits for the consumer to
// take its final chunks (finished-call results, the cancellation notice).
const emitGrace = 200 * time.Millisecond

func (l *Loop) run(ctx context.Context, task *models.AgentTask, out chan<- models.StreamingChunk) {
	emit := func(chunk models.StreamingChunk) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
		}
		// A draining consumer still receives the wrap-up after
		// cancellation; an abandoned channel is dropped after the grace
		// window.
		select {
		case out <- chunk:
			return true
		case <-time.After(emitGrace):
			return false
		}
	}

	if l.config.ShowProviderBanner {
		emit(models.StatusChunk(fmt.Sprintf("⚙ provider: %s", l.provider.Name())))
	}

	l.history.Append(RoleUser, task.Request)

	if l.governance != nil {
		report := l.governance.Observe(ctx, governance.Action{Kind: "user_request", Payload: task.Request})
		if l.config.SurfaceGovernance && report.Surface() {
			emit(models.StreamingChunk{Kind: models.ChunkError,
				Payload: fmt.Sprintf("⚠ governance (%s): %s", report.Severity, report.Summary)})
		}
	}

	if !l.config.SkipRouting && l.router != nil && l.runner != nil {
		if decision := l.router.Route(task.Request); decision != nil {
			l.delegate(ctx, decision, task, emit)
			return
		}
	}

	if l.plan != nil {
		if !l.gatePlan(ctx, task, emit) {
			return
		}
	}

	l.iterate(ctx, task, emit)
}

// delegate hands the turn to a routed agent and relays its chunks.
func (l *Loop) delegate(ctx context.Context, decision *models.RouteDecision, task *models.AgentTask, emit func(models.StreamingChunk) bool) {
	emit(models.StatusChunk(fmt.Sprintf("→ %s (%.0f%% confidence)", decision.Agent, decision.Confidence*100)))

	stream, err := l.runner.Invoke(observability.AddAgent(ctx, decision.Agent), decision.Agent, task)
	if err != nil {
		emit(models.ErrorChunk(fmt.Sprintf("agent %s unavailable: %v", decision.Agent, err)))
		return
	}
	for chunk := range stream {
		if !emit(chunk) {
			return
		}
	}
	l.history.Append(RoleAssistant, "[Response completed]")
}

// gatePlan runs the optional plan-approval step. Returns false when the
// turn should stop.
func (l *Loop) gatePlan(ctx context.Context, task *models.AgentTask, emit func(models.StreamingChunk) bool) bool {
	plan, complex, err := l.plan(ctx, task.Request)
	if err != nil || !complex {
		return true
	}

	emit(models.StreamingChunk{Kind: models.ChunkResult, Payload: plan})
	if l.approve == nil {
		return true
	}
	if l.approve(ctx, ApprovalRequest{Tool: "plan", Command: plan}) == Deny {
		emit(models.ErrorChunk("plan rejected, stopping"))
		l.history.Append(RoleAssistant, "[Plan rejected]")
		return false
	}
	return true
}

// iterate is the agentic core: stream, parse, execute, feed back.
func (l *Loop) iterate(ctx context.Context, task *models.AgentTask, emit func(models.StreamingChunk) bool) {
	signature := &models.ThoughtSignature{
		SignatureID:   uuid.NewString(),
		ThinkingLevel: models.ThinkingMedium,
		CreatedAt:     time.Now(),
	}

	iterations := 0
	defer func() {
		if l.metrics != nil {
			l.metrics.LoopIterations.Observe(float64(iterations))
		}
	}()

	for iter := 1; iter <= l.config.MaxIterations; iter++ {
		iterations = iter
		if ctx.Err() != nil {
			emit(models.ErrorChunk("cancelled"))
			l.history.Append(RoleAssistant, "[Cancelled]")
			return
		}

		text, ok := l.streamOnce(ctx, iter, emit)
		if !ok {
			return
		}

		l.history.Append(RoleAssistant, text)

		calls := l.parser.Extract(text)
		if len(calls) == 0 {
			break
		}
		signature.NextAction = fmt.Sprintf("execute %d tool call(s)", len(calls))

		invocations, summary, ok := l.executeCalls(ctx, calls, emit)
		for _, inv := range invocations {
			emit(resultLine(inv))
			if inv.Outcome.Success {
				signature.Insights = append(signature.Insights, fmt.Sprintf("%s succeeded", inv.ToolName))
			}
		}
		if !ok {
			return
		}
		if summary.ParallelismFactor > 1 {
			emit(models.StatusChunk(fmt.Sprintf("⚡ %d tools in %d wave(s), %.1f× parallel (%.0f ms)",
				len(calls), summary.WaveCount, summary.ParallelismFactor,
				float64(summary.Duration.Milliseconds()))))
		}

		feedback := composeFeedback(invocations)
		l.history.Append(RoleTool, feedback)

		if iter == l.config.MaxIterations {
			emit(models.ErrorChunk(ErrMaxIterations.Error()))
			if l.logger != nil {
				l.logger.Warn(ctx, "iteration budget exhausted", "iterations", iter)
			}
			break
		}
	}

	signature.ReasoningSummary = fmt.Sprintf("completed in %d iteration(s)", iterations)
	signature.NextAction = "conclude"
	l.history.Append(RoleAssistant, "[Response completed]")
}

// streamOnce opens one LLM stream and returns the accumulated raw text.
// Visible text flows through the marker filter as it arrives.
func (l *Loop) streamOnce(ctx context.Context, iter int, emit func(models.StreamingChunk) bool) (string, bool) {
	req := &providers.Request{
		Model:       l.config.Model,
		System:      l.systemPrompt(),
		Messages:    l.contextMessages(),
		Tools:       l.registry.SchemasForLLM(),
		MaxTokens:   l.config.MaxTokens,
		Temperature: l.config.Temperature,
		TopP:        l.config.TopP,
		TopK:        l.config.TopK,
	}

	started := time.Now()
	stream, err := l.provider.Stream(ctx, req)
	if err != nil {
		l.failTurn(ctx, emit, &LoopError{Phase: PhaseInit, Iteration: iter, Cause: err})
		return "", false
	}

	var full strings.Builder
	filter := &markerFilter{}
	var inputTokens, outputTokens int

	for chunk := range stream {
		if chunk.Err != nil {
			l.failTurn(ctx, emit, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: chunk.Err})
			return "", false
		}
		if chunk.Thinking != "" {
			if !emit(models.StreamingChunk{Kind: models.ChunkThinking, Payload: chunk.Thinking}) {
				return "", false
			}
		}
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			if visible := filter.Feed(chunk.Text); visible != "" {
				if !emit(models.TextChunk(visible)) {
					return "", false
				}
			}
		}
		if chunk.Done {
			inputTokens, outputTokens = chunk.InputTokens, chunk.OutputTokens
		}
	}
	if tail := filter.Flush(); tail != "" {
		emit(models.TextChunk(tail))
	}

	if l.metrics != nil {
		l.metrics.RecordLLMRequest(l.provider.Name(), l.config.Model, "success",
			time.Since(started).Seconds(), inputTokens, outputTokens)
	}
	return full.String(), true
}

// executeCalls enforces capabilities and approval, then schedules what
// remains. Results come back in submission order with denied calls
// holding validation failures.
func (l *Loop) executeCalls(ctx context.Context, calls []parser.Call, emit func(models.StreamingChunk) bool) ([]*models.ToolInvocation, BatchSummary, bool) {
	toolCalls := make([]models.ToolCall, len(calls))
	denied := make([]*models.ToolResult, len(calls))

	for i, call := range calls {
		toolCalls[i] = models.ToolCall{
			Name:      call.Name,
			Arguments: call.Arguments,
			CallID:    fmt.Sprintf("call_%d", i+1),
		}
		if res := l.screen(ctx, call); res != nil {
			denied[i] = res
		}
	}

	var runnable []models.ToolCall
	for i := range toolCalls {
		if denied[i] == nil {
			runnable = append(runnable, toolCalls[i])
		}
	}

	executed, summary := l.scheduler.Execute(ctx, runnable)

	out := make([]*models.ToolInvocation, len(calls))
	next := 0
	now := time.Now()
	for i := range toolCalls {
		if denied[i] != nil {
			masked := Mask(denied[i], MaskOptions{})
			out[i] = &models.ToolInvocation{
				ToolName:         toolCalls[i].Name,
				CallID:           toolCalls[i].CallID,
				StartedAt:        now,
				FinishedAt:       now,
				Outcome:          denied[i],
				MaskedContent:    masked.Content,
				CompressionRatio: masked.CompressionRatio,
			}
			continue
		}
		out[i] = executed[next]
		next++
	}

	// Calls that finished before cancellation are still reported as-is;
	// the scheduler marks the rest cancelled.
	if ctx.Err() != nil {
		emit(models.ErrorChunk("cancelled during tool execution"))
		l.history.Append(RoleAssistant, "[Cancelled]")
		return out, summary, false
	}
	return out, summary, true
}

// screen applies capability and approval policy to one call before it can
// touch the scheduler. A non-nil result blocks execution.
func (l *Loop) screen(ctx context.Context, call parser.Call) *models.ToolResult {
	spec, ok := l.registry.Get(call.Name)
	if !ok {
		// Unknown tools flow through to the invoker, which reports the
		// available list.
		return nil
	}

	if need := requiredCapability(spec); need != "" && l.caps != nil && !l.caps.Has(need) {
		return models.Fail(models.FailureValidation,
			fmt.Sprintf("agent lacks the %s capability required by %s", need, call.Name))
	}

	if !spec.SideEffecting {
		return nil
	}

	req := ApprovalRequest{Tool: call.Name, Arguments: argsPreview(call.Arguments)}
	if cmd, ok := req.Arguments["command"].(string); ok {
		req.Command = cmd
	}

	// Warned commands escalate past any standing grant when the policy
	// asks for it.
	warned := false
	if req.Command != "" && l.validator != nil {
		if verdict := l.validator.Validate(req.Command); verdict.Kind == safety.VerdictWithWarning {
			req.Warning = verdict.Reason
			warned = l.validator.WarnRequiresApproval()
		}
	}

	if l.approve == nil {
		if warned {
			return models.Fail(models.FailureValidation,
				fmt.Sprintf("%s requires approval: %s", call.Name, req.Warning))
		}
		return nil
	}

	// allow_always covers the tool, or the tool plus command base for
	// command-carrying calls, so one grant never blankets every shell
	// command.
	memo := call.Name
	if base := commandBase(req.Command); base != "" {
		memo = call.Name + ":" + base
	}
	if l.approvedTools[memo] && !warned {
		return nil
	}

	switch l.approve(ctx, req) {
	case Deny:
		return models.Fail(models.FailureValidation, fmt.Sprintf("%s denied by user", call.Name))
	case AllowAlways:
		l.approvedTools[memo] = true
		if l.validator != nil {
			if base := commandBase(req.Command); base != "" {
				l.validator.AllowForSession(base)
			}
		}
	}
	return nil
}

// commandBase returns the first field of a shell command, or "".
func commandBase(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (l *Loop) failTurn(ctx context.Context, emit func(models.StreamingChunk) bool, err *LoopError) {
	if l.logger != nil {
		l.logger.Error(ctx, "agent loop error", "phase", string(err.Phase), "iteration", err.Iteration, "error", err.Cause.Error())
	}
	if l.metrics != nil {
		l.metrics.RecordError("loop", string(err.Phase))
	}
	emit(models.ErrorChunk(err.Error()))
	l.history.Append(RoleAssistant, "[Turn failed: "+err.Cause.Error()+"]")
}

// contextMessages converts recent history into provider messages. Tool
// turns travel as user-role text per the marker protocol.
func (l *Loop) contextMessages() []providers.Message {
	turns := l.history.LastK(l.config.ContextTurns)
	out := make([]providers.Message, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, providers.Message{Role: role, Content: turn.Content})
	}
	return out
}

func (l *Loop) systemPrompt() string {
	var b strings.Builder
	if l.config.SystemPrompt != "" {
		b.WriteString(l.config.SystemPrompt)
	} else {
		b.WriteString("You are a capable coding assistant operating inside a sandboxed workspace.")
	}
	b.WriteString("\n\nYou can call tools by emitting markers of the form " +
		"[TOOL_CALL:<name>:<json-arguments>] anywhere in your reply. " +
		"Available tools:\n")
	for _, schema := range l.registry.SchemasForLLM() {
		fmt.Fprintf(&b, "- %s: %s\n", schema.Name, schema.Description)
	}
	b.WriteString("\nAfter tool results arrive, continue the task or summarize the outcome.")
	return b.String()
}

// resultLine renders the concise per-call line streamed to the user.
func resultLine(inv *models.ToolInvocation) models.StreamingChunk {
	if inv.Outcome.Success {
		return models.StreamingChunk{Kind: models.ChunkResult,
			Payload: fmt.Sprintf("✓ %s (%.1fs)", inv.ToolName, inv.Duration().Seconds())}
	}
	return models.StreamingChunk{Kind: models.ChunkResult,
		Payload: fmt.Sprintf("❌ %s: %s", inv.ToolName, inv.Outcome.Error)}
}

// composeFeedback builds the next prompt from masked tool output.
func composeFeedback(invocations []*models.ToolInvocation) string {
	var b strings.Builder
	b.WriteString("Tool execution results:\n")
	for _, inv := range invocations {
		fmt.Fprintf(&b, "[%s] %s: %s\n", inv.CallID, inv.ToolName, inv.MaskedContent)
	}
	b.WriteString("\nContinue or summarize.")
	return b.String()
}

func argsPreview(raw []byte) map[string]any {
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

// requiredCapability maps a tool spec onto the capability an agent must
// declare to use it. Read-only tools need none.
func requiredCapability(spec *tools.Spec) models.Capability {
	switch {
	case spec.Category == tools.CategoryShell:
		return models.CapBashExec
	case spec.Category == tools.CategoryNetwork:
		return models.CapNetwork
	case spec.Category == tools.CategoryGit && spec.SideEffecting:
		return models.CapBashExec
	case spec.SideEffecting:
		return models.CapFileEdit
	default:
		return ""
	}
}
