// Package engine implements the agent run loop: a state machine that
// sequences planning, streaming model calls, tool proposals, approval
// waits, tool execution, and post-run reflection. One Engine owns one
// conversation; at most one run is active at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/internal/approval"
	"github.com/arbiterlabs/arbiter/internal/events"
	"github.com/arbiterlabs/arbiter/internal/llm"
	"github.com/arbiterlabs/arbiter/internal/memory"
	"github.com/arbiterlabs/arbiter/internal/parse"
	"github.com/arbiterlabs/arbiter/internal/plan"
	"github.com/arbiterlabs/arbiter/internal/prompts"
	"github.com/arbiterlabs/arbiter/internal/reflection"
	"github.com/arbiterlabs/arbiter/internal/tools"
)

// ErrRunActive is returned when Run is called while a run is already in
// flight. Runs are rejected, not queued.
var ErrRunActive = errors.New("a run is already active")

// ErrNotAwaiting is returned by Approve and Reject when the loop is not
// suspended waiting for either kind of approval.
var ErrNotAwaiting = errors.New("no approval pending")

// cancellationNotice is appended to the in-flight assistant message
// when a run is cancelled mid-stream.
const cancellationNotice = "(run cancelled)"

// Config holds per-engine settings.
type Config struct {
	Model               string
	ApprovalMode        approval.Mode
	MaxToolCalls        int
	ToolTimeout         time.Duration
	SystemPrompt        string // empty uses the built-in prompt
	ReflectionThreshold float64
}

// Deps holds injected collaborators. Using a struct avoids a growing
// parameter list as the engine evolves.
type Deps struct {
	LLM    llm.Client
	Tools  *tools.Registry
	Memory *memory.Manager
	Bus    *events.Bus // nil disables event publishing
	Logger *slog.Logger
}

// Engine drives one conversation through the run-loop state machine.
type Engine struct {
	config Config
	deps   Deps
	parser *parse.Parser

	mu              sync.Mutex
	state           State
	messages        []llm.Message
	task            string
	runID           uuid.UUID
	runStarted      time.Time
	runCtx          context.Context
	cancelRun       context.CancelFunc
	cancelRequested bool
	toolCalls       int
	critiqueRounds  int
	blanketGranted  bool

	// plan execution bookkeeping
	plan        *plan.TaskPlan
	stepIndex   int
	stepStarted time.Time
	stepResults []reflection.StepResult

	// sections already emitted as standalone messages this model turn,
	// keyed by kind+text so re-parses of a growing prefix never emit a
	// section twice regardless of extraction order
	emittedSections map[string]bool
}

// New creates an engine. All collaborators are supplied here; the
// engine holds no global state.
func New(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	return &Engine{
		config: cfg,
		deps:   deps,
		parser: parse.New(deps.Logger),
		state:  idle(),
	}
}

// State returns a snapshot of the current run-loop state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Messages returns a copy of the conversation history.
func (e *Engine) Messages() []llm.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]llm.Message, len(e.messages))
	copy(out, e.messages)
	return out
}

// Run starts a run for the given task and drives the loop until it
// reaches a terminal state or suspends for approval. Returns
// ErrRunActive if a run is already in flight; model and tool failures
// surface through the failed state, not the return value.
func (e *Engine) Run(ctx context.Context, task string) error {
	e.mu.Lock()
	if e.state.Kind != StateIdle && !e.state.Kind.Terminal() {
		e.mu.Unlock()
		return ErrRunActive
	}

	id, _ := uuid.NewV7()
	e.runID = id
	e.runStarted = time.Now()
	e.task = task
	e.toolCalls = 0
	e.critiqueRounds = 0
	e.blanketGranted = false
	e.cancelRequested = false
	e.plan = nil
	e.stepIndex = 0
	e.stepResults = nil

	runCtx, cancel := context.WithCancel(ctx)
	e.runCtx = runCtx
	e.cancelRun = cancel

	e.refreshSystemPromptLocked()
	e.appendMessageLocked(llm.Message{Role: "user", Content: task})

	initial := awaitingModel()
	if needsPlanning(task) {
		initial = planning()
	}
	e.setStateLocked(initial)
	e.mu.Unlock()

	e.deps.Memory.Observe(memory.CategoryConversationContext, task, nil)
	e.publish(events.KindRunStart, map[string]any{
		"run_id":   id.String(),
		"task_len": len(task),
	})

	return e.loop(runCtx)
}

// Cancel requests cooperative cancellation of the active run. In-flight
// model and tool calls are aborted; the run settles into completed, not
// failed. A no-op when nothing is running.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.cancelRequested = true
	cancel := e.cancelRun
	suspended := e.state.Kind.Suspended()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if suspended {
		// No loop is running to observe the flag; settle directly.
		e.mu.Lock()
		e.appendMessageLocked(llm.Message{Role: "assistant", Content: cancellationNotice})
		e.setStateLocked(completed())
		e.mu.Unlock()
		e.finishRun()
	}
}

// Approve resumes a suspended loop: a pending tool proposal proceeds to
// execution, a pending plan proceeds to its first step. Under the
// per-thread approval mode the first tool approval also grants all
// later proposals in the same run.
func (e *Engine) Approve() error {
	e.mu.Lock()
	switch e.state.Kind {
	case StateAwaitingApproval:
		if e.config.ApprovalMode == approval.ModePerThread {
			e.blanketGranted = true
		}
		e.setStateLocked(executingTool(e.state.Proposal))
	case StateAwaitingPlanApproval:
		e.setStateLocked(executingPlan(e.plan, 0))
	default:
		e.mu.Unlock()
		return ErrNotAwaiting
	}
	ctx := e.runCtx
	e.mu.Unlock()

	e.publish(events.KindApprovalResolved, map[string]any{
		"run_id": e.runID.String(), "approved": true,
	})
	return e.loop(ctx)
}

// Reject resumes a suspended loop negatively: a rejected tool proposal
// completes the run with no tool side effects; a rejected plan falls
// back to direct execution without one.
func (e *Engine) Reject() error {
	e.mu.Lock()
	switch e.state.Kind {
	case StateAwaitingApproval:
		e.setStateLocked(completed())
	case StateAwaitingPlanApproval:
		e.plan = nil
		e.setStateLocked(awaitingModel())
	default:
		e.mu.Unlock()
		return ErrNotAwaiting
	}
	ctx := e.runCtx
	e.mu.Unlock()

	e.publish(events.KindApprovalResolved, map[string]any{
		"run_id": e.runID.String(), "approved": false,
	})
	return e.loop(ctx)
}

// loop evaluates the current state and performs its action until the
// run terminates or suspends.
func (e *Engine) loop(ctx context.Context) error {
	for {
		e.mu.Lock()
		st := e.state
		e.mu.Unlock()

		switch st.Kind {
		case StatePlanning:
			e.stepPlanning(ctx)
		case StateAwaitingModel:
			e.stepModel(ctx)
		case StateToolProposed:
			e.stepProposal(st.Proposal)
		case StateExecutingTool:
			e.stepTool(ctx, st.Proposal)
		case StateExecutingPlan:
			e.stepPlanAdvance(st)
		case StateReflecting:
			e.stepReflect(ctx, st.Result)
		case StateAwaitingApproval, StateAwaitingPlanApproval:
			e.publish(events.KindApprovalRequested, map[string]any{
				"run_id": e.runID.String(),
			})
			return nil
		case StateCompleted, StateFailed:
			e.finishRun()
			return nil
		default:
			return fmt.Errorf("run loop reached unexpected state %s", st.Kind)
		}
	}
}

// finishRun makes deferred memory durable and announces the terminal
// state. A write-back failure is surfaced as a log warning, not a run
// failure; the answer already exists.
func (e *Engine) finishRun() {
	if err := e.deps.Memory.Flush(); err != nil {
		e.deps.Logger.Warn("memory write-back failed", "error", err)
	}

	e.mu.Lock()
	st := e.state
	elapsed := time.Since(e.runStarted)
	calls := e.toolCalls
	e.mu.Unlock()

	e.publish(events.KindRunComplete, map[string]any{
		"run_id":     e.runID.String(),
		"state":      st.Kind.String(),
		"tool_calls": calls,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// stepPlanning makes one model call to decompose the task. An
// unparsable plan is not an error: the task is treated as simple and
// the loop proceeds straight to the model.
func (e *Engine) stepPlanning(ctx context.Context) {
	prompt := prompts.PlanPrompt(e.toolList(), e.task)
	resp, err := e.deps.LLM.ChatStream(ctx, e.config.Model,
		[]llm.Message{{Role: "user", Content: prompt}}, nil, nil)
	if err != nil {
		e.modelCallFailed(err, -1)
		return
	}

	p := plan.Parse(resp.Message.Content, e.task, e.deps.Logger)

	e.mu.Lock()
	defer e.mu.Unlock()
	if p == nil {
		e.setStateLocked(awaitingModel())
		return
	}
	e.plan = p
	e.appendMessageLocked(llm.Message{Role: "assistant", Content: p.Summary()})
	e.setStateLocked(awaitingPlanApproval(p))
}

// stepModel issues one streaming model call over the full history and
// routes the parsed outcome: tool proposal, critique-driven retry, plan
// step advance, or completion.
func (e *Engine) stepModel(ctx context.Context) {
	e.mu.Lock()
	history := make([]llm.Message, len(e.messages))
	copy(history, e.messages)
	placeholderIdx := len(e.messages)
	e.messages = append(e.messages, llm.Message{Role: "assistant", Streaming: true})
	e.emittedSections = make(map[string]bool)
	e.mu.Unlock()

	var raw strings.Builder
	var signal *llm.ToolCall
	callback := func(ev llm.StreamEvent) {
		switch ev.Kind {
		case llm.KindToken:
			raw.WriteString(ev.Token)
			res := e.parser.Parse(raw.String(), signal)
			placeholderIdx = e.applyStreamUpdate(placeholderIdx, res)
		case llm.KindToolCallStart:
			if signal == nil {
				signal = ev.ToolCall
			}
		}
	}

	_, err := e.deps.LLM.ChatStream(ctx, e.config.Model, history, e.deps.Tools.List(), callback)
	if err != nil {
		e.modelCallFailed(err, placeholderIdx)
		return
	}

	final := e.parser.Parse(raw.String(), signal)
	placeholderIdx = e.applyStreamUpdate(placeholderIdx, final)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.messages[placeholderIdx].Streaming = false
	e.messages[placeholderIdx].Content = final.DisplayText

	if final.Proposal != nil {
		e.setStateLocked(toolProposed(final.Proposal))
		return
	}

	if final.Critique == parse.CritiqueContinue && e.critiqueRounds < e.config.MaxToolCalls {
		// The model says it missed or misused a tool; go around again,
		// bounded by the per-run tool-call ceiling.
		e.critiqueRounds++
		e.setStateLocked(awaitingModel())
		return
	}

	if e.plan != nil && e.stepIndex < len(e.plan.Steps) {
		e.recordStepLocked(true)
		e.setStateLocked(executingPlan(e.plan, e.stepIndex))
		return
	}

	e.setStateLocked(completed())
}

// modelCallFailed distinguishes cancellation (settles to completed with
// a notice) from transport failure (fails the run). placeholderIdx < 0
// means no streaming placeholder exists for this call.
func (e *Engine) modelCallFailed(err error, placeholderIdx int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelRequested || errors.Is(err, context.Canceled) {
		if placeholderIdx >= 0 {
			m := &e.messages[placeholderIdx]
			m.Streaming = false
			if m.Content == "" {
				m.Content = cancellationNotice
			} else {
				m.Content += "\n\n" + cancellationNotice
			}
		} else {
			e.appendMessageLocked(llm.Message{Role: "assistant", Content: cancellationNotice})
		}
		e.setStateLocked(completed())
		return
	}

	e.deps.Logger.Error("model call failed", "error", err)
	e.setStateLocked(failed(fmt.Sprintf("model call failed: %v", err)))
}

// applyStreamUpdate emits any newly extracted sections as standalone
// assistant messages (inserted before the streaming placeholder) and
// refreshes the placeholder's visible text. Returns the placeholder's
// possibly shifted index.
func (e *Engine) applyStreamUpdate(placeholderIdx int, res parse.Result) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range res.Sections {
		key := string(s.Kind) + "\x00" + s.Text
		if e.emittedSections[key] {
			continue
		}
		e.emittedSections[key] = true

		msg := llm.Message{Role: "assistant", Content: fmt.Sprintf("[%s] %s", s.Kind, s.Text)}
		e.messages = append(e.messages[:placeholderIdx],
			append([]llm.Message{msg}, e.messages[placeholderIdx:]...)...)
		placeholderIdx++
		e.publishMessage(msg)
	}

	e.messages[placeholderIdx].Content = res.DisplayText
	return placeholderIdx
}

// stepProposal consults the approval engine and either suspends or
// proceeds straight to execution.
func (e *Engine) stepProposal(prop *parse.ToolProposal) {
	var auto bool
	if t := e.deps.Tools.Get(prop.ToolName); t != nil {
		auto = t.AutoApprove
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	need := approval.NeedsApproval(
		approval.Proposal{ToolName: prop.ToolName, AutoApprove: auto},
		e.toolCalls,
		approval.Config{
			Mode:               e.config.ApprovalMode,
			MaxToolCallsPerRun: e.config.MaxToolCalls,
			BlanketGranted:     e.blanketGranted,
		},
	)
	if need {
		e.setStateLocked(awaitingApproval(prop))
		return
	}
	e.setStateLocked(executingTool(prop))
}

// stepTool invokes the proposed tool under a caller-side timeout.
// Success appends a tool-role message and returns to the model; failure
// fails the run while leaving the history intact for inspection.
func (e *Engine) stepTool(ctx context.Context, prop *parse.ToolProposal) {
	e.mu.Lock()
	e.toolCalls++
	e.mu.Unlock()

	e.publish(events.KindToolCall, map[string]any{
		"run_id": e.runID.String(), "tool": prop.ToolName,
	})

	started := time.Now()
	toolCtx, cancel := context.WithTimeout(ctx, e.config.ToolTimeout)
	out, err := e.deps.Tools.Execute(toolCtx, prop.ToolName, prop.Input)
	cancel()

	e.publish(events.KindToolDone, map[string]any{
		"run_id":      e.runID.String(),
		"tool":        prop.ToolName,
		"ok":          err == nil,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		if e.cancelRequested {
			e.appendMessageLocked(llm.Message{Role: "assistant", Content: cancellationNotice})
			e.setStateLocked(completed())
			return
		}
		e.deps.Logger.Error("tool execution failed", "tool", prop.ToolName, "error", err)
		e.setStateLocked(failed(err.Error()))
		return
	}

	e.appendMessageLocked(llm.Message{Role: "tool", Content: out})
	e.setStateLocked(awaitingModel())
}

// stepPlanAdvance frames the next plan step as a model turn, or hands a
// fully executed plan to reflection.
func (e *Engine) stepPlanAdvance(st State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st.StepIndex >= len(st.Plan.Steps) {
		result := reflection.Summarize(st.Plan.Task, e.stepResults, e.runStarted)
		e.setStateLocked(reflecting(&result))
		return
	}

	step := st.Plan.Steps[st.StepIndex]
	e.stepStarted = time.Now()
	e.appendMessageLocked(llm.Message{
		Role:    "user",
		Content: fmt.Sprintf("Step %d of %d: %s", st.StepIndex+1, len(st.Plan.Steps), step.Description),
	})
	e.setStateLocked(awaitingModel())
}

// recordStepLocked logs the outcome of the current plan step and moves
// the cursor forward. Caller holds e.mu.
func (e *Engine) recordStepLocked(success bool) {
	step := e.plan.Steps[e.stepIndex]
	e.stepResults = append(e.stepResults, reflection.StepResult{
		Description: step.Description,
		Success:     success,
		Duration:    time.Since(e.stepStarted),
	})
	e.stepIndex++
}

// stepReflect analyzes the completed execution with one model call and
// writes high-priority recommendations back to long-term memory. The
// analysis is advisory: a failed reflection call logs a warning and the
// run still completes, since the user's answer already exists.
func (e *Engine) stepReflect(ctx context.Context, result *reflection.ExecutionResult) {
	prompt := prompts.ReflectionPrompt(result.Describe())
	resp, err := e.deps.LLM.ChatStream(ctx, e.config.Model,
		[]llm.Message{{Role: "user", Content: prompt}}, nil, nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.deps.Logger.Warn("reflection call failed", "error", err)
		e.setStateLocked(completed())
		return
	}

	analysis := reflection.ParseAnalysis(resp.Message.Content)
	e.appendMessageLocked(llm.Message{Role: "assistant", Content: resp.Message.Content})
	reflection.WriteBack(e.deps.Memory, *result, analysis, e.config.ReflectionThreshold, e.deps.Logger)
	e.setStateLocked(completed())
}

// refreshSystemPromptLocked rebuilds the system message with the
// current tool list, timestamp, and memories relevant to the task.
// Caller holds e.mu.
func (e *Engine) refreshSystemPromptLocked() {
	var toolLines []string
	for _, name := range e.deps.Tools.Names() {
		t := e.deps.Tools.Get(name)
		toolLines = append(toolLines, prompts.ToolLine(t.Name, t.Description))
	}
	content := prompts.SystemPrompt(e.config.SystemPrompt, toolLines, time.Now())

	if relevant, err := e.deps.Memory.Search(e.task, 3); err == nil && len(relevant) > 0 {
		var b strings.Builder
		b.WriteString("\n\n## Relevant Memories\n")
		for _, m := range relevant {
			fmt.Fprintf(&b, "- [%s] %s\n", m.Category, m.Content)
		}
		content += b.String()
	}

	if len(e.messages) > 0 && e.messages[0].Role == "system" {
		e.messages[0].Content = content
		return
	}
	e.messages = append([]llm.Message{{Role: "system", Content: content}}, e.messages...)
}

func (e *Engine) toolList() string {
	var lines []string
	for _, name := range e.deps.Tools.Names() {
		t := e.deps.Tools.Get(name)
		lines = append(lines, prompts.ToolLine(t.Name, t.Description))
	}
	if len(lines) == 0 {
		return "(none)"
	}
	return strings.Join(lines, "\n")
}

// planningMarkers are phrases that suggest a task needs decomposition.
var planningMarkers = []string{
	" then ", "after that", "step by step", "first,", "finally",
}

// needsPlanning decides whether a task gets a structured plan. Simple
// tasks bypass planning entirely.
func needsPlanning(task string) bool {
	lower := strings.ToLower(task)
	for _, marker := range planningMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return len(task) > 240
}

// setStateLocked replaces the current state and publishes the
// transition. Caller holds e.mu.
func (e *Engine) setStateLocked(s State) {
	e.state = s
	e.deps.Logger.Debug("state transition", "state", s.Kind.String())
	e.publish(events.KindStateChange, map[string]any{
		"state": s.Kind.String(),
	})
}

// appendMessageLocked appends a message and announces it. Caller holds
// e.mu.
func (e *Engine) appendMessageLocked(m llm.Message) {
	e.messages = append(e.messages, m)
	e.publishMessage(m)
}

func (e *Engine) publishMessage(m llm.Message) {
	e.publish(events.KindMessageAdded, map[string]any{
		"role":      m.Role,
		"content":   m.Content,
		"streaming": m.Streaming,
	})
}

func (e *Engine) publish(kind string, data map[string]any) {
	e.deps.Bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceEngine,
		Kind:      kind,
		Data:      data,
	})
}
