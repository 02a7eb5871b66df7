package engine

import (
	"github.com/arbiterlabs/arbiter/internal/parse"
	"github.com/arbiterlabs/arbiter/internal/plan"
	"github.com/arbiterlabs/arbiter/internal/reflection"
)

// StateKind enumerates the run-loop states.
type StateKind int

const (
	StateIdle StateKind = iota
	StatePlanning
	StateAwaitingPlanApproval
	StateExecutingPlan
	StateAwaitingModel
	StateToolProposed
	StateAwaitingApproval
	StateExecutingTool
	StateReflecting
	StateCompleted
	StateFailed
)

var stateNames = map[StateKind]string{
	StateIdle:                 "idle",
	StatePlanning:             "planning",
	StateAwaitingPlanApproval: "awaiting_plan_approval",
	StateExecutingPlan:        "executing_plan",
	StateAwaitingModel:        "awaiting_model",
	StateToolProposed:         "tool_proposed",
	StateAwaitingApproval:     "awaiting_approval",
	StateExecutingTool:        "executing_tool",
	StateReflecting:           "reflecting",
	StateCompleted:            "completed",
	StateFailed:               "failed",
}

func (k StateKind) String() string {
	if name, ok := stateNames[k]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the run loop stops in this state.
func (k StateKind) Terminal() bool {
	return k == StateCompleted || k == StateFailed
}

// Suspended reports whether the loop is paused waiting for an external
// approve or reject call.
func (k StateKind) Suspended() bool {
	return k == StateAwaitingApproval || k == StateAwaitingPlanApproval
}

// State is the run loop's current position plus the payload that
// position carries. Exactly one State value is owned by the loop at a
// time; every change is observable via the event bus. Which payload
// fields are set depends on Kind: Plan for the plan states, Proposal
// for the tool states, Result while reflecting, Err when failed.
type State struct {
	Kind      StateKind
	Plan      *plan.TaskPlan
	StepIndex int
	Proposal  *parse.ToolProposal
	Result    *reflection.ExecutionResult
	Err       string
}

func idle() State      { return State{Kind: StateIdle} }
func planning() State  { return State{Kind: StatePlanning} }
func completed() State { return State{Kind: StateCompleted} }

func awaitingPlanApproval(p *plan.TaskPlan) State {
	return State{Kind: StateAwaitingPlanApproval, Plan: p}
}

func executingPlan(p *plan.TaskPlan, i int) State {
	return State{Kind: StateExecutingPlan, Plan: p, StepIndex: i}
}

func awaitingModel() State { return State{Kind: StateAwaitingModel} }

func toolProposed(p *parse.ToolProposal) State {
	return State{Kind: StateToolProposed, Proposal: p}
}

func awaitingApproval(p *parse.ToolProposal) State {
	return State{Kind: StateAwaitingApproval, Proposal: p}
}

func executingTool(p *parse.ToolProposal) State {
	return State{Kind: StateExecutingTool, Proposal: p}
}

func reflecting(r *reflection.ExecutionResult) State {
	return State{Kind: StateReflecting, Result: r}
}

func failed(msg string) State { return State{Kind: StateFailed, Err: msg} }
