// Package approval implements the tool-call gating policy.
//
// NeedsApproval is a pure function of its inputs: no hidden state, no
// side effects. The blanket grant used by ModePerThread is carried by
// the caller in [Config.BlanketGranted] so the decision stays
// re-derivable from inputs alone.
package approval

import (
	"fmt"
	"strings"
)

// Mode governs whether a tool proposal requires human confirmation.
type Mode int

const (
	// ModeAlwaysAsk requires confirmation for every tool call.
	ModeAlwaysAsk Mode = iota
	// ModeAutoApprove executes tool calls without confirmation.
	ModeAutoApprove
	// ModePerThread asks once per run; a single approval grants all
	// subsequent tool calls in the same run.
	ModePerThread
)

// String returns the config-file spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAlwaysAsk:
		return "always_ask"
	case ModeAutoApprove:
		return "auto_approve"
	case ModePerThread:
		return "per_thread"
	default:
		return "unknown"
	}
}

// ParseMode converts a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always_ask":
		return ModeAlwaysAsk, nil
	case "auto_approve":
		return ModeAutoApprove, nil
	case "per_thread":
		return ModePerThread, nil
	default:
		return ModeAlwaysAsk, fmt.Errorf("unknown approval mode %q (valid: always_ask, auto_approve, per_thread)", s)
	}
}

// Proposal carries the approval-relevant facts about a proposed tool
// call. AutoApprove reflects the target tool's own flag.
type Proposal struct {
	ToolName    string
	AutoApprove bool
}

// Config is the policy configuration for one decision.
type Config struct {
	Mode Mode
	// MaxToolCallsPerRun forces a human checkpoint once a run has made
	// this many tool calls, regardless of mode. Zero disables the
	// ceiling.
	MaxToolCallsPerRun int
	// BlanketGranted records that this run already received one
	// approval under ModePerThread.
	BlanketGranted bool
}

// NeedsApproval decides whether a proposal must wait for confirmation.
//
// Order matters: a per-tool auto-approve flag short-circuits
// everything, then the per-run ceiling forces a checkpoint regardless
// of mode, then the mode itself decides.
func NeedsApproval(p Proposal, toolCallsThisRun int, cfg Config) bool {
	if p.AutoApprove {
		return false
	}
	if cfg.MaxToolCallsPerRun > 0 && toolCallsThisRun >= cfg.MaxToolCallsPerRun {
		return true
	}

	switch cfg.Mode {
	case ModeAutoApprove:
		return false
	case ModePerThread:
		return !cfg.BlanketGranted
	default: // ModeAlwaysAsk
		return true
	}
}
