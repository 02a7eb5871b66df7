// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import "fmt"

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates a capability mismatch,
// not a transient execution failure. Callers should fail the run rather
// than retrying.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ErrInvalidArguments is returned by handlers when required arguments
// are missing or of the wrong type.
type ErrInvalidArguments struct {
	ToolName string
	Reason   string
}

func (e *ErrInvalidArguments) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %s", e.ToolName, e.Reason)
}

// ErrTimeout is returned when a tool invocation exceeds the caller-side
// deadline. The engine treats this as a tool failure, not a fatal
// engine error.
type ErrTimeout struct {
	ToolName string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("tool %q: execution timed out", e.ToolName)
}
