package agent

import "fmt"

// DuplicateToolNameError is returned when registering a tool whose name is
// already present in the registry.
type DuplicateToolNameError struct {
	Name string
}

func (e *DuplicateToolNameError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// ReservedToolNameError is returned when registering a tool that collides
// with the respond signal.
type ReservedToolNameError struct {
	Name string
}

func (e *ReservedToolNameError) Error() string {
	return fmt.Sprintf("tool name %q is reserved", e.Name)
}

// ToolNotFoundError is returned by registry lookup for unknown tools.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ValidationError reports tool arguments rejected by the input schema.
// It is surfaced to the model as an error tool result, never executed.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// ModelInvocationError is fatal to the current turn: the model call itself
// failed after the client's retry policy was exhausted.
type ModelInvocationError struct {
	Cause error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed: %v", e.Cause)
}

func (e *ModelInvocationError) Unwrap() error { return e.Cause }

// TurnTimeoutError is fatal to the current turn: the overall turn budget
// elapsed before the model produced a final answer.
type TurnTimeoutError struct {
	Elapsed string
}

func (e *TurnTimeoutError) Error() string {
	return fmt.Sprintf("turn timed out after %s", e.Elapsed)
}

// CancelledError is fatal to the current turn: the caller cancelled it.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("turn cancelled: %v", e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }
