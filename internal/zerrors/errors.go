// Package zerrors defines the error kinds surfaced by the cluster engine.
//
// Each kind wraps an underlying cause so callers can still unwrap to the
// original error while matching on kind with errors.As.
package zerrors

import "fmt"

// ValidationError reports a malformed message rejected at publish time.
// No ledger append occurs when this is returned.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("validation: %s", e.Field)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError for a required-but-empty field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Err: err}
}

// ConfigError reports an invalid cluster configuration or an unknown
// runtime token (e.g. an unrecognized `since` anchor).
type ConfigError struct {
	Context string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Context, e.Err)
	}
	return fmt.Sprintf("config: %s", e.Context)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func NewConfigError(context string, err error) *ConfigError {
	return &ConfigError{Context: context, Err: err}
}

// StorageError reports a ledger I/O failure. Callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// RunnerError reports a TaskRunner failure or timeout. It is logged and
// the agent returns to idle; it never fails the owning cluster by itself.
type RunnerError struct {
	AgentID string
	Reason  string
	Err     error
}

func (e *RunnerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runner: agent %s: %s: %v", e.AgentID, e.Reason, e.Err)
	}
	return fmt.Sprintf("runner: agent %s: %s", e.AgentID, e.Reason)
}

func (e *RunnerError) Unwrap() error { return e.Err }

func NewRunnerError(agentID, reason string, err error) *RunnerError {
	return &RunnerError{AgentID: agentID, Reason: reason, Err: err}
}

// HookError reports a failed onComplete hook. It is logged; the agent
// still returns to idle.
type HookError struct {
	Action string
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook: %s: %v", e.Action, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func NewHookError(action string, err error) *HookError {
	return &HookError{Action: action, Err: err}
}

// PredicateError reports a trigger predicate that threw or timed out. A
// predicate error is always treated as a falsy result, not a fatal one.
type PredicateError struct {
	AgentID string
	Err     error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("predicate: agent %s: %v", e.AgentID, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

func NewPredicateError(agentID string, err error) *PredicateError {
	return &PredicateError{AgentID: agentID, Err: err}
}
