package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/manifold/pkg/actions"
	"github.com/openfroyo/manifold/pkg/manifests"
	"github.com/openfroyo/manifold/pkg/policy"
	"github.com/openfroyo/manifold/pkg/steps"
)

// ErrorClass represents the classification of a run failure.
type ErrorClass string

const (
	// ErrorClassPermanent indicates a failure that repeats until the
	// manifests or the machine change. Examples: schema errors, denied plans.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassTransient indicates a failure that may succeed when the run is
	// repeated. Examples: network downloads, package mirrors.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassCancelled indicates the run was interrupted.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Error codes.
const (
	ErrCodeSchema          = "SCHEMA_ERROR"
	ErrCodeConditionFailed = "CONDITION_FAILED"
	ErrCodePlanFailed      = "PLAN_FAILED"
	ErrCodeExecuteFailed   = "EXECUTE_FAILED"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeCancelled       = "CANCELLED"
)

// EngineError represents a classified run failure with the manifest and
// action it belongs to.
// nolint:revive // EngineError is distinguished from the action level errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code identifies the stage that failed.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Manifest is the manifest that caused the error, if applicable.
	Manifest string `json:"manifest,omitempty"`

	// Action is the canonical name of the failing action, if applicable.
	Action string `json:"action,omitempty"`

	// Index is the position of the action within its manifest.
	Index int `json:"index,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Manifest != "" && e.Action != "" {
		return fmt.Sprintf("[%s] %s (manifest=%s, action=%d:%s): %s",
			e.Code, e.Message, e.Manifest, e.Index, e.Action, e.unwrapMessage())
	}
	if e.Manifest != "" {
		return fmt.Sprintf("[%s] %s (manifest=%s): %s", e.Code, e.Message, e.Manifest, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithAction adds the failing action to an error.
func (e *EngineError) WithAction(manifest string, index int, action string) *EngineError {
	e.Manifest = manifest
	e.Index = index
	e.Action = action
	return e
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Code: code, Message: message, Err: err}
}

// NewTransientError creates a new transient error.
func NewTransientError(code, message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Code: code, Message: message, Err: err}
}

// schemaError classifies a manifest loading or ordering failure.
func schemaError(err error) *EngineError {
	var dep *manifests.DependencyError
	if errors.As(err, &dep) {
		return NewPermanentError(ErrCodeSchema, "invalid manifest dependencies", err).WithAction(dep.Manifest, 0, "")
	}
	return NewPermanentError(ErrCodeSchema, "invalid manifests", err)
}

// resolveError classifies an action that failed to produce steps.
func resolveError(err error) *EngineError {
	if cancelled(err) {
		return cancelledError(err)
	}
	var cond *actions.ConditionError
	if errors.As(err, &cond) {
		return NewPermanentError(ErrCodeConditionFailed, "condition failed to evaluate", err)
	}
	return NewPermanentError(ErrCodePlanFailed, "action failed to plan", err)
}

// stepError classifies a failing step. Atoms that fail to inspect the machine
// are permanent; failed mutations are transient since the machine may change
// between runs.
func stepError(err error) *EngineError {
	if cancelled(err) {
		return cancelledError(err)
	}
	var atomErr *steps.AtomError
	if errors.As(err, &atomErr) && atomErr.Phase == steps.PhasePlan {
		return NewPermanentError(ErrCodePlanFailed, "atom failed to plan", err)
	}
	return NewTransientError(ErrCodeExecuteFailed, "atom failed to execute", err)
}

func deniedError(err *policy.DeniedError) *EngineError {
	return NewPermanentError(ErrCodePolicyDenied, "plan denied by policy", err)
}

func cancelledError(err error) *EngineError {
	return &EngineError{Class: ErrorClassCancelled, Code: ErrCodeCancelled, Message: "run cancelled", Err: err}
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Code returns the engine error code of err, or the empty string.
func Code(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsCancelled returns true if the run was interrupted.
func IsCancelled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassCancelled
	}
	return false
}
