// Package kernelerrors provides the closed error taxonomy shared by every
// kernel subsystem. Every failure surfaced by the orchestrator, outbox, CRV
// gate chain, or coordinator carries one of the Code values below so callers
// can classify retriable vs. terminal failures without string matching.
package kernelerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, closed-set failure classification. New values must not
// be added without updating the orchestrator's retry classification table.
type Code string

const (
	// MissingData indicates a required field was absent.
	MissingData Code = "MISSING_DATA"
	// Conflict indicates a schema/type mismatch, version conflict, or
	// inconsistent cross-field state.
	Conflict Code = "CONFLICT"
	// OutOfScope indicates a value outside declared bounds (size,
	// statistical, permission).
	OutOfScope Code = "OUT_OF_SCOPE"
	// LowConfidence indicates a validator returned valid but below the
	// configured confidence threshold.
	LowConfidence Code = "LOW_CONFIDENCE"
	// PolicyViolation indicates a policy gate denial or triggered safety rule.
	PolicyViolation Code = "POLICY_VIOLATION"
	// ToolError indicates a tool threw, timed out, or returned a
	// non-result.
	ToolError Code = "TOOL_ERROR"
	// NonDeterminism indicates an idempotence or temporal-monotonicity
	// invariant was violated.
	NonDeterminism Code = "NON_DETERMINISM"
)

// Retriable reports whether the orchestrator should retry a task that
// failed with this code, per spec.md §7 ("Propagation").
func (c Code) Retriable() bool {
	switch c {
	case ToolError, Conflict:
		return true
	default:
		return false
	}
}

// KernelError is a structured failure that preserves a cause chain across
// retries while exposing a stable Code and an optional remediation hint.
// It supports errors.Is/As via Unwrap, mirroring the teacher's ToolError.
type KernelError struct {
	// Code classifies the failure for retry/propagation decisions.
	Code Code
	// Message is the human-readable summary of the failure.
	Message string
	// Remediation is an optional hint surfaced alongside the failure.
	Remediation string
	// Cause links to the underlying error, if any.
	Cause error
}

// New constructs a KernelError with the given code and message.
func New(code Code, message string) *KernelError {
	return &KernelError{Code: code, Message: message}
}

// Newf constructs a KernelError with a formatted message.
func Newf(code Code, format string, args ...any) *KernelError {
	return &KernelError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a KernelError that wraps an underlying error, preserving
// its chain for errors.Is/As.
func Wrap(code Code, message string, cause error) *KernelError {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &KernelError{Code: code, Message: message, Cause: cause}
}

// WithRemediation returns a copy of e annotated with a remediation hint.
func (e *KernelError) WithRemediation(hint string) *KernelError {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Remediation = hint
	return &cp
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause so errors.Is/As can traverse the chain.
func (e *KernelError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// As extracts the Code of err if it is (or wraps) a *KernelError.
// Returns false and the zero Code otherwise.
func As(err error) (Code, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Code, true
	}
	return "", false
}

// Classify returns the Code carried by err, defaulting to ToolError for
// unclassified errors — the orchestrator must always be able to classify a
// failure to decide retriability (spec.md §7).
func Classify(err error) Code {
	if code, ok := As(err); ok {
		return code
	}
	return ToolError
}
