package crv

// Commit is the candidate state change submitted for validation. Ephemeral:
// constructed per validation call, never persisted directly.
type Commit struct {
	// ID identifies this commit attempt for tracing/audit purposes.
	ID string
	// Payload is the tagged-union representation of the candidate state.
	Payload Value
	// Previous is the prior state, if any, for validators that compare
	// before/after (e.g., temporal-monotonicity checks).
	Previous *Value
	// Metadata carries caller-supplied context (workflow id, task id, tool id).
	Metadata map[string]any
}

// FailureCode is the closed taxonomy a ValidationResult may carry, matching
// kernelerrors.Code one-for-one so CRV failures translate directly into
// orchestrator-level errors without an intermediate mapping table.
type FailureCode string

const (
	FailureMissingData     FailureCode = "MISSING_DATA"
	FailureConflict        FailureCode = "CONFLICT"
	FailureOutOfScope      FailureCode = "OUT_OF_SCOPE"
	FailureLowConfidence   FailureCode = "LOW_CONFIDENCE"
	FailurePolicyViolation FailureCode = "POLICY_VIOLATION"
	FailureToolError       FailureCode = "TOOL_ERROR"
	FailureNonDeterminism  FailureCode = "NON_DETERMINISM"
)

// ValidationResult is the outcome of a single validator run against a Commit.
type ValidationResult struct {
	// Valid reports whether the commit satisfies the validator's predicate.
	Valid bool
	// Reason explains the outcome for audit/debugging.
	Reason string
	// Confidence is the validator's confidence in its verdict, in [0, 1].
	// Validators that are not probabilistic should return 1.0.
	Confidence float64
	// FailureCode is set when Valid is false, or when Valid is true but
	// Confidence fell below a gate's requiredConfidence threshold.
	FailureCode FailureCode
	// Remediation is an optional human-readable hint for resolving the failure.
	Remediation string
}

// Validator is a pure predicate over a Commit. Implementations must not
// mutate the Commit and must be side-effect free: validators are re-run
// freely during CRV gate evaluation and must not perform I/O with
// observable side effects (read-only lookups are fine).
type Validator interface {
	// Name identifies the validator for diagnostics and failure attribution.
	Name() string
	// Validate evaluates the predicate against the commit.
	Validate(c Commit) ValidationResult
}

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc struct {
	FuncName string
	Fn       func(c Commit) ValidationResult
}

// Name implements Validator.
func (v ValidatorFunc) Name() string { return v.FuncName }

// Validate implements Validator.
func (v ValidatorFunc) Validate(c Commit) ValidationResult { return v.Fn(c) }
