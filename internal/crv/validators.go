package crv

import "math"

// NotNull returns a Validator that fails with MISSING_DATA when any of the
// named fields on the commit payload is absent or KindNull.
func NotNull(fields ...string) Validator {
	return ValidatorFunc{
		FuncName: "notNull",
		Fn: func(c Commit) ValidationResult {
			for _, f := range fields {
				v, ok := c.Payload.Field(f)
				if !ok || v.Kind == KindNull {
					return ValidationResult{
						Valid:       false,
						Reason:      "required field " + f + " is missing",
						Confidence:  1,
						FailureCode: FailureMissingData,
						Remediation: "supply a value for " + f,
					}
				}
			}
			return ValidationResult{Valid: true, Reason: "all required fields present", Confidence: 1}
		},
	}
}

// FieldKind declares the expected ValueKind of a named field for the Schema validator.
type FieldKind struct {
	Field string
	Kind  ValueKind
}

// Schema returns a Validator that checks the Kind of each named field
// matches the declared shape. This operates purely on the kernel's own
// tagged Value union (see Design Notes) rather than on JSON Schema — no
// general-purpose JSON Schema engine is implemented (an explicit Non-goal).
func Schema(fields ...FieldKind) Validator {
	return ValidatorFunc{
		FuncName: "schema",
		Fn: func(c Commit) ValidationResult {
			for _, f := range fields {
				v, ok := c.Payload.Field(f.Field)
				if !ok {
					return ValidationResult{
						Valid: false, Reason: "field " + f.Field + " is missing",
						Confidence: 1, FailureCode: FailureMissingData,
					}
				}
				if v.Kind != f.Kind {
					return ValidationResult{
						Valid: false, Reason: "field " + f.Field + " has unexpected shape",
						Confidence: 1, FailureCode: FailureConflict,
						Remediation: "check the declared type for " + f.Field,
					}
				}
			}
			return ValidationResult{Valid: true, Reason: "schema matched", Confidence: 1}
		},
	}
}

// Predicate wraps an arbitrary boolean predicate over the commit payload as
// a POLICY_VIOLATION validator. Use for business-rule checks such as
// "amount>0 ∧ amount<=10000 ∧ sender!=recipient" (spec.md §8 scenario 3).
func Predicate(name string, pred func(Value) bool, reason string) Validator {
	return ValidatorFunc{
		FuncName: name,
		Fn: func(c Commit) ValidationResult {
			if pred(c.Payload) {
				return ValidationResult{Valid: true, Reason: "predicate satisfied", Confidence: 1}
			}
			return ValidationResult{
				Valid: false, Reason: reason, Confidence: 1,
				FailureCode: FailurePolicyViolation,
				Remediation: "adjust the commit to satisfy: " + reason,
			}
		},
	}
}

// StatisticalBounds returns a Validator that checks a numeric field falls
// within mean +/- (stddev * sigmas). Per spec.md §8 boundary behaviour: when
// stddev is 0, only a value exactly equal to mean is valid; any deviation is
// OUT_OF_SCOPE.
func StatisticalBounds(field string, mean, stddev, sigmas float64) Validator {
	return ValidatorFunc{
		FuncName: "statisticalBounds",
		Fn: func(c Commit) ValidationResult {
			fv, ok := c.Payload.Field(field)
			if !ok {
				return ValidationResult{Valid: false, Reason: "field " + field + " missing", Confidence: 1, FailureCode: FailureMissingData}
			}
			n, ok := fv.Number()
			if !ok {
				return ValidationResult{Valid: false, Reason: "field " + field + " is not numeric", Confidence: 1, FailureCode: FailureConflict}
			}
			if stddev == 0 {
				if n == mean {
					return ValidationResult{Valid: true, Reason: "matches exact mean", Confidence: 1}
				}
				return ValidationResult{
					Valid: false, Reason: "value deviates from a zero-variance distribution",
					Confidence: 1, FailureCode: FailureOutOfScope,
				}
			}
			deviations := math.Abs(n-mean) / stddev
			if deviations <= sigmas {
				return ValidationResult{Valid: true, Reason: "within statistical bounds", Confidence: 1}
			}
			return ValidationResult{
				Valid: false, Reason: "value exceeds statistical bounds", Confidence: 1,
				FailureCode: FailureOutOfScope,
			}
		},
	}
}
