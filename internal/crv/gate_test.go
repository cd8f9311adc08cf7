package crv_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkernel/kernel/internal/crv"
)

func paymentCommit(amount float64, sender, recipient string) crv.Commit {
	return crv.Commit{
		ID: "c1",
		Payload: crv.Object(map[string]crv.Value{
			"amount":    crv.Scalar(amount),
			"recipient": crv.Scalar(recipient),
			"sender":    crv.Scalar(sender),
		}),
	}
}

// TestCRVBlocksInvalidCommit implements spec.md §8 scenario 3: a gate with
// notNull, schema, and a business predicate blocks a negative-amount commit
// with POLICY_VIOLATION.
func TestCRVBlocksInvalidCommit(t *testing.T) {
	gate := crv.Gate{
		Name: "payment-invariants",
		Validators: []crv.Validator{
			crv.NotNull("amount", "recipient", "sender"),
			crv.Schema(
				crv.FieldKind{Field: "amount", Kind: crv.KindScalar},
				crv.FieldKind{Field: "recipient", Kind: crv.KindScalar},
				crv.FieldKind{Field: "sender", Kind: crv.KindScalar},
			),
			crv.Predicate("amountBounds", func(v crv.Value) bool {
				amount, _ := mustField(v, "amount").Number()
				sender, _ := mustField(v, "sender").String()
				recipient, _ := mustField(v, "recipient").String()
				return amount > 0 && amount <= 10000 && sender != recipient
			}, "amount>0 ∧ amount<=10000 ∧ sender≠recipient"),
		},
		BlockOnFailure: true,
	}

	result := gate.Run(paymentCommit(-100, "A", "B"))
	require.Equal(t, crv.OutcomeBlocked, result.Outcome)
	assert.Equal(t, crv.FailurePolicyViolation, result.FailureCode)
}

func TestCRVAllowsValidCommit(t *testing.T) {
	gate := crv.Gate{
		Name: "payment-invariants",
		Validators: []crv.Validator{
			crv.NotNull("amount", "recipient", "sender"),
			crv.Predicate("amountBounds", func(v crv.Value) bool {
				amount, _ := mustField(v, "amount").Number()
				sender, _ := mustField(v, "sender").String()
				recipient, _ := mustField(v, "recipient").String()
				return amount > 0 && amount <= 10000 && sender != recipient
			}, "amount>0 ∧ amount<=10000 ∧ sender≠recipient"),
		},
		BlockOnFailure: true,
	}

	result := gate.Run(paymentCommit(100, "A", "B"))
	assert.Equal(t, crv.OutcomePassed, result.Outcome)
}

func TestStatisticalBoundsZeroStddev(t *testing.T) {
	v := crv.StatisticalBounds("value", 10, 0, 3)

	exact := crv.Commit{Payload: crv.Object(map[string]crv.Value{"value": crv.Scalar(10.0)})}
	assert.True(t, v.Validate(exact).Valid)

	deviated := crv.Commit{Payload: crv.Object(map[string]crv.Value{"value": crv.Scalar(10.0001)})}
	r := v.Validate(deviated)
	assert.False(t, r.Valid)
	assert.Equal(t, crv.FailureOutOfScope, r.FailureCode)
}

func TestGateWarnsWithoutBlocking(t *testing.T) {
	gate := crv.Gate{
		Name:           "soft-check",
		Validators:     []crv.Validator{crv.NotNull("missing")},
		BlockOnFailure: false,
	}
	result := gate.Run(crv.Commit{Payload: crv.Object(map[string]crv.Value{})})
	assert.Equal(t, crv.OutcomeWarning, result.Outcome)
}

func TestChainStopsAtFirstBlock(t *testing.T) {
	blocking := crv.Gate{Name: "g1", Validators: []crv.Validator{crv.NotNull("x")}, BlockOnFailure: true}
	never := crv.Gate{Name: "g2", Validators: []crv.Validator{crv.NotNull("y")}, BlockOnFailure: true}
	chain := crv.Chain{Gates: []crv.Gate{blocking, never}}

	result := chain.Run(crv.Commit{Payload: crv.Object(map[string]crv.Value{})})
	require.True(t, result.Blocked)
	assert.Len(t, result.GateResults, 1)

	gateName, _, ok := result.FirstBlockingReason()
	require.True(t, ok)
	assert.Equal(t, "g1", gateName)
}

func mustField(v crv.Value, name string) crv.Value {
	f, _ := v.Field(name)
	return f
}
