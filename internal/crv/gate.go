package crv

// GateOutcome classifies the result of running a single gate's validators
// against a commit, per spec.md §4.3 ("Validation algorithm").
type GateOutcome string

const (
	// OutcomePassed indicates every validator passed (and met any confidence
	// threshold).
	OutcomePassed GateOutcome = "passed"
	// OutcomeWarning indicates at least one validator failed but the gate's
	// BlockOnFailure is false, so the chain continues.
	OutcomeWarning GateOutcome = "warning"
	// OutcomeBlocked indicates at least one validator failed and the gate's
	// BlockOnFailure is true, so the chain stops and the task is failed.
	OutcomeBlocked GateOutcome = "blocked"
)

// Gate groups an ordered set of validators under a shared block/warn policy.
type Gate struct {
	// Name identifies the gate for diagnostics.
	Name string
	// Validators run in declared order; all are run even after a failure so
	// the gate result reflects every validator's verdict.
	Validators []Validator
	// BlockOnFailure determines whether a failing validator yields "blocked"
	// (true) or merely "warning" (false).
	BlockOnFailure bool
	// RequiredConfidence, if non-zero, additionally requires every validator's
	// Confidence to meet or exceed this threshold for the gate to pass.
	RequiredConfidence float64
	// Recovery optionally names a recovery strategy to attempt when the gate
	// blocks. Execution of the strategy is delegated to a RecoveryExecutor;
	// the gate only records intent.
	Recovery RecoveryStrategy
}

// GateResult is the outcome of running one Gate against a Commit.
type GateResult struct {
	GateName string
	Outcome  GateOutcome
	Results  []ValidationResult
	// FailureCode and Remediation are copied from the first failing
	// validator's result, per spec.md §4.3 step 4.
	FailureCode FailureCode
	Remediation string
	Recovery    RecoveryStrategy
}

// Run evaluates every validator against c and classifies the outcome.
func (g Gate) Run(c Commit) GateResult {
	results := make([]ValidationResult, len(g.Validators))
	allPassed := true
	var firstFailure *ValidationResult

	for i, v := range g.Validators {
		r := v.Validate(c)
		if r.Valid && g.RequiredConfidence > 0 && r.Confidence < g.RequiredConfidence {
			r.Valid = false
			if r.FailureCode == "" {
				r.FailureCode = FailureLowConfidence
			}
		}
		results[i] = r
		if !r.Valid {
			allPassed = false
			if firstFailure == nil {
				fCopy := r
				firstFailure = &fCopy
			}
		}
	}

	res := GateResult{GateName: g.Name, Results: results}
	switch {
	case allPassed:
		res.Outcome = OutcomePassed
	case g.BlockOnFailure:
		res.Outcome = OutcomeBlocked
		res.Recovery = g.Recovery
	default:
		res.Outcome = OutcomeWarning
	}
	if firstFailure != nil {
		res.FailureCode = firstFailure.FailureCode
		res.Remediation = firstFailure.Remediation
	}
	return res
}

// Chain composes multiple gates sequentially. The first blocking gate stops
// the chain; results for gates after a block are not computed.
type Chain struct {
	Gates []Gate
}

// ChainResult is the outcome of running an entire Chain against a Commit.
type ChainResult struct {
	// GateResults holds one entry per gate actually evaluated (stops at the
	// first block).
	GateResults []GateResult
	// Blocked reports whether any gate in the chain blocked the commit.
	Blocked bool
}

// Run evaluates the chain in order, stopping at the first blocking gate.
func (ch Chain) Run(c Commit) ChainResult {
	var out ChainResult
	for _, g := range ch.Gates {
		r := g.Run(c)
		out.GateResults = append(out.GateResults, r)
		if r.Outcome == OutcomeBlocked {
			out.Blocked = true
			return out
		}
	}
	return out
}

// FirstBlockingReason returns the gate name and remediation of the first
// blocking result, or ("", "", false) if the chain was not blocked.
func (cr ChainResult) FirstBlockingReason() (gate string, remediation string, ok bool) {
	for _, r := range cr.GateResults {
		if r.Outcome == OutcomeBlocked {
			return r.GateName, r.Remediation, true
		}
	}
	return "", "", false
}
