package crv

import "context"

// RecoveryKind discriminates the RecoveryStrategy variant type, per
// spec.md §4.3 ("Recovery strategies").
type RecoveryKind string

const (
	RecoveryNone         RecoveryKind = ""
	RecoveryRetryAltTool RecoveryKind = "retry_alt_tool"
	RecoveryAskUser      RecoveryKind = "ask_user"
	RecoveryEscalate     RecoveryKind = "escalate"
	RecoveryIgnore       RecoveryKind = "ignore"
)

// RecoveryStrategy is a closed variant type describing the recovery intent
// attached to a Gate. Only the fields relevant to Kind are meaningful.
type RecoveryStrategy struct {
	Kind RecoveryKind

	// RetryAltTool fields.
	ToolName   string
	MaxRetries int

	// AskUser fields.
	Prompt string

	// Escalate fields.
	Reason string

	// Ignore fields. The orchestrator hands an Ignore strategy to its
	// RecoveryExecutor like any other kind. When the executor reports it
	// applied, the orchestrator records a MitigationApplied event (gate,
	// recovery kind, executor notes) and accepts the commit; gates after
	// the blocking one in the task's chain are not evaluated, and the
	// orchestrator does not write Justification to the event log itself.
	Justification string
}

// RetryAltTool constructs a retry_alt_tool recovery strategy.
func RetryAltTool(toolName string, maxRetries int) RecoveryStrategy {
	return RecoveryStrategy{Kind: RecoveryRetryAltTool, ToolName: toolName, MaxRetries: maxRetries}
}

// AskUser constructs an ask_user recovery strategy.
func AskUser(prompt string) RecoveryStrategy {
	return RecoveryStrategy{Kind: RecoveryAskUser, Prompt: prompt}
}

// Escalate constructs an escalate recovery strategy.
func Escalate(reason string) RecoveryStrategy {
	return RecoveryStrategy{Kind: RecoveryEscalate, Reason: reason}
}

// Ignore constructs an ignore recovery strategy with an auditable justification.
func Ignore(justification string) RecoveryStrategy {
	return RecoveryStrategy{Kind: RecoveryIgnore, Justification: justification}
}

// RecoveryOutcome reports what happened when a RecoveryExecutor carried out
// a RecoveryStrategy.
type RecoveryOutcome struct {
	// Applied reports whether the strategy was carried out (as opposed to
	// merely recorded, e.g. for Escalate/AskUser which require an external
	// actor before anything resumes).
	Applied bool
	// Result carries the new tool output when RetryAltTool succeeds.
	Result Value
	// Notes is a free-form audit trail entry.
	Notes string
}

// RecoveryExecutor is the external collaborator that carries out a Gate's
// recovery intent. The gate only specifies intent (via RecoveryStrategy);
// execution — replaying a tool call, paging a human, recording a bypass —
// is delegated here so the CRV package has no knowledge of tool registries,
// human-approval queues, or audit sinks.
type RecoveryExecutor interface {
	Execute(ctx context.Context, strategy RecoveryStrategy, failed GateResult, c Commit) (RecoveryOutcome, error)
}
