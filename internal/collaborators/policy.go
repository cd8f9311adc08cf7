package collaborators

import (
	"context"
	"strings"

	"github.com/flowkernel/kernel/internal/taskspec"
)

// BasicPolicyGuardOptions configures BasicPolicyGuard, grounded on the
// teacher's basic policy engine's allow/block-list shape.
type BasicPolicyGuardOptions struct {
	// AllowedTools restricts execution to these tool ids. Empty means no
	// allowlist filter.
	AllowedTools []string
	// BlockedTools denies execution of these tool ids regardless of role.
	BlockedTools []string
	// RequireApprovalAtOrAbove marks any action whose risk tier is at or
	// above this threshold as requiring human approval rather than an
	// outright deny, provided the principal otherwise has the required
	// permissions. The zero value, RiskLow, turns the approval check off.
	RequireApprovalAtOrAbove taskspec.RiskTier
}

// BasicPolicyGuard is a minimal PolicyGuard suitable for single-process
// deployments: it checks tool allow/block lists and required permissions,
// and flags high-risk actions for human approval instead of rejecting them
// outright.
type BasicPolicyGuard struct {
	allowed    map[string]struct{}
	blocked    map[string]struct{}
	approveAt  taskspec.RiskTier
}

func NewBasicPolicyGuard(opts BasicPolicyGuardOptions) *BasicPolicyGuard {
	return &BasicPolicyGuard{
		allowed:   toSet(opts.AllowedTools),
		blocked:   toSet(opts.BlockedTools),
		approveAt: opts.RequireApprovalAtOrAbove,
	}
}

func (g *BasicPolicyGuard) Evaluate(_ context.Context, principal Principal, action Action) (PolicyDecision, error) {
	if _, denied := g.blocked[action.ToolID]; denied {
		return PolicyDecision{Allowed: false, Reason: "tool " + action.ToolID + " is blocked"}, nil
	}
	if len(g.allowed) > 0 {
		if _, ok := g.allowed[action.ToolID]; !ok {
			return PolicyDecision{Allowed: false, Reason: "tool " + action.ToolID + " is not allowlisted"}, nil
		}
	}
	if missing := missingPermissions(principal, action.Permissions); len(missing) > 0 {
		return PolicyDecision{Allowed: false, Reason: "missing permissions: " + strings.Join(missing, ", ")}, nil
	}
	if g.approveAt > 0 && action.RiskTier.AtLeast(g.approveAt) {
		return PolicyDecision{Allowed: true, RequiresHumanApproval: true, Reason: "risk tier " + action.RiskTier.String() + " requires approval"}, nil
	}
	return PolicyDecision{Allowed: true}, nil
}

func missingPermissions(principal Principal, required []string) []string {
	if len(required) == 0 {
		return nil
	}
	held := toSet(principal.Roles)
	var missing []string
	for _, perm := range required {
		if _, ok := held[perm]; !ok {
			missing = append(missing, perm)
		}
	}
	return missing
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}
