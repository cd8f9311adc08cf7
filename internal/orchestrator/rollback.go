package orchestrator

import (
	"context"
	"fmt"

	"github.com/flowkernel/kernel/internal/collaborators"
	"github.com/flowkernel/kernel/internal/eventlog"
	"github.com/flowkernel/kernel/internal/snapshot"
	"github.com/flowkernel/kernel/internal/state"
	"github.com/flowkernel/kernel/internal/taskspec"
)

// Rollback restores the world state to a previously verified snapshot,
// per spec.md §4.1 ("Rollback"). HIGH and CRITICAL risk tiers require
// policy-guard approval before the restore proceeds; state is reconciled
// key by key against the snapshot (keys absent from the snapshot are
// deleted, keys present are overwritten using the current live version as
// the CAS token) so the restore is itself an ordinary, auditable sequence
// of state-store operations rather than a bulk replace.
func (o *Orchestrator) Rollback(ctx context.Context, workflowID string, id snapshot.ID, riskTier taskspec.RiskTier, principal collaborators.Principal) error {
	if riskTier.AtLeast(taskspec.RiskHigh) {
		decision, err := o.cfg.PolicyGuard.Evaluate(ctx, principal, collaborators.Action{
			WorkflowID: workflowID,
			RiskTier:   riskTier,
		})
		if err != nil {
			return fmt.Errorf("orchestrator: rollback policy evaluation failed: %w", err)
		}
		if !decision.Allowed {
			return fmt.Errorf("orchestrator: rollback denied by policy: %s", decision.Reason)
		}
	}

	snap, err := o.cfg.Snapshots.RestoreSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("orchestrator: restore snapshot %+v: %w", id, err)
	}
	if !snap.Verified {
		return fmt.Errorf("orchestrator: snapshot %+v is not verified, refusing rollback", id)
	}

	o.appendEvent(ctx, workflowID, id.TaskID, eventlog.RollbackInitiated, map[string]any{"attempt": id.Attempt})

	if err := o.reconcileState(ctx, snap.WorldState); err != nil {
		return fmt.Errorf("orchestrator: rollback reconciliation failed: %w", err)
	}

	o.appendEvent(ctx, workflowID, id.TaskID, eventlog.RollbackCompleted, map[string]any{"attempt": id.Attempt})
	return nil
}

// reconcileState makes the live state store exactly match target: every
// key in target is written (created or CAS-updated), every live key absent
// from target is deleted.
func (o *Orchestrator) reconcileState(ctx context.Context, target state.Snapshot) error {
	liveKeys, err := o.cfg.State.Keys(ctx)
	if err != nil {
		return err
	}
	live := make(map[string]struct{}, len(liveKeys))
	for _, k := range liveKeys {
		live[k] = struct{}{}
	}

	for key, entry := range target.Entries {
		current, err := o.cfg.State.Read(ctx, key)
		switch {
		case err == state.ErrNotFound:
			if _, err := o.cfg.State.Create(ctx, key, entry.Value, entry.Metadata); err != nil {
				return fmt.Errorf("rollback create %q: %w", key, err)
			}
		case err == nil:
			if _, err := o.cfg.State.Update(ctx, key, entry.Value, current.Version, entry.Metadata); err != nil {
				return fmt.Errorf("rollback update %q: %w", key, err)
			}
		default:
			return fmt.Errorf("rollback read %q: %w", key, err)
		}
	}

	for key := range live {
		if _, inTarget := target.Entries[key]; inTarget {
			continue
		}
		current, err := o.cfg.State.Read(ctx, key)
		if err != nil {
			continue
		}
		if err := o.cfg.State.Delete(ctx, key, current.Version); err != nil {
			return fmt.Errorf("rollback delete %q: %w", key, err)
		}
	}
	return nil
}
