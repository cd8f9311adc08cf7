package state

import "context"

// ReconcileTo restores store to exactly match target, per spec.md §4.1
// ("Rollback"): keys present only in the current state are deleted (using
// their current version token); keys present in target are written with
// the target's value (using the current version token, or created if
// absent). The resulting store is key-for-key identical to target in value,
// though versions advance monotonically rather than being rewound, per the
// state store's append-only version invariant.
func ReconcileTo(ctx context.Context, store Store, target Snapshot) error {
	current, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}

	for key, cur := range current.Entries {
		if _, keep := target.Entries[key]; keep {
			continue
		}
		if err := store.Delete(ctx, key, cur.Version); err != nil && err != ErrNotFound {
			return err
		}
	}

	for key, want := range target.Entries {
		cur, err := store.Read(ctx, key)
		switch {
		case err == ErrNotFound:
			if _, err := store.Create(ctx, key, want.Value, want.Metadata); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if _, err := store.Update(ctx, key, want.Value, cur.Version, want.Metadata); err != nil {
				return err
			}
		}
	}
	return nil
}
