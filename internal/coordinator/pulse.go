package coordinator

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"
)

// NewRedisBackedLockTable joins (or creates) a Pulse replicated map named
// name over the given Redis client and wraps it as a ReplicatedLockTable.
// Every coordinator node that joins the same name against the same Redis
// instance observes the same published lock state, grounded on
// registry.New's rmap.Join wiring for the registry's own replicated store.
func NewRedisBackedLockTable(ctx context.Context, name string, client *redis.Client) (*ReplicatedLockTable, error) {
	m, err := rmap.Join(ctx, name, client)
	if err != nil {
		return nil, fmt.Errorf("coordinator: join replicated lock map %q: %w", name, err)
	}
	return NewReplicatedLockTable(m), nil
}
