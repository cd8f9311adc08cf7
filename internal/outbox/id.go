package outbox

import (
	"fmt"

	"github.com/google/uuid"
)

// idFromSeq renders a sequence number as a stable, sortable id for
// MemoryStore, whose entry lifetime never spans a process restart so a
// process-local counter is sufficient.
func idFromSeq(seq int) string {
	return fmt.Sprintf("ob-%08d", seq)
}

// newEntryID generates a globally unique outbox entry id for stores whose
// entries must remain unique across process restarts (file, mongo).
func newEntryID() string {
	return uuid.NewString()
}
