package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// deriveIdempotencyKey computes the default outbox idempotency key for a
// task attempt, per spec.md §4.1 step 5: "derived deterministically from
// (task id, attempt counter, tool id, canonicalised parameters) unless the
// task supplies an explicit key". The teacher's tools/idempotency.go only
// declares an idempotency *scope* tag, not a derivation rule, so the
// concrete hash here is new: canonicalise by round-tripping through
// encoding/json (Go's map encoding already sorts object keys), then hash
// the tuple so two calls with byte-different but semantically identical
// JSON (field order, insignificant whitespace) collapse to the same key.
func deriveIdempotencyKey(taskID string, attempt int, toolID string, params json.RawMessage) (string, error) {
	canonical, err := canonicalizeJSON(params)
	if err != nil {
		return "", fmt.Errorf("orchestrator: canonicalize idempotency params: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%s\x00%s", taskID, attempt, toolID, canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
