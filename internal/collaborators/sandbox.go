package collaborators

import "context"

// NoopSandbox always reports that it cannot simulate, signalling to callers
// that the task's tool must either run for real or be skipped. It exists so
// the orchestrator can always construct a Sandbox collaborator even when no
// real simulation backend is configured.
type NoopSandbox struct{}

func (NoopSandbox) Simulate(_ context.Context, toolID string, _ []byte) (SandboxResult, error) {
	return SandboxResult{WouldSucceed: false, Notes: "no sandbox backend configured for " + toolID}, nil
}
