package taskspec

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlWorkflowSpec mirrors WorkflowSpec's shape for YAML declaration,
// grounded on the hector example's config package pattern of a dedicated
// yaml-tagged struct layer over the runtime types it decodes into. A
// separate struct (rather than yaml tags directly on WorkflowSpec) keeps
// the YAML document format independent of the in-memory field layout, and
// lets Timeout/BackoffMs be authored as plain durations and milliseconds.
type yamlWorkflowSpec struct {
	ID           string               `yaml:"id"`
	SafetyPolicy string               `yaml:"safetyPolicy,omitempty"`
	Tasks        []yamlTaskSpec       `yaml:"tasks"`
	Dependencies map[string][]string  `yaml:"dependencies,omitempty"`
}

type yamlTaskSpec struct {
	ID                  string            `yaml:"id"`
	Name                string            `yaml:"name,omitempty"`
	Type                string            `yaml:"type,omitempty"`
	ToolID              string            `yaml:"toolId,omitempty"`
	Input               yaml.Node         `yaml:"input,omitempty"`
	MaxAttempts         int               `yaml:"maxAttempts,omitempty"`
	BackoffMs           int               `yaml:"backoffMs,omitempty"`
	Timeout             string            `yaml:"timeout,omitempty"`
	IdempotencyKey      string            `yaml:"idempotencyKey,omitempty"`
	Compensation        *yamlCompensation `yaml:"compensation,omitempty"`
	RiskTier            string            `yaml:"riskTier,omitempty"`
	RequiredPermissions []string          `yaml:"requiredPermissions,omitempty"`
	Resources           []yamlResource    `yaml:"resources,omitempty"`
	Effectful           bool              `yaml:"effectful,omitempty"`
	CRVGates            []string          `yaml:"crvGates,omitempty"`
}

type yamlCompensation struct {
	ToolID  string    `yaml:"toolId,omitempty"`
	Params  yaml.Node `yaml:"params,omitempty"`
	HookRef string    `yaml:"hookRef,omitempty"`
}

type yamlResource struct {
	Resource string `yaml:"resource"`
	Mode     string `yaml:"mode"`
}

// LoadWorkflowSpecYAML decodes a YAML-declared workflow into a WorkflowSpec
// and validates it. Task and compensation parameters are authored as
// ordinary YAML values and re-encoded as JSON, since TaskSpec.Input and
// CompensationHook.Params are json.RawMessage (the wire format tool
// invocations actually use) rather than YAML nodes.
func LoadWorkflowSpecYAML(data []byte) (WorkflowSpec, error) {
	var doc yamlWorkflowSpec
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return WorkflowSpec{}, fmt.Errorf("taskspec: decode workflow yaml: %w", err)
	}

	spec := WorkflowSpec{
		ID:           doc.ID,
		SafetyPolicy: doc.SafetyPolicy,
		Dependencies: doc.Dependencies,
	}
	for _, yt := range doc.Tasks {
		task, err := yt.toTaskSpec()
		if err != nil {
			return WorkflowSpec{}, fmt.Errorf("taskspec: task %q: %w", yt.ID, err)
		}
		spec.Tasks = append(spec.Tasks, task)
	}

	if err := spec.Validate(); err != nil {
		return WorkflowSpec{}, err
	}
	return spec, nil
}

func (yt yamlTaskSpec) toTaskSpec() (TaskSpec, error) {
	input, err := nodeToJSON(yt.Input)
	if err != nil {
		return TaskSpec{}, fmt.Errorf("input: %w", err)
	}

	var timeout time.Duration
	if yt.Timeout != "" {
		timeout, err = time.ParseDuration(yt.Timeout)
		if err != nil {
			return TaskSpec{}, fmt.Errorf("timeout: %w", err)
		}
	}

	resources := make([]ResourceRequirement, 0, len(yt.Resources))
	for _, r := range yt.Resources {
		resources = append(resources, ResourceRequirement{Resource: r.Resource, Mode: LockMode(r.Mode)})
	}

	var compensation *CompensationHook
	if yt.Compensation != nil {
		params, err := nodeToJSON(yt.Compensation.Params)
		if err != nil {
			return TaskSpec{}, fmt.Errorf("compensation.params: %w", err)
		}
		compensation = &CompensationHook{
			ToolID:  yt.Compensation.ToolID,
			Params:  params,
			HookRef: yt.Compensation.HookRef,
		}
	}

	return TaskSpec{
		ID:                  yt.ID,
		Name:                yt.Name,
		Type:                TaskType(yt.Type),
		ToolID:              yt.ToolID,
		Input:               input,
		Retry:               RetryPolicy{MaxAttempts: yt.MaxAttempts, BackoffMs: yt.BackoffMs},
		Timeout:             timeout,
		IdempotencyKey:      yt.IdempotencyKey,
		Compensation:        compensation,
		RiskTier:            riskTierFromString(yt.RiskTier),
		RequiredPermissions: yt.RequiredPermissions,
		Resources:           resources,
		Effectful:           yt.Effectful,
		CRVGates:            yt.CRVGates,
	}, nil
}

func riskTierFromString(s string) RiskTier {
	switch s {
	case "MEDIUM":
		return RiskMedium
	case "HIGH":
		return RiskHigh
	case "CRITICAL":
		return RiskCritical
	default:
		return RiskLow
	}
}

func nodeToJSON(node yaml.Node) (json.RawMessage, error) {
	if node.IsZero() {
		return nil, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
