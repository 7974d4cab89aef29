// Package router computes deterministic per-step runner+model
// assignments from a task packet and an availability declaration.
package router

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AvailabilityPath is the availability declaration location, relative
// to the repository root.
const AvailabilityPath = ".taskpack/availability.yaml"

// Model describes one model's declared capabilities.
type Model struct {
	Strengths   []string `yaml:"strengths"`
	CostTier    string   `yaml:"cost_tier"`
	ContextSize string   `yaml:"context_size"`
}

// Runner describes one runner adapter's declared availability.
type Runner struct {
	Available bool     `yaml:"available"`
	Strengths []string `yaml:"strengths"`
}

// Policy is the routing policy block of an availability declaration.
type Policy struct {
	MinTotalScore    int            `yaml:"min_total_score"`
	EscalationLadder []string       `yaml:"escalation_ladder"`
	TagWeights       map[string]int `yaml:"tag_weights"`
}

// Availability is a loaded availability declaration. RunnerOrder
// preserves the declaration order of the runners mapping, which is the
// tie-break scan order during planning.
type Availability struct {
	Models      map[string]Model
	Runners     map[string]Runner
	Policy      Policy
	RunnerOrder []string
}

// LoadAvailability parses the availability declaration at path. The
// YAML mapping order of `runners` is preserved.
func LoadAvailability(path string) (*Availability, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read availability declaration: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("parse availability declaration %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return nil, fmt.Errorf("availability declaration %s is empty", path)
	}

	doc := root.Content[0]
	av := &Availability{
		Models:  map[string]Model{},
		Runners: map[string]Runner{},
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		value := doc.Content[i+1]
		switch key {
		case "models":
			if err := decodeModels(value, av); err != nil {
				return nil, fmt.Errorf("availability %s: %w", path, err)
			}
		case "runners":
			if err := decodeRunners(value, av); err != nil {
				return nil, fmt.Errorf("availability %s: %w", path, err)
			}
		case "policy":
			if err := value.Decode(&av.Policy); err != nil {
				return nil, fmt.Errorf("availability %s: policy: %w", path, err)
			}
		}
	}

	if len(av.Policy.EscalationLadder) == 0 {
		return nil, fmt.Errorf("availability %s: policy.escalation_ladder must not be empty", path)
	}
	return av, nil
}

func decodeModels(node *yaml.Node, av *Availability) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var m Model
		if err := node.Content[i+1].Decode(&m); err != nil {
			return fmt.Errorf("model %s: %w", name, err)
		}
		av.Models[name] = m
	}
	return nil
}

func decodeRunners(node *yaml.Node, av *Availability) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var r Runner
		if err := node.Content[i+1].Decode(&r); err != nil {
			return fmt.Errorf("runner %s: %w", name, err)
		}
		av.Runners[name] = r
		av.RunnerOrder = append(av.RunnerOrder, name)
	}
	return nil
}

// defaultAvailability is the starter declaration written by
// `tp route init`.
const defaultAvailability = `models:
  gpt-5.3-codex:
    strengths: [code_edit, tests]
    cost_tier: high
    context_size: large
  sonnet-4.55:
    strengths: [code_edit, docs, review]
    cost_tier: medium
    context_size: large
  haiku-4.5:
    strengths: [quick_commands]
    cost_tier: low
    context_size: small
runners:
  claude_code:
    available: true
    strengths: [code_edit, docs]
  codex_desktop:
    available: true
    strengths: [code_edit, tests]
  copilot_cli:
    available: false
    strengths: [quick_commands]
policy:
  min_total_score: 1
  escalation_ladder: [sonnet-4.55, gpt-5.3-codex, haiku-4.5]
`

// EnsureDefaultAvailability writes the starter declaration unless the
// file already exists.
func EnsureDefaultAvailability(repoRoot string) (string, error) {
	path := filepath.Join(repoRoot, filepath.FromSlash(AvailabilityPath))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create declaration dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultAvailability), 0o644); err != nil {
		return "", fmt.Errorf("write default availability: %w", err)
	}
	return path, nil
}
