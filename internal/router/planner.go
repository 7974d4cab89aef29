package router

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taskpack/taskpack/internal/packet"
)

// defaultCapabilityTag is assumed for steps whose text implies no
// specific capability.
const defaultCapabilityTag = "code_edit"

// stepTagKeywords maps step-text keywords to capability tags. The scan
// is a fixed table so planning stays deterministic.
var stepTagKeywords = []struct {
	keyword string
	tag     string
}{
	{"test", "tests"},
	{"doc", "docs"},
	{"review", "review"},
	{"command", "quick_commands"},
	{"run ", "quick_commands"},
}

// StepAssignment records the routing decision for one packet step. An
// unassigned step keeps its position with empty runner/model.
type StepAssignment struct {
	Step      string `json:"step"`
	Runner    string `json:"runner"`
	Model     string `json:"model"`
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// Assigned reports whether the step cleared the scoring threshold.
func (a StepAssignment) Assigned() bool {
	return a.Runner != "" && a.Model != ""
}

// PlanPolicy echoes the routing policy into the route plan artifact.
type PlanPolicy struct {
	MinTotalScore    int      `json:"min_total_score"`
	EscalationLadder []string `json:"escalation_ladder"`
}

// HandoffChunk is a self-contained manual instruction block for one
// unassigned (or manual-mode) step. The instruction text never carries
// timestamps.
type HandoffChunk struct {
	Step              string   `json:"step"`
	RunnerID          string   `json:"runner_id"`
	ModelID           string   `json:"model_id"`
	InstructionsBlock string   `json:"instructions_block"`
	ExpectedArtifacts []string `json:"expected_artifacts"`
	ResumeCommand     string   `json:"resume_command"`
}

// RoutePlan is the derived, deterministic routing artifact. Step order
// always equals packet step order.
type RoutePlan struct {
	PacketPath    string           `json:"packet_path"`
	RunDir        string           `json:"run_dir"`
	Policy        PlanPolicy       `json:"policy"`
	Steps         []StepAssignment `json:"steps"`
	HandoffChunks []HandoffChunk   `json:"handoff_chunks,omitempty"`
}

// Unassigned returns the steps that did not clear the threshold, in
// plan order.
func (p *RoutePlan) Unassigned() []StepAssignment {
	var out []StepAssignment
	for _, step := range p.Steps {
		if !step.Assigned() {
			out = append(out, step)
		}
	}
	return out
}

// FullyAssigned reports whether every step has a runner+model.
func (p *RoutePlan) FullyAssigned() bool {
	return len(p.Unassigned()) == 0
}

// BuildRoutePlan computes the per-step assignment for a packet against
// an availability declaration. Pure: no I/O, deterministic given its
// two inputs.
func BuildRoutePlan(p *packet.Packet, av *Availability) *RoutePlan {
	plan := &RoutePlan{
		PacketPath: p.Path,
		Policy: PlanPolicy{
			MinTotalScore:    av.Policy.MinTotalScore,
			EscalationLadder: av.Policy.EscalationLadder,
		},
		Steps: make([]StepAssignment, 0, len(p.Steps)),
	}

	for _, step := range p.Steps {
		plan.Steps = append(plan.Steps, assignStep(step, av))
	}
	return plan
}

// assignStep walks the escalation ladder in declared order, then the
// runners in declaration order, and picks the first available
// combination whose score clears min_total_score. First match wins.
func assignStep(step string, av *Availability) StepAssignment {
	required := StepTags(step)

	for _, modelName := range av.Policy.EscalationLadder {
		model, ok := av.Models[modelName]
		if !ok {
			continue
		}
		for _, runnerName := range av.RunnerOrder {
			runner := av.Runners[runnerName]
			if !runner.Available {
				continue
			}
			score := comboScore(required, model.Strengths, runner.Strengths, av.Policy.TagWeights)
			if score >= av.Policy.MinTotalScore {
				return StepAssignment{
					Step:   step,
					Runner: runnerName,
					Model:  modelName,
					Score:  score,
					Rationale: fmt.Sprintf(
						"matched tags [%s] with score %d >= min_total_score %d",
						strings.Join(required, " "), score, av.Policy.MinTotalScore,
					),
				}
			}
		}
	}

	return StepAssignment{
		Step: step,
		Rationale: fmt.Sprintf(
			"no available runner/model combination scored >= min_total_score %d for tags [%s]",
			av.Policy.MinTotalScore, strings.Join(StepTags(step), " "),
		),
	}
}

// StepTags derives the capability tags a step requires from its text.
// Unrecognized steps fall back to the generic code_edit tag.
func StepTags(step string) []string {
	lowered := strings.ToLower(step)
	seen := map[string]bool{}
	var tags []string
	for _, entry := range stepTagKeywords {
		if strings.Contains(lowered, entry.keyword) && !seen[entry.tag] {
			seen[entry.tag] = true
			tags = append(tags, entry.tag)
		}
	}
	if len(tags) == 0 {
		return []string{defaultCapabilityTag}
	}
	sort.Strings(tags)
	return tags
}

// comboScore sums the weights of required tags present in the union of
// model and runner strengths. Missing weight entries count as 1.
func comboScore(required, modelStrengths, runnerStrengths []string, weights map[string]int) int {
	union := map[string]bool{}
	for _, tag := range modelStrengths {
		union[tag] = true
	}
	for _, tag := range runnerStrengths {
		union[tag] = true
	}

	score := 0
	for _, tag := range required {
		if !union[tag] {
			continue
		}
		weight, ok := weights[tag]
		if !ok {
			weight = 1
		}
		score += weight
	}
	return score
}
