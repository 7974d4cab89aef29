package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskpack/taskpack/internal/router"
	"github.com/taskpack/taskpack/internal/runners"
)

// sentinelSuffix marks a manually completed step. The operator creates
// the sentinel file inside the run directory after finishing the chunk.
const sentinelSuffix = ".DONE"

// sentinelFilename derives the completion sentinel name for a step.
// The token is the step text uppercased with runs of non-alphanumerics
// folded to a single underscore, so the name is filesystem-safe and
// stable.
func sentinelFilename(step string) string {
	return "STEP_" + stepToken(step) + sentinelSuffix
}

func stepToken(step string) string {
	var b strings.Builder
	sep := true // suppress leading and repeated separators
	for _, r := range strings.ToUpper(step) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
			sep = false
		default:
			if !sep {
				b.WriteByte('_')
				sep = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// sentinelPresent reports whether the operator has marked the step done
// in the run directory.
func sentinelPresent(runDir, step string) bool {
	info, err := os.Stat(filepath.Join(runDir, sentinelFilename(step)))
	return err == nil && info.Mode().IsRegular()
}

// buildHandoffChunk renders the self-contained instruction block for one
// step. The block embeds only the run id, never the run root, and never
// a timestamp, so chunk bytes are reproducible anywhere.
func buildHandoffChunk(asg router.StepAssignment, packetPath, runID string) router.HandoffChunk {
	runnerID := "unassigned"
	if asg.Runner != "" {
		runnerID = runners.DisplayID(asg.Runner)
	}
	modelID := asg.Model
	if modelID == "" {
		modelID = "unspecified"
	}
	sentinel := sentinelFilename(asg.Step)

	var b strings.Builder
	fmt.Fprintf(&b, "Step: %s\n", asg.Step)
	fmt.Fprintf(&b, "Runner: %s\n", runnerID)
	fmt.Fprintf(&b, "Model: %s\n", modelID)
	fmt.Fprintf(&b, "Input: %s\n", packetPath)
	fmt.Fprintf(&b, "Output dir: %s\n", runID)
	fmt.Fprintf(&b, "After completion: create %s/%s\n", runID, sentinel)

	return router.HandoffChunk{
		Step:              asg.Step,
		RunnerID:          runnerID,
		ModelID:           modelID,
		InstructionsBlock: b.String(),
		ExpectedArtifacts: []string{sentinel},
		ResumeCommand:     "tp orchestrate " + packetPath,
	}
}

// RenderHandoffChunks formats chunks for terminal output, one banner per
// chunk with its position in the sequence.
func RenderHandoffChunks(chunks []router.HandoffChunk) string {
	var b strings.Builder
	for i, chunk := range chunks {
		fmt.Fprintf(&b, "HANDOFF CHUNK %d/%d (%s)\n", i+1, len(chunks), chunk.Step)
		b.WriteString(chunk.InstructionsBlock)
		fmt.Fprintf(&b, "Resume: %s\n", chunk.ResumeCommand)
		if i != len(chunks)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
