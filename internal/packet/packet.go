// Package packet loads and validates task packets, the immutable input
// specification for one unit of orchestrated work.
package packet

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/taskpack/taskpack/internal/artifacts"
)

// Execution modes accepted in a task packet.
const (
	ModeAuto   = "auto"
	ModeManual = "manual"
)

// ProjectIdentity is the optional PROJECT IDENTITY header declared by a
// packet to bind it to one repository.
type ProjectIdentity struct {
	ProjectID    string `json:"project_id"`
	IntendedRepo string `json:"intended_repo,omitempty"`
}

// Packet is a loaded task packet. Immutable once loaded; identified by
// the SHA-256 of its file bytes.
type Packet struct {
	TaskID          string           `json:"task_id"`
	ExecutionMode   string           `json:"execution_mode"`
	Steps           []string         `json:"steps"`
	ProjectIdentity *ProjectIdentity `json:"project_identity,omitempty"`

	// Path is the packet file path as given by the caller.
	Path string `json:"-"`
	// SHA256 is the content hash of the packet file.
	SHA256 string `json:"-"`
}

// Load reads and validates a task packet from path.
func Load(path string) (*Packet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task packet: %w", err)
	}

	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse task packet %s: %w", path, err)
	}

	p.Path = path
	p.SHA256 = artifacts.SHA256Bytes(raw)
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid task packet %s: %w", path, err)
	}
	return &p, nil
}

func (p *Packet) validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return ErrMissingTaskID
	}
	if p.ExecutionMode == "" {
		p.ExecutionMode = ModeAuto
	}
	if p.ExecutionMode != ModeAuto && p.ExecutionMode != ModeManual {
		return fmt.Errorf("%w: %q", ErrInvalidExecutionMode, p.ExecutionMode)
	}
	if len(p.Steps) == 0 {
		return ErrNoSteps
	}
	for i, step := range p.Steps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("%w: step %d", ErrEmptyStep, i)
		}
	}
	if p.ProjectIdentity != nil && strings.TrimSpace(p.ProjectIdentity.ProjectID) == "" {
		return ErrEmptyProjectIdentity
	}
	return nil
}
