package packet

import "errors"

// Sentinel errors for packet validation. Callers match with errors.Is.
var (
	// ErrMissingTaskID is returned when task_id is empty.
	ErrMissingTaskID = errors.New("task_id must not be empty")
	// ErrInvalidExecutionMode is returned for modes other than auto/manual.
	ErrInvalidExecutionMode = errors.New("execution_mode must be auto or manual")
	// ErrNoSteps is returned when a packet declares no steps.
	ErrNoSteps = errors.New("packet must declare at least one step")
	// ErrEmptyStep is returned when a declared step is blank.
	ErrEmptyStep = errors.New("packet step must not be blank")
	// ErrEmptyProjectIdentity is returned when the PROJECT IDENTITY header
	// is present but carries no project_id.
	ErrEmptyProjectIdentity = errors.New("project_identity.project_id must not be empty")
)
