package artifacts

import (
	"errors"
	"fmt"
	"time"
)

// Timestamp modes accepted by artifact producers. Deterministic mode
// pins every emitted timestamp to the epoch so repeated runs over the
// same inputs produce byte-identical output.
const (
	TimestampModeDeterministic = "deterministic"
	TimestampModeWallclock     = "wallclock"

	// DeterministicTimestamp is the fixed instant used in
	// deterministic mode.
	DeterministicTimestamp = "1970-01-01T00:00:00Z"
)

// ErrInvalidTimestampMode reports an unrecognized timestamp mode.
var ErrInvalidTimestampMode = errors.New("invalid timestamp_mode")

// Timestamp resolves a timestamp mode to the string to embed in
// artifacts.
func Timestamp(mode string) (string, error) {
	switch mode {
	case TimestampModeDeterministic:
		return DeterministicTimestamp, nil
	case TimestampModeWallclock:
		return time.Now().UTC().Format(time.RFC3339), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestampMode, mode)
	}
}
