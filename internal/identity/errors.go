package identity

// RefusalKind discriminates the guard check that refused.
type RefusalKind string

// Refusal kinds, one per binding check.
const (
	RefusalPacketMismatch RefusalKind = "packet_mismatch"
	RefusalMissingHeader  RefusalKind = "missing_header"
	RefusalRunMismatch    RefusalKind = "run_mismatch"
	RefusalBranchMismatch RefusalKind = "branch_mismatch"
)

// missingProjectHeaderRefusal is the exact refusal text for a packet
// that omits a required PROJECT IDENTITY header. The wording is a UX
// contract; tests assert on the literal string.
const missingProjectHeaderRefusal = "ERROR: Task Packet missing required PROJECT IDENTITY header.\nRefusing to run."

// Refusal is an expected, policy-driven identity refusal. It carries
// the exact mismatch and a stable human-readable message; it is never
// retried and maps to a non-zero exit code at the CLI boundary.
type Refusal struct {
	Kind     RefusalKind
	Expected string
	Observed string
	Message  string
}

func (r *Refusal) Error() string {
	return r.Message
}
