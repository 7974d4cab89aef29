package gitx

// Refusal is an expected, policy-driven preflight refusal. It is never
// retried; the CLI boundary maps it to a non-zero exit code.
type Refusal struct {
	Message string
}

func (r *Refusal) Error() string {
	return r.Message
}
