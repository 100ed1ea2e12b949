package protocol

// ConflictError reports a proposal the relay refused. The proposer is
// expected to roll back its speculative state and pull the relay's truth
// back down.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return "proposal rejected: " + e.Message
}
