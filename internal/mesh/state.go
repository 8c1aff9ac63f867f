package mesh

import "fmt"

// State is the negotiation state of a peer.
type State int

const (
	// StateNew means no description has been exchanged yet.
	StateNew State = iota

	// StateOffering means a local offer awaits its answer.
	StateOffering

	// StateAnswering means a remote offer is being answered.
	StateAnswering

	// StateStable means the last offer/answer exchange completed.
	StateStable

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CanTransitionTo returns true if a transition to the target state is valid.
func (s State) CanTransitionTo(target State) bool {
	if s == StateClosed {
		return false
	}
	if target == StateClosed {
		return true
	}

	switch s {
	case StateNew, StateStable:
		return target == StateOffering || target == StateAnswering
	case StateOffering:
		// Stable on answer, Answering after a polite rollback.
		return target == StateStable || target == StateAnswering
	case StateAnswering:
		return target == StateStable
	default:
		return false
	}
}

// TransitionError reports an invalid state change.
type TransitionError struct {
	From    State
	To      State
	Peer    string
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid state transition for peer %s: %s -> %s: %s",
			e.Peer, e.From, e.To, e.Message)
	}
	return fmt.Sprintf("invalid state transition for peer %s: %s -> %s",
		e.Peer, e.From, e.To)
}

func NewTransitionError(from, to State, peer, message string) *TransitionError {
	return &TransitionError{
		From:    from,
		To:      to,
		Peer:    peer,
		Message: message,
	}
}
