package workflow

import "github.com/expenseflow/expenseflow/internal/models"

// State represents an expense status in the approval lifecycle
type State string

const (
	StatePending  State = models.StatusPending
	StateApproved State = models.StatusApproved
	StateRejected State = models.StatusRejected
)

var validStates = map[State]bool{
	StatePending:  true,
	StateApproved: true,
	StateRejected: true,
}

// Approved and rejected absorb: no transition leaves them.
var allowedTransitions = map[State]map[State]bool{
	StatePending: {
		StatePending:  true, // step advance
		StateApproved: true,
		StateRejected: true,
	},
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

// IsValid returns true if the state is a valid expense status
func (s State) IsValid() bool {
	return validStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// CanTransition reports whether moving from s to target is permitted
func (s State) CanTransition(target State) bool {
	return allowedTransitions[s][target]
}
