package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{name: "pending can advance to pending", from: StatePending, to: StatePending, allowed: true},
		{name: "pending can approve", from: StatePending, to: StateApproved, allowed: true},
		{name: "pending can reject", from: StatePending, to: StateRejected, allowed: true},
		{name: "approved is absorbing", from: StateApproved, to: StatePending, allowed: false},
		{name: "approved cannot reject", from: StateApproved, to: StateRejected, allowed: false},
		{name: "rejected is absorbing", from: StateRejected, to: StatePending, allowed: false},
		{name: "rejected cannot approve", from: StateRejected, to: StateApproved, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StatePending.IsTerminal())
	assert.True(t, StateApproved.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
}

func TestState_IsValid(t *testing.T) {
	assert.True(t, StatePending.IsValid())
	assert.True(t, StateApproved.IsValid())
	assert.True(t, StateRejected.IsValid())
	assert.False(t, State("cancelled").IsValid())
	assert.False(t, State("").IsValid())
}
