package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(cause, KindInternal, "DB_WRITE", "failed to persist")

	assert.Equal(t, "DB_WRITE: failed to persist: disk full", err.Error())
	assert.Equal(t, cause, errors.Unwrap(err))

	bare := New(KindValidation, "BAD_INPUT", "amount must be positive")
	assert.Equal(t, "BAD_INPUT: amount must be positive", bare.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "X", "x")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))

	// Kind survives wrapping with fmt.Errorf.
	wrapped := fmt.Errorf("outer: %w", New(KindStaleStep, "STALE_STEP", "moved on"))
	assert.Equal(t, KindStaleStep, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindStaleStep))
	assert.False(t, IsKind(wrapped, KindConflict))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "validation maps to 400", err: New(KindValidation, "X", "x"), expected: http.StatusBadRequest},
		{name: "not found maps to 404", err: New(KindNotFound, "X", "x"), expected: http.StatusNotFound},
		{name: "forbidden maps to 403", err: New(KindForbidden, "X", "x"), expected: http.StatusForbidden},
		{name: "conflict maps to 409", err: New(KindConflict, "X", "x"), expected: http.StatusConflict},
		{name: "already decided maps to 409", err: New(KindAlreadyDecided, "X", "x"), expected: http.StatusConflict},
		{name: "stale step maps to 409", err: New(KindStaleStep, "X", "x"), expected: http.StatusConflict},
		{name: "internal maps to 500", err: New(KindInternal, "X", "x"), expected: http.StatusInternalServerError},
		{name: "plain error maps to 500", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
