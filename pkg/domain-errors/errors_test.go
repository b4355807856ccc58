package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeNotFound, "case not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("dispatch: %w", New(CodeConcurrentStateChange, "stale"))
		assert.True(t, HasCode(err, CodeConcurrentStateChange))
	})

	t.Run("matches inner code of nested coded errors", func(t *testing.T) {
		inner := New(CodeTimeout, "vendor timed out")
		err := Wrap(inner, CodeVendorFailure, "fetch scores")
		assert.True(t, HasCode(err, CodeVendorFailure))
		assert.True(t, HasCode(err, CodeTimeout))
		assert.Equal(t, CodeVendorFailure, CodeOf(err))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{CodeUnexpectedActionForState, true},
		{CodeStateKindMismatch, true},
		{CodeConfigKindMismatch, true},
		{CodeConcurrentStateChange, true},
		{CodeTimeout, false},
		{CodeUnavailable, false},
		{CodeVendorFailure, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("run: %w", New(tt.code, "x"))
			assert.Equal(t, tt.fatal, IsFatal(err))
		})
	}
	assert.False(t, IsFatal(errors.New("plain")))
}
