package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"completiontester/assert"
)

func TestParseMode(t *testing.T) {
	for _, s := range []string{"both", "inline", "suggest"} {
		m, err := ParseMode(s)
		assert.NoError(t, err, s)
		assert.Equal(t, Mode(s), m, s)
	}

	_, err := ParseMode("Inline")
	assert.Error(t, err, "modes are case sensitive")
	_, err = ParseMode("")
	assert.Error(t, err, "empty mode")
}

func TestModeAttempts(t *testing.T) {
	tests := []struct {
		mode    Mode
		inline  bool
		suggest bool
	}{
		{ModeBoth, true, true},
		{ModeInline, true, false},
		{ModeSuggest, false, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.inline, tt.mode.AttemptsInline(), string(tt.mode)+" inline")
		assert.Equal(t, tt.suggest, tt.mode.AttemptsSuggest(), string(tt.mode)+" suggest")
	}
}

func TestSelection(t *testing.T) {
	c := Caret(Position{Line: 2, Character: 3})
	assert.True(t, c.IsEmpty(), "caret is empty")
	assert.Equal(t, Position{Line: 2, Character: 3}, c.Active, "active end")

	sel := Selection{Anchor: Position{Line: 0}, Active: Position{Line: 0, Character: 1}}
	assert.False(t, sel.IsEmpty(), "range is not empty")
}

func TestTrialResultAccepted(t *testing.T) {
	assert.False(t, TrialResult{BytesBefore: 4, BytesAfter: 4}.Accepted(), "zero delta")
	assert.True(t, TrialResult{BytesBefore: 4, BytesAfter: 6, Delta: 2}.Accepted(), "growth")
	assert.False(t, TrialResult{BytesBefore: 6, BytesAfter: 4, Delta: -2}.Accepted(), "shrink")
	assert.Equal(t, "inline", MechanismInline.String(), "inline name")
	assert.Equal(t, "suggest", MechanismSuggest.String(), "suggest name")
	assert.Equal(t, "unknown", Mechanism(7).String(), "unknown name")
}

func TestErrorsWrapNotApplied(t *testing.T) {
	for _, err := range []error{ErrSeedInsertFailed, ErrNewlineFailed, ErrRestoreFailed} {
		assert.ErrorIs(t, err, ErrEditNotApplied, err.Error())
	}
	wrapped := fmt.Errorf("iteration: %w", ErrRestoreFailed)
	assert.ErrorIs(t, wrapped, ErrEditNotApplied, "wrapped twice")
	assert.False(t, errors.Is(ErrDocumentUnavailable, ErrEditNotApplied), "unavailable is distinct")
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(context.Canceled), "canceled")
	assert.True(t, IsCancelled(fmt.Errorf("delay: %w", context.Canceled)), "wrapped")
	assert.False(t, IsCancelled(context.DeadlineExceeded), "deadline is not a stop")
	assert.False(t, IsCancelled(nil), "nil")
}
