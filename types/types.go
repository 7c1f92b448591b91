package types

import (
	"fmt"
	"time"
)

// Mode selects which completion mechanisms a trial exercises
type Mode string

const (
	ModeBoth    Mode = "both"
	ModeInline  Mode = "inline"
	ModeSuggest Mode = "suggest"
)

// ParseMode converts a configuration string into a Mode
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBoth, ModeInline, ModeSuggest:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported completion mode: %q", s)
	}
}

// AttemptsInline reports whether the mode tries inline suggestions
func (m Mode) AttemptsInline() bool {
	return m == ModeBoth || m == ModeInline
}

// AttemptsSuggest reports whether the mode tries the suggestion list
func (m Mode) AttemptsSuggest() bool {
	return m == ModeBoth || m == ModeSuggest
}

// Config is an immutable snapshot of the tester settings, read once per loop iteration.
// Durations are already sanitized (finite, non-negative) when handed to the core.
type Config struct {
	Mode              Mode
	InlineTimeout     time.Duration
	SuggestTimeout    time.Duration
	LoopDelay         time.Duration
	PauseOnUserTyping bool
	// ShowTitleButtonsWithoutFocus is only consumed by the UI layer
	ShowTitleButtonsWithoutFocus bool
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		Mode:              ModeBoth,
		InlineTimeout:     1200 * time.Millisecond,
		SuggestTimeout:    800 * time.Millisecond,
		LoopDelay:         300 * time.Millisecond,
		PauseOnUserTyping: true,
	}
}

// Position is a zero-based line/character location. Character counts runes, not bytes.
type Position struct {
	Line      int
	Character int
}

// Selection is a range with an anchor and an active (caret) end
type Selection struct {
	Anchor Position
	Active Position
}

// Caret returns an empty selection at p
func Caret(p Position) Selection {
	return Selection{Anchor: p, Active: p}
}

// IsEmpty reports whether the selection is a bare caret
func (s Selection) IsEmpty() bool {
	return s.Anchor == s.Active
}

// Mechanism identifies one of the two completion surfaces under test
type Mechanism int

const (
	MechanismInline Mechanism = iota
	MechanismSuggest
)

// String returns a human-readable name for the mechanism
func (m Mechanism) String() string {
	switch m {
	case MechanismInline:
		return "inline"
	case MechanismSuggest:
		return "suggest"
	default:
		return "unknown"
	}
}

// TrialResult is the measurement of one trigger/commit attempt
type TrialResult struct {
	Mechanism   Mechanism
	BytesBefore int
	BytesAfter  int
	Delta       int    // BytesAfter - BytesBefore
	Inserted    string // Text the host added during the attempt
}

// Accepted reports whether the attempt grew the document
func (r TrialResult) Accepted() bool {
	return r.Delta > 0
}
