package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEditNotApplied is returned when the host reports that an edit did not apply
	ErrEditNotApplied = errors.New("edit was not applied")

	ErrSeedInsertFailed = fmt.Errorf("failed to insert seed text: %w", ErrEditNotApplied)
	ErrNewlineFailed    = fmt.Errorf("failed to append newline for next iteration: %w", ErrEditNotApplied)
	ErrRestoreFailed    = fmt.Errorf("failed to restore document: %w", ErrEditNotApplied)

	// ErrDocumentUnavailable is returned when the scratch document cannot be opened or shown
	ErrDocumentUnavailable = errors.New("scratch document unavailable")
)

// IsCancelled reports whether err is the result of a cooperative stop
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
