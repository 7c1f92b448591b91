// Package document owns the scratch document the tester types into.
package document

import (
	"context"
	"fmt"

	"completiontester/activity"
	"completiontester/host"
	"completiontester/logger"
	"completiontester/text"
	"completiontester/timing"
	"completiontester/types"
)

// Snapshot is the document state a macro-cycle rolls back to
type Snapshot struct {
	Text       string
	Selections []types.Selection
	valid      bool
}

// IsZero reports whether no snapshot has been captured
func (s Snapshot) IsZero() bool {
	return !s.valid
}

// Manager creates, shows, restores and releases the scratch document. It is
// owned by a single loop goroutine; Release must only run once that loop exited.
type Manager struct {
	host       host.Host
	classifier *activity.Classifier
	clock      timing.Clock

	doc    host.Document
	editor host.Editor
}

func NewManager(h host.Host, classifier *activity.Classifier, clock timing.Clock) *Manager {
	return &Manager{host: h, classifier: classifier, clock: clock}
}

// Editor returns the tracked editor, or nil
func (m *Manager) Editor() host.Editor {
	return m.editor
}

// Document returns the scratch document, or nil
func (m *Manager) Document() host.Document {
	return m.doc
}

// Ensure returns the scratch document, opening a new one when there is none or
// the previous one was closed. The old editor is dropped with a closed document.
func (m *Manager) Ensure(ctx context.Context) (host.Document, error) {
	if m.doc == nil || m.doc.IsClosed() {
		doc, err := m.host.OpenDocument(ctx, host.LanguageScratch, "")
		if err != nil {
			if types.IsCancelled(err) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: open: %w", types.ErrDocumentUnavailable, err)
		}
		if m.doc != nil {
			logger.Info("scratch document was closed, reopened as %d", doc.ID())
		}
		m.doc = doc
		m.editor = nil
		m.classifier.TrackDocument(doc.ID())
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.doc, nil
}

// Show brings doc to the front as the active editor and tracks the editor
func (m *Manager) Show(ctx context.Context, doc host.Document) (host.Editor, error) {
	ed, err := activity.Suppressed(m.classifier, func() (host.Editor, error) {
		return m.host.ShowDocument(ctx, doc, host.ShowOptions{Preview: false, PreserveFocus: false})
	})
	if err != nil {
		if types.IsCancelled(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: show: %w", types.ErrDocumentUnavailable, err)
	}
	m.editor = ed
	m.classifier.TrackEditor(ed.ID())
	return ed, nil
}

// Capture records the current text and selections of doc
func (m *Manager) Capture(doc host.Document, ed host.Editor) (Snapshot, error) {
	s, err := doc.Text()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read document: %w", err)
	}
	sels, err := ed.Selections()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read selections: %w", err)
	}
	return Snapshot{Text: s, Selections: append([]types.Selection(nil), sels...), valid: true}, nil
}

// Restore replaces the whole document with the snapshot text, waits for the
// host to settle, then reapplies the snapshot selections if doc is still the
// one shown in the tracked editor.
func (m *Manager) Restore(ctx context.Context, doc host.Document, snap Snapshot) error {
	defer logger.Trace("document.Restore")()

	err := m.classifier.Suppress(func() error {
		applied, err := m.host.ReplaceDocument(ctx, doc, snap.Text)
		if err != nil {
			if types.IsCancelled(err) {
				return err
			}
			return fmt.Errorf("%w: %w", types.ErrRestoreFailed, err)
		}
		if !applied {
			return types.ErrRestoreFailed
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := timing.Delay(ctx, m.clock, timing.SettleDelay); err != nil {
		return err
	}

	if m.editor == nil || m.editor.Document().ID() != doc.ID() {
		return nil
	}
	sels := snap.Selections
	if len(sels) == 0 {
		sels = []types.Selection{types.Caret(types.Position{})}
	}
	return m.classifier.Suppress(func() error {
		return m.editor.SetSelections(ctx, sels)
	})
}

// PrepareNextLine appends a newline at the document end and moves the caret
// after it, so the next seed starts on a fresh line
func (m *Manager) PrepareNextLine(ctx context.Context, ed host.Editor) error {
	err := m.classifier.Suppress(func() error {
		doc := ed.Document()
		end, err := End(doc)
		if err != nil {
			return err
		}
		if err := ed.SetSelections(ctx, []types.Selection{types.Caret(end)}); err != nil {
			return err
		}
		applied, err := ed.Insert(ctx, end, "\n")
		if err != nil {
			if types.IsCancelled(err) {
				return err
			}
			return fmt.Errorf("%w: %w", types.ErrNewlineFailed, err)
		}
		if !applied {
			return types.ErrNewlineFailed
		}
		after, err := End(doc)
		if err != nil {
			return err
		}
		return ed.SetSelections(ctx, []types.Selection{types.Caret(after)})
	})
	if err != nil {
		return err
	}
	return timing.Delay(ctx, m.clock, timing.SettleDelay)
}

// Release hides the tracked editor and forgets the document. Hide failures are
// returned for the caller to log; state is cleared regardless.
func (m *Manager) Release(ctx context.Context) error {
	var err error
	if m.editor != nil {
		err = m.editor.Hide(ctx)
	}
	m.editor = nil
	m.doc = nil
	m.classifier.Untrack()
	return err
}

// End returns the position after the last character, located by character
// length rather than display lines
func End(doc host.Document) (types.Position, error) {
	s, err := doc.Text()
	if err != nil {
		return types.Position{}, fmt.Errorf("failed to read document: %w", err)
	}
	return doc.PositionAt(text.RuneLen(s))
}
