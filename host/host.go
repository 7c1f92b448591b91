// Package host defines the editor capabilities the tester consumes. Concrete
// hosts live in subpackages (neovim for Neovim, memhost for an in-memory editor).
package host

import (
	"context"

	"completiontester/types"
)

// Command identifiers understood by every host. Hosts map them onto their own
// command vocabulary.
const (
	CommandInlineTrigger  = "editor.action.inlineSuggest.trigger"
	CommandInlineCommit   = "editor.action.inlineSuggest.commit"
	CommandSuggestTrigger = "editor.action.triggerSuggest"
	CommandSuggestAccept  = "acceptSelectedSuggestion"
	// CommandSetContext takes (key string, value bool) and publishes a UI flag
	CommandSetContext = "setContext"
)

// UI context keys published through CommandSetContext
const (
	ContextRunning                      = "completionsTester.running"
	ContextShowTitleButtonsWithoutFocus = "completionsTester.showTitleButtonsWithoutFocus"
)

// LanguageScratch is the mode the scratch document is opened in. Completion
// providers typically ignore plain text, so a code language is used.
const LanguageScratch = "javascript"

type DocumentID int
type EditorID int

// Document is an open text document
type Document interface {
	ID() DocumentID
	Text() (string, error)
	PositionAt(offset int) (types.Position, error)
	IsClosed() bool
}

// Editor is a view showing a Document
type Editor interface {
	ID() EditorID
	Document() Document
	Selections() ([]types.Selection, error)
	SetSelections(ctx context.Context, sels []types.Selection) error
	// Insert reports false when the host declined the edit
	Insert(ctx context.Context, pos types.Position, text string) (bool, error)
	Hide(ctx context.Context) error
}

// ShowOptions controls how a document is brought into view
type ShowOptions struct {
	Preview       bool
	PreserveFocus bool
}

// Host is the editor the tester drives
type Host interface {
	OpenDocument(ctx context.Context, language, content string) (Document, error)
	ShowDocument(ctx context.Context, doc Document, opts ShowOptions) (Editor, error)
	// ReplaceDocument swaps the whole text of doc; false when the host declined
	ReplaceDocument(ctx context.Context, doc Document, text string) (bool, error)
	ExecuteCommand(ctx context.Context, command string, args ...any) error
	Events() Events
}

// SelectionChangeKind tells interactive selection changes apart from programmatic ones
type SelectionChangeKind int

const (
	SelectionChangeUnknown SelectionChangeKind = iota
	SelectionChangeKeyboard
	SelectionChangeMouse
	SelectionChangeCommand
)

// String returns a human-readable name for the change kind
func (k SelectionChangeKind) String() string {
	switch k {
	case SelectionChangeKeyboard:
		return "Keyboard"
	case SelectionChangeMouse:
		return "Mouse"
	case SelectionChangeCommand:
		return "Command"
	default:
		return "Unknown"
	}
}

type SelectionEvent struct {
	Editor EditorID
	Kind   SelectionChangeKind
	// Echo is set by hosts that can tell the event was caused by our own request
	Echo bool
}

type DocumentEvent struct {
	Document DocumentID
	Echo     bool
}

// Events delivers change notifications. Handlers may run on any goroutine.
type Events interface {
	OnSelectionChanged(fn func(SelectionEvent)) Subscription
	OnDocumentChanged(fn func(DocumentEvent)) Subscription
}

type Subscription interface {
	Close() error
}

// SubscriptionFunc adapts a func to Subscription
type SubscriptionFunc func() error

func (f SubscriptionFunc) Close() error { return f() }

// NotifyLevel is the severity of a user-facing message
type NotifyLevel int

const (
	NotifyInfo NotifyLevel = iota
	NotifyWarn
	NotifyError
)

// Notifier is implemented by hosts that can show one-line messages to the user
type Notifier interface {
	Notify(ctx context.Context, level NotifyLevel, msg string) error
}

// PluginChecker is implemented by hosts that can verify the completion provider
// under test is installed, activating it if needed
type PluginChecker interface {
	EnsurePlugin(ctx context.Context, name string) error
}
