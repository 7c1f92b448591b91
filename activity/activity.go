// Package activity tells genuine user activity apart from the tester's own edits.
//
// Every mutation the tester makes runs inside Suppress, which raises a reentrant
// depth counter for its duration. Change events that target the tester's own
// document or editor while the counter is raised are ignored; anything else
// refreshes the last-activity timestamp used to pause while the user is typing.
package activity

import (
	"sync"
	"time"

	"completiontester/host"
	"completiontester/logger"
	"completiontester/timing"

	"github.com/hashicorp/go-multierror"
)

// Classifier tracks suppression depth and the last genuine user activity
type Classifier struct {
	clock timing.Clock

	mu        sync.Mutex
	depth     int
	last      time.Time
	doc       host.DocumentID
	editor    host.EditorID
	hasDoc    bool
	hasEditor bool
	subs      []host.Subscription
}

func New(clock timing.Clock) *Classifier {
	return &Classifier{clock: clock}
}

func (c *Classifier) enter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth++
}

func (c *Classifier) exit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depth = max(0, c.depth-1)
}

// Suppress runs fn with suppression raised. The depth is restored on every
// return path, including errors and panics.
func (c *Classifier) Suppress(fn func() error) error {
	c.enter()
	defer c.exit()
	return fn()
}

// Suppressed is Suppress for operations that produce a value
func Suppressed[T any](c *Classifier, fn func() (T, error)) (T, error) {
	c.enter()
	defer c.exit()
	return fn()
}

// Depth returns the current suppression nesting depth
func (c *Classifier) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depth
}

// LastActivity returns when genuine user activity was last seen (zero if never)
func (c *Classifier) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// TrackDocument marks doc as the tester's own document
func (c *Classifier) TrackDocument(doc host.DocumentID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc, c.hasDoc = doc, true
}

// TrackEditor marks ed as the tester's own editor
func (c *Classifier) TrackEditor(ed host.EditorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editor, c.hasEditor = ed, true
}

// Untrack forgets the tester's document and editor
func (c *Classifier) Untrack() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasDoc, c.hasEditor = false, false
}

// OnSelectionChanged classifies a selection change
func (c *Classifier) OnSelectionChanged(ev host.SelectionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	own := c.hasEditor && ev.Editor == c.editor
	if own && (c.depth > 0 || ev.Echo) {
		logger.Debug("activity: ignoring own selection change (kind=%s, depth=%d)", ev.Kind, c.depth)
		return
	}
	c.last = c.clock.Now()
}

// OnDocumentChanged classifies a document change
func (c *Classifier) OnDocumentChanged(ev host.DocumentEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	own := c.hasDoc && ev.Document == c.doc
	if own && (c.depth > 0 || ev.Echo) {
		logger.Debug("activity: ignoring own document change (depth=%d)", c.depth)
		return
	}
	c.last = c.clock.Now()
}

// Install subscribes to the host's change events. A second call while
// installed is a no-op.
func (c *Classifier) Install(events host.Events) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs) > 0 {
		return
	}
	c.subs = append(c.subs,
		events.OnSelectionChanged(c.OnSelectionChanged),
		events.OnDocumentChanged(c.OnDocumentChanged),
	)
}

// Uninstall removes the subscriptions and resets the activity timestamp
func (c *Classifier) Uninstall() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.last = time.Time{}
	c.mu.Unlock()

	var result *multierror.Error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Installed reports whether listeners are currently subscribed
func (c *Classifier) Installed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs) > 0
}
