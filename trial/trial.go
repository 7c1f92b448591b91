// Package trial runs one completion trial: seed insertion followed by inline
// and/or list completion attempts, each measured by document byte growth.
package trial

import (
	"context"
	"fmt"
	"time"

	"completiontester/activity"
	"completiontester/document"
	"completiontester/host"
	"completiontester/logger"
	"completiontester/text"
	"completiontester/timing"
	"completiontester/types"
)

// Seeds is the fixed rotation of seed tokens typed before each trial
var Seeds = []string{"i", "r", "h", "t", "j"}

// SeedCursor walks Seeds cyclically
type SeedCursor struct {
	n int
}

// Next returns Seeds[n mod len(Seeds)] and advances
func (c *SeedCursor) Next() string {
	s := Seeds[c.n%len(Seeds)]
	c.n++
	return s
}

// Count returns how many seeds have been handed out since the last Reset
func (c *SeedCursor) Count() int {
	return c.n
}

func (c *SeedCursor) Reset() {
	c.n = 0
}

// mechanism pairs the trigger and commit commands of one completion surface
type mechanism struct {
	kind    types.Mechanism
	trigger string
	commit  string
}

var (
	inlineMechanism  = mechanism{kind: types.MechanismInline, trigger: host.CommandInlineTrigger, commit: host.CommandInlineCommit}
	suggestMechanism = mechanism{kind: types.MechanismSuggest, trigger: host.CommandSuggestTrigger, commit: host.CommandSuggestAccept}
)

// Outcome is everything measured during one iteration's trial
type Outcome struct {
	Seed    string
	Results []types.TrialResult
}

// Delta returns the byte growth of the last attempt, or 0 when nothing was attempted
func (o Outcome) Delta() int {
	if len(o.Results) == 0 {
		return 0
	}
	return o.Results[len(o.Results)-1].Delta
}

// Engine drives trials against a host. It is not safe for concurrent use; the
// loop controller owns it.
type Engine struct {
	host       host.Host
	classifier *activity.Classifier
	clock      timing.Clock
	seeds      SeedCursor
}

func New(h host.Host, classifier *activity.Classifier, clock timing.Clock) *Engine {
	return &Engine{host: h, classifier: classifier, clock: clock}
}

// Seeds returns the engine's seed cursor
func (e *Engine) Seeds() *SeedCursor {
	return &e.seeds
}

// InsertSeed types the next seed token at the end of the document and leaves
// the caret after it. The cursor advances even when the insert fails.
func (e *Engine) InsertSeed(ctx context.Context, ed host.Editor) (string, error) {
	doc := ed.Document()
	at, err := document.End(doc)
	if err != nil {
		return "", err
	}

	if err := e.classifier.Suppress(func() error {
		return ed.SetSelections(ctx, []types.Selection{types.Caret(at)})
	}); err != nil {
		return "", err
	}

	seed := e.seeds.Next()

	err = e.classifier.Suppress(func() error {
		applied, err := ed.Insert(ctx, at, seed)
		if err != nil {
			if types.IsCancelled(err) {
				return err
			}
			return fmt.Errorf("%w: %w", types.ErrSeedInsertFailed, err)
		}
		if !applied {
			return types.ErrSeedInsertFailed
		}
		after, err := document.End(doc)
		if err != nil {
			return err
		}
		return ed.SetSelections(ctx, []types.Selection{types.Caret(after)})
	})
	if err != nil {
		return seed, err
	}

	return seed, timing.Delay(ctx, e.clock, timing.SettleDelay)
}

// TryInline triggers an inline suggestion, waits timeout for it to appear,
// commits it and measures growth against before (the byte length after seeding)
func (e *Engine) TryInline(ctx context.Context, doc host.Document, before string, timeout time.Duration) (types.TrialResult, error) {
	return e.attempt(ctx, doc, before, timeout, inlineMechanism)
}

// TrySuggest is TryInline for the suggestion list
func (e *Engine) TrySuggest(ctx context.Context, doc host.Document, before string, timeout time.Duration) (types.TrialResult, error) {
	return e.attempt(ctx, doc, before, timeout, suggestMechanism)
}

func (e *Engine) attempt(ctx context.Context, doc host.Document, before string, timeout time.Duration, m mechanism) (types.TrialResult, error) {
	defer logger.Trace("trial." + m.kind.String())()

	if err := e.classifier.Suppress(func() error {
		return e.host.ExecuteCommand(ctx, m.trigger)
	}); err != nil {
		return types.TrialResult{}, fmt.Errorf("failed to trigger %s completion: %w", m.kind, err)
	}

	// The provider window is only cut short by ctx, never by user activity.
	if err := timing.Delay(ctx, e.clock, timeout); err != nil {
		return types.TrialResult{}, err
	}

	if err := e.classifier.Suppress(func() error {
		return e.host.ExecuteCommand(ctx, m.commit)
	}); err != nil {
		return types.TrialResult{}, fmt.Errorf("failed to commit %s completion: %w", m.kind, err)
	}

	if err := timing.Delay(ctx, e.clock, timing.SettleDelay); err != nil {
		return types.TrialResult{}, err
	}

	after, err := doc.Text()
	if err != nil {
		return types.TrialResult{}, fmt.Errorf("failed to read document: %w", err)
	}

	r := types.TrialResult{
		Mechanism:   m.kind,
		BytesBefore: text.ByteLen(before),
		BytesAfter:  text.ByteLen(after),
	}
	r.Delta = r.BytesAfter - r.BytesBefore
	if r.Delta != 0 {
		r.Inserted = text.Inserted(before, after)
	}
	return r, nil
}

// Run seeds the document in ed and attempts completion according to cfg.Mode.
// In ModeBoth the suggestion list is only tried when the inline attempt left
// the document unchanged.
func (e *Engine) Run(ctx context.Context, ed host.Editor, cfg types.Config) (Outcome, error) {
	seed, err := e.InsertSeed(ctx, ed)
	out := Outcome{Seed: seed}
	if err != nil {
		return out, err
	}

	doc := ed.Document()
	seeded, err := doc.Text()
	if err != nil {
		return out, fmt.Errorf("failed to read document: %w", err)
	}

	delta := 0
	if cfg.Mode.AttemptsInline() {
		r, err := e.TryInline(ctx, doc, seeded, cfg.InlineTimeout)
		if err != nil {
			return out, err
		}
		out.Results = append(out.Results, r)
		delta = r.Delta
	}

	if delta == 0 && cfg.Mode.AttemptsSuggest() {
		r, err := e.TrySuggest(ctx, doc, seeded, cfg.SuggestTimeout)
		if err != nil {
			return out, err
		}
		out.Results = append(out.Results, r)
	}

	return out, nil
}
