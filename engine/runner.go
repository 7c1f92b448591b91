// Package engine contains the loop controller that repeatedly seeds the scratch
// document, exercises completion, and rolls the document back every macro-cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"completiontester/activity"
	"completiontester/document"
	"completiontester/host"
	"completiontester/logger"
	"completiontester/metrics"
	"completiontester/timing"
	"completiontester/trial"
	"completiontester/types"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// MacroCycleLength is the number of iterations that share one rollback snapshot
const MacroCycleLength = 3

// state represents whether the loop is active
type state int

const (
	stateIdle state = iota
	stateRunning
)

// String returns a human-readable name for the state
func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateRunning:
		return "Running"
	default:
		return "Unknown"
	}
}

// ConfigSource yields a fresh settings snapshot; it is read once per iteration
type ConfigSource interface {
	Snapshot() types.Config
}

// ConfigFunc adapts a function to ConfigSource
type ConfigFunc func() types.Config

func (f ConfigFunc) Snapshot() types.Config { return f() }

// Action is what the loop did with the document at the end of an iteration
type Action int

const (
	ActionAdvance Action = iota
	ActionRollback
)

func (a Action) String() string {
	switch a {
	case ActionAdvance:
		return "advance"
	case ActionRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Iteration describes one completed loop iteration
type Iteration struct {
	RunID   string
	Index   int // zero-based, counted from Start
	Seed    string
	Results []types.TrialResult
	Action  Action
}

// Observer is notified on the loop goroutine after every completed iteration.
// Implementations must not call Start or Stop.
type Observer interface {
	OnIteration(Iteration)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Iteration)

func (f ObserverFunc) OnIteration(it Iteration) { f(it) }

// Stats are cumulative counters for the current or last run
type Stats struct {
	RunID        string
	Iterations   int
	Trials       int
	Accepted     int
	Rollbacks    int
	LineAdvances int
	Errors       int
	LastError    string
	LastResult   types.TrialResult
}

// Options configures a Runner. Zero values fall back to real time and no-ops.
type Options struct {
	Clock       timing.Clock
	ReportState func(running bool)
	Observer    Observer
	Metrics     *metrics.Recorder
}

// Runner is the loop controller. Construct one per host with New.
type Runner struct {
	host        host.Host
	config      ConfigSource
	clock       timing.Clock
	reportState func(running bool)
	observer    Observer
	metrics     *metrics.Recorder

	classifier *activity.Classifier
	documents  *document.Manager
	trials     *trial.Engine

	// mu serializes Start and Stop and guards cancel and done
	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	// owned by the loop goroutine while running
	cycle    int
	snapshot document.Snapshot

	statsMu sync.Mutex
	stats   Stats
}

func New(h host.Host, config ConfigSource, opts Options) *Runner {
	clock := opts.Clock
	if clock == nil {
		clock = timing.RealClock{}
	}
	report := opts.ReportState
	if report == nil {
		report = func(bool) {}
	}
	classifier := activity.New(clock)
	return &Runner{
		host:        h,
		config:      config,
		clock:       clock,
		reportState: report,
		observer:    opts.Observer,
		metrics:     opts.Metrics,
		classifier:  classifier,
		documents:   document.NewManager(h, classifier, clock),
		trials:      trial.New(h, classifier, clock),
	}
}

// IsRunning reports whether the loop is active
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) state() state {
	if r.running.Load() {
		return stateRunning
	}
	return stateIdle
}

// Stats returns a copy of the run counters
func (r *Runner) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Start launches the loop. It returns false without touching any state when
// the loop is already running.
func (r *Runner) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state() == stateRunning {
		return false
	}

	r.trials.Seeds().Reset()
	r.cycle = 0
	r.snapshot = document.Snapshot{}
	runID := uuid.NewString()
	r.statsMu.Lock()
	r.stats = Stats{RunID: runID}
	r.statsMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running.Store(true)

	r.classifier.Install(r.host.Events())
	r.reportState(true)
	r.metrics.SetRunning(true)

	log := logger.With("run", runID)
	log.Info("completion loop started, state=%s", r.state())
	go r.loop(ctx, runID, log, r.done)
	return true
}

// Stop cancels the loop and waits for it to exit before tearing down listeners
// and hiding the scratch editor. It returns false when nothing was running.
// ctx bounds the host calls made during teardown, not the wait for the loop.
func (r *Runner) Stop(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state() != stateRunning {
		return false, nil
	}

	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
	r.running.Store(false)
	r.reportState(false)
	r.metrics.SetRunning(false)

	var result *multierror.Error
	if err := r.classifier.Uninstall(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to remove activity listeners: %w", err))
	}
	if err := r.documents.Release(ctx); err != nil {
		logger.Warn("failed to hide test editor: %v", err)
	}
	r.cycle = 0
	r.snapshot = document.Snapshot{}

	logger.Info("completion loop stopped, state=%s", r.state())
	return true, result.ErrorOrNil()
}

func (r *Runner) loop(ctx context.Context, runID string, log *logger.Logger, done chan struct{}) {
	defer close(done)

	for index := 0; ctx.Err() == nil; {
		it, err := r.iterate(ctx)
		if err == nil {
			it.RunID = runID
			it.Index = index
			index++
			r.record(it)
			continue
		}
		if types.IsCancelled(err) {
			return
		}

		log.Error("unexpected error in completion loop: %v", err)
		r.recordError(err)
		if err := timing.Delay(ctx, r.clock, timing.ErrorBackoff); err != nil {
			return
		}
	}
}

// iterate runs one pass of the loop body
func (r *Runner) iterate(ctx context.Context) (Iteration, error) {
	defer logger.Trace("engine.iterate")()

	cfg := r.config.Snapshot()

	if cfg.PauseOnUserTyping {
		if err := timing.IdleWait(ctx, r.clock, timing.UserIdleGrace, r.classifier.LastActivity); err != nil {
			return Iteration{}, err
		}
	}

	doc, err := r.documents.Ensure(ctx)
	if err != nil {
		return Iteration{}, err
	}
	ed, err := r.documents.Show(ctx, doc)
	if err != nil {
		return Iteration{}, err
	}
	if err := ctx.Err(); err != nil {
		return Iteration{}, err
	}

	if r.cycle == 0 {
		snap, err := r.documents.Capture(doc, ed)
		if err != nil {
			return Iteration{}, err
		}
		r.snapshot = snap
	}

	out, err := r.trials.Run(ctx, ed, cfg)
	r.recordTrials(out.Results)
	if err != nil {
		return Iteration{}, err
	}
	logger.Debug("trial %q: delta=%d", out.Seed, out.Delta())

	it := Iteration{Seed: out.Seed, Results: out.Results}
	r.cycle++
	if r.cycle >= MacroCycleLength {
		if err := r.documents.Restore(ctx, doc, r.snapshot); err != nil {
			return Iteration{}, err
		}
		r.cycle = 0
		r.snapshot = document.Snapshot{}
		it.Action = ActionRollback
	} else {
		if err := r.documents.PrepareNextLine(ctx, ed); err != nil {
			return Iteration{}, err
		}
		it.Action = ActionAdvance
	}

	if err := timing.Delay(ctx, r.clock, cfg.LoopDelay); err != nil {
		return Iteration{}, err
	}
	return it, nil
}

func (r *Runner) recordTrials(results []types.TrialResult) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	for _, res := range results {
		r.stats.Trials++
		if res.Accepted() {
			r.stats.Accepted++
		}
		r.stats.LastResult = res
		r.metrics.Trial(res)
	}
}

func (r *Runner) record(it Iteration) {
	r.statsMu.Lock()
	r.stats.Iterations++
	switch it.Action {
	case ActionRollback:
		r.stats.Rollbacks++
		r.metrics.Rollback()
	case ActionAdvance:
		r.stats.LineAdvances++
		r.metrics.LineAdvance()
	}
	r.statsMu.Unlock()

	r.metrics.Iteration()
	if r.observer != nil {
		r.observer.OnIteration(it)
	}
}

func (r *Runner) recordError(err error) {
	r.statsMu.Lock()
	r.stats.Errors++
	r.stats.LastError = err.Error()
	r.statsMu.Unlock()
	r.metrics.LoopError(errorKind(err))
}

// errorKind maps a loop error to a metrics label
func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrEditNotApplied):
		return "edit_not_applied"
	case errors.Is(err, types.ErrDocumentUnavailable):
		return "document_unavailable"
	default:
		return "unexpected"
	}
}
