package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"completiontester/assert"
	"completiontester/host"
	"completiontester/host/memhost"
	"completiontester/logger"
	"completiontester/metrics"
	"completiontester/timing"
	"completiontester/timing/timingtest"
	"completiontester/types"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 5 * time.Second

// recorder collects observed iterations along with the document state right
// after each one
type recorder struct {
	mu         sync.Mutex
	h          *memhost.Host
	iterations []Iteration
	texts      []string
	selections [][]types.Selection
}

func (r *recorder) OnIteration(it Iteration) {
	var s string
	var sels []types.Selection
	if ed := r.h.ActiveEditor(); ed != nil {
		s, _ = ed.Document().Text()
		sels, _ = ed.Selections()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations = append(r.iterations, it)
	r.texts = append(r.texts, s)
	r.selections = append(r.selections, sels)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.iterations)
}

func (r *recorder) snapshot() ([]Iteration, []string, [][]types.Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Iteration(nil), r.iterations...), append([]string(nil), r.texts...), append([][]types.Selection(nil), r.selections...)
}

func fastConfig() types.Config {
	cfg := types.DefaultConfig()
	cfg.PauseOnUserTyping = false
	return cfg
}

type harness struct {
	host   *memhost.Host
	clock  *timingtest.AutoClock
	runner *Runner
	rec    *recorder
	states []bool
	mu     sync.Mutex
}

func newHarness(t *testing.T, cfg types.Config) *harness {
	t.Helper()
	hs := &harness{host: memhost.New(), clock: timingtest.NewAutoClock()}
	hs.rec = &recorder{h: hs.host}
	hs.runner = New(hs.host, ConfigFunc(func() types.Config { return cfg }), Options{
		Clock: hs.clock,
		ReportState: func(running bool) {
			hs.mu.Lock()
			defer hs.mu.Unlock()
			hs.states = append(hs.states, running)
		},
		Observer: hs.rec,
		Metrics:  metrics.New(),
	})
	t.Cleanup(func() { _, _ = hs.runner.Stop(context.Background()) })
	return hs
}

func (hs *harness) reported() []bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return append([]bool(nil), hs.states...)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", stateIdle.String(), "idle")
	assert.Equal(t, "Running", stateRunning.String(), "running")
	assert.Equal(t, "Unknown", state(9).String(), "unknown")
}

func TestStartStop_Idempotent(t *testing.T) {
	hs := newHarness(t, fastConfig())

	stopped, err := hs.runner.Stop(context.Background())
	assert.False(t, stopped, "stop while idle is a no-op")
	assert.NoError(t, err, "stop while idle")
	assert.Len(t, 0, hs.reported(), "nothing reported")

	assert.True(t, hs.runner.Start(), "first start")
	assert.Eventually(t, func() bool { return hs.rec.count() >= 2 }, waitTimeout, "loop running")
	runID := hs.runner.Stats().RunID

	assert.False(t, hs.runner.Start(), "second start")
	assert.Equal(t, runID, hs.runner.Stats().RunID, "run not reset")
	sel, doc := hs.host.Subscribers()
	assert.Equal(t, 1, sel, "one selection listener")
	assert.Equal(t, 1, doc, "one document listener")

	stopped, err = hs.runner.Stop(context.Background())
	assert.True(t, stopped, "stopped")
	assert.NoError(t, err, "stop")
	assert.False(t, hs.runner.IsRunning(), "idle")
	sel, doc = hs.host.Subscribers()
	assert.Equal(t, 0, sel+doc, "listeners removed")
	assert.Nil(t, hs.host.ActiveEditor(), "editor hidden")

	stopped, err = hs.runner.Stop(context.Background())
	assert.False(t, stopped, "second stop is a no-op")
	assert.NoError(t, err, "second stop")
	assert.Equal(t, []bool{true, false}, hs.reported(), "state reported once each way")
}

func TestStop_NoIterationAfterStop(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 1 }, waitTimeout, "loop running")

	_, err := hs.runner.Stop(context.Background())
	assert.NoError(t, err, "stop")
	n := len(hs.host.Commands())
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, n, len(hs.host.Commands()), "no commands after stop")
}

func TestLoop_MacroCycle(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.host.SetProvider(memhost.DictionaryProvider(memhost.DefaultWords))

	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 7 }, waitTimeout, "seven iterations")
	_, err := hs.runner.Stop(context.Background())
	assert.NoError(t, err, "stop")

	its, texts, _ := hs.rec.snapshot()
	want := []Action{ActionAdvance, ActionAdvance, ActionRollback, ActionAdvance, ActionAdvance, ActionRollback, ActionAdvance}
	seeds := []string{"i", "r", "h", "t", "j", "i", "r"}
	for i, a := range want {
		assert.Equal(t, i, its[i].Index, "index")
		assert.Equal(t, a, its[i].Action, "action")
		assert.Equal(t, seeds[i], its[i].Seed, "seed")
	}

	assert.Equal(t, "int\n", texts[0], "after iteration 1")
	assert.Equal(t, "int\nreturn\n", texts[1], "after iteration 2")
	assert.Equal(t, "", texts[2], "rolled back after iteration 3")
	assert.Equal(t, "true\n", texts[3], "after iteration 4")
	assert.Equal(t, "", texts[5], "rolled back after iteration 6")
	assert.Equal(t, "true\njson\n", texts[4], "after iteration 5")
	assert.Equal(t, "return\n", texts[6], "after iteration 7")
}

func TestLoop_RollbackRestoresSnapshotExactly(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.host.SetProvider(memhost.DictionaryProvider(memhost.DefaultWords))

	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 9 }, waitTimeout, "three cycles")
	_, err := hs.runner.Stop(context.Background())
	assert.NoError(t, err, "stop")

	its, texts, sels := hs.rec.snapshot()
	origin := []types.Selection{types.Caret(types.Position{})}
	for i, it := range its[:9] {
		if it.Action != ActionRollback {
			continue
		}
		assert.Equal(t, "", texts[i], "text equals cycle snapshot")
		if diff := cmp.Diff(origin, sels[i]); diff != "" {
			t.Errorf("iteration %d selections (-want +got):\n%s", i, diff)
		}
	}
	st := hs.runner.Stats()
	assert.GreaterOrEqual(t, st.Rollbacks, 3, "rollbacks")
	assert.GreaterOrEqual(t, st.Accepted, 9, "accepted trials")
}

func TestLoop_ModeBothFallsBackToSuggest(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.host.SetProvider(memhost.DictionaryProvider(memhost.DefaultWords, types.MechanismSuggest))

	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 1 }, waitTimeout, "one iteration")
	_, _ = hs.runner.Stop(context.Background())

	its, _, _ := hs.rec.snapshot()
	assert.Len(t, 2, its[0].Results, "inline then suggest")
	assert.Equal(t, types.MechanismSuggest, its[0].Results[1].Mechanism, "suggest used")
	assert.Equal(t, 2, its[0].Results[1].Delta, "suggest delta")
}

func TestLoop_ErrorBackoffAndResume(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.host.RejectInserts(true)

	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.runner.Stats().Errors >= 2 }, waitTimeout, "errors recorded")
	assert.Equal(t, 0, hs.rec.count(), "no iteration completed")
	assert.Contains(t, hs.runner.Stats().LastError, "failed to insert seed text", "last error")

	hs.host.RejectInserts(false)
	assert.Eventually(t, func() bool { return hs.rec.count() >= 1 }, waitTimeout, "resumed")
	_, err := hs.runner.Stop(context.Background())
	assert.NoError(t, err, "stop")

	backoffs := 0
	for _, d := range hs.clock.Waits() {
		if d == timing.ErrorBackoff {
			backoffs++
		}
	}
	assert.GreaterOrEqual(t, backoffs, 2, "fixed backoff after each failure")
}

func TestLoop_ReopensClosedDocument(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 1 }, waitTimeout, "running")

	first := hs.host.Documents()[0]
	hs.host.CloseDocument(first)

	assert.Eventually(t, func() bool { return len(hs.host.Documents()) == 2 }, waitTimeout, "reopened")
	n := hs.rec.count()
	assert.Eventually(t, func() bool { return hs.rec.count() > n+1 }, waitTimeout, "continues after reopen")
	_, err := hs.runner.Stop(context.Background())
	assert.NoError(t, err, "stop")
}

func TestLoop_PausesWhileUserTypes(t *testing.T) {
	clock := timingtest.NewManualClock()
	h := memhost.New()
	r := New(h, ConfigFunc(types.DefaultConfig), Options{Clock: clock})

	// foreign activity right before start
	r.classifier.OnDocumentChanged(host.DocumentEvent{Document: 99})
	r.Start()

	polls := int(timing.UserIdleGrace / timing.IdlePollInterval)
	for i := 0; i < polls; i++ {
		assert.True(t, clock.WaitForTimer(waitTimeout), "poll armed")
		assert.Len(t, 0, h.Documents(), "still paused")
		clock.Advance(timing.IdlePollInterval)
	}
	assert.True(t, clock.WaitForTimer(waitTimeout), "iteration underway")
	assert.Len(t, 1, h.Documents(), "document opened after idle grace")
	assert.Equal(t, timing.UserIdleGrace, clock.Now().Sub(timingtest.Epoch), "waited the grace period")

	_, err := r.Stop(context.Background())
	assert.NoError(t, err, "stop")
	assert.Equal(t, 0, clock.Pending(), "no timers left")
}

func TestStop_HideFailureIsLoggedNotRaised(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(zap.NewNop()) })

	hs := newHarness(t, fastConfig())
	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 1 }, waitTimeout, "running")
	hs.host.FailHide(errors.New("window gone"))

	stopped, err := hs.runner.Stop(context.Background())

	assert.True(t, stopped, "stopped")
	assert.NoError(t, err, "hide failure not raised")
	assert.False(t, hs.runner.IsRunning(), "idle")
	assert.Nil(t, hs.runner.documents.Document(), "document cleared")
	assert.Equal(t, 1, logs.FilterMessageSnippet("failed to hide test editor").Len(), "hide failure logged")
}

func TestStart_ResetsSeedsAndCycle(t *testing.T) {
	hs := newHarness(t, fastConfig())
	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 2 }, waitTimeout, "first run")
	_, _ = hs.runner.Stop(context.Background())
	firstRun := hs.runner.Stats().RunID

	hs.rec.mu.Lock()
	hs.rec.iterations = nil
	hs.rec.texts = nil
	hs.rec.selections = nil
	hs.rec.mu.Unlock()

	hs.runner.Start()
	assert.Eventually(t, func() bool { return hs.rec.count() >= 1 }, waitTimeout, "second run")
	_, _ = hs.runner.Stop(context.Background())

	its, _, _ := hs.rec.snapshot()
	assert.Equal(t, "i", its[0].Seed, "seeds restart")
	assert.Equal(t, 0, its[0].Index, "index restarts")
	assert.NotEqual(t, firstRun, its[0].RunID, "new run id")
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "edit_not_applied", errorKind(types.ErrRestoreFailed), "restore")
	assert.Equal(t, "document_unavailable", errorKind(types.ErrDocumentUnavailable), "document")
	assert.Equal(t, "unexpected", errorKind(errors.New("x")), "other")
}
