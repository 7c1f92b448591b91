package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"completiontester/assert"
	"completiontester/config"
	"completiontester/engine"
	"completiontester/host"
	"completiontester/host/memhost"
	"completiontester/timing/timingtest"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newController(t *testing.T, s config.Settings) (*Controller, *memhost.Host, *config.Store) {
	t.Helper()
	h := memhost.New()
	store := config.NewStaticStore(s)
	c := New(h, store, engine.Options{Clock: timingtest.NewAutoClock()})
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c, h, store
}

func testSettings() config.Settings {
	s := config.Default()
	s.PauseOnUserTyping = false
	return s
}

func TestInit_PublishesContextFlags(t *testing.T) {
	s := testSettings()
	s.ShowTitleButtonsWithoutFocus = true
	c, h, _ := newController(t, s)

	assert.NoError(t, c.Init(context.Background()), "init")

	running, ok := h.Context(host.ContextRunning)
	assert.True(t, ok, "running published")
	assert.Equal(t, false, running, "not running")
	show, _ := h.Context(host.ContextShowTitleButtonsWithoutFocus)
	assert.Equal(t, true, show, "show buttons")
}

func TestInit_RepublishesShowButtonsOnChange(t *testing.T) {
	c, h, store := newController(t, testSettings())
	assert.NoError(t, c.Init(context.Background()), "init")

	next := store.Settings()
	next.ShowTitleButtonsWithoutFocus = true
	store.Update(next)

	show, _ := h.Context(host.ContextShowTitleButtonsWithoutFocus)
	assert.Equal(t, true, show, "republished")
}

func TestInit_SetContextFailure(t *testing.T) {
	c, h, _ := newController(t, testSettings())
	h.FailCommands(errors.New("no such command"))

	assert.Error(t, c.Init(context.Background()), "init fails")
}

func TestStart_RequiresPlugin(t *testing.T) {
	c, h, _ := newController(t, testSettings())

	err := c.Start(context.Background())

	assert.Error(t, err, "missing plugin")
	assert.False(t, c.Runner().IsRunning(), "not started")
	assert.Equal(t, []string{"Required plugin copilot is not installed."}, h.Notices(), "notice")
}

func TestStart_AlreadyRunning(t *testing.T) {
	c, h, _ := newController(t, testSettings())
	h.InstallPlugin(config.DefaultTargetPlugin)

	assert.NoError(t, c.Start(context.Background()), "start")
	running, _ := h.Context(host.ContextRunning)
	assert.Equal(t, true, running, "running published")
	assert.Eventually(t, func() bool { return c.Runner().Stats().Iterations > 0 }, 5*time.Second, "loop runs")

	assert.NoError(t, c.Start(context.Background()), "second start")
	assert.Equal(t, []string{msgAlreadyRunning}, h.Notices(), "already running notice")
}

func TestStart_NoTargetPluginConfigured(t *testing.T) {
	s := testSettings()
	s.TargetPlugin = ""
	c, h, _ := newController(t, s)

	assert.NoError(t, c.Start(context.Background()), "start")
	assert.True(t, c.Runner().IsRunning(), "running")
	assert.Len(t, 0, h.Notices(), "no notices")
}

func TestStop(t *testing.T) {
	c, h, _ := newController(t, testSettings())
	h.InstallPlugin(config.DefaultTargetPlugin)

	assert.NoError(t, c.Stop(context.Background()), "stop while idle")
	assert.Equal(t, []string{msgNotRunning}, h.Notices(), "not running notice")

	assert.NoError(t, c.Start(context.Background()), "start")
	assert.NoError(t, c.Stop(context.Background()), "stop")

	running, _ := h.Context(host.ContextRunning)
	assert.Equal(t, false, running, "stopped published")
	assert.Len(t, 1, h.Notices(), "no extra notice")
}
