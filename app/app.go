// Package app is the user-facing layer around the loop controller: start and
// stop commands with their notices, the completion plugin check, and the UI
// context flags published to the host.
package app

import (
	"context"
	"fmt"

	"completiontester/config"
	"completiontester/engine"
	"completiontester/host"
	"completiontester/logger"
)

const (
	msgAlreadyRunning = "Completion tester is already running."
	msgNotRunning     = "Completion tester is not running."
	msgStopFailed     = "Failed to stop completion tester. Check logs for details."
)

// Controller owns one Runner and the host-facing lifecycle around it
type Controller struct {
	host   host.Host
	store  *config.Store
	runner *engine.Runner
}

// New builds a controller. opts.ReportState is replaced so the running flag is
// published to the host.
func New(h host.Host, store *config.Store, opts engine.Options) *Controller {
	c := &Controller{host: h, store: store}
	opts.ReportState = c.publishRunning
	c.runner = engine.New(h, store, opts)
	return c
}

func (c *Controller) Runner() *engine.Runner {
	return c.runner
}

// Init publishes the initial context flags and keeps the title-button flag in
// sync with configuration changes
func (c *Controller) Init(ctx context.Context) error {
	if err := c.setContext(ctx, host.ContextRunning, false); err != nil {
		return err
	}
	if err := c.publishShowButtons(ctx, c.store.Settings()); err != nil {
		return err
	}
	c.store.OnChange(config.PathShowTitleButtonsWithoutFocus, func(s config.Settings) {
		if err := c.publishShowButtons(context.Background(), s); err != nil {
			logger.Warn("failed to update title button context: %v", err)
		}
	})
	return nil
}

// Start checks the completion plugin and starts the loop
func (c *Controller) Start(ctx context.Context) error {
	if err := c.ensurePlugin(ctx); err != nil {
		return err
	}
	if !c.runner.Start() {
		c.notify(ctx, host.NotifyInfo, msgAlreadyRunning)
		return nil
	}
	logger.Info("completion tester started")
	return nil
}

// Stop stops the loop, notifying the user when it was not running or failed
func (c *Controller) Stop(ctx context.Context) error {
	stopped, err := c.runner.Stop(ctx)
	if err != nil {
		logger.Error("failed to stop completion tester: %v", err)
		c.notify(ctx, host.NotifyError, msgStopFailed)
		return err
	}
	if !stopped {
		c.notify(ctx, host.NotifyInfo, msgNotRunning)
		return nil
	}
	logger.Info("completion tester stopped")
	return nil
}

// Shutdown stops the loop without user notices
func (c *Controller) Shutdown(ctx context.Context) error {
	_, err := c.runner.Stop(ctx)
	return err
}

func (c *Controller) ensurePlugin(ctx context.Context) error {
	name := c.store.Settings().TargetPlugin
	checker, ok := c.host.(host.PluginChecker)
	if name == "" || !ok {
		return nil
	}
	if err := checker.EnsurePlugin(ctx, name); err != nil {
		logger.Warn("required plugin %s not available: %v", name, err)
		c.notify(ctx, host.NotifyError, fmt.Sprintf("Required plugin %s is not installed.", name))
		return fmt.Errorf("required plugin %s not available: %w", name, err)
	}
	return nil
}

func (c *Controller) publishRunning(running bool) {
	if err := c.setContext(context.Background(), host.ContextRunning, running); err != nil {
		logger.Warn("failed to publish running state: %v", err)
	}
}

func (c *Controller) publishShowButtons(ctx context.Context, s config.Settings) error {
	return c.setContext(ctx, host.ContextShowTitleButtonsWithoutFocus, s.ShowTitleButtonsWithoutFocus)
}

func (c *Controller) setContext(ctx context.Context, key string, value bool) error {
	if err := c.host.ExecuteCommand(ctx, host.CommandSetContext, key, value); err != nil {
		return fmt.Errorf("failed to set context %s: %w", key, err)
	}
	return nil
}

func (c *Controller) notify(ctx context.Context, level host.NotifyLevel, msg string) {
	n, ok := c.host.(host.Notifier)
	if !ok {
		logger.Info("%s", msg)
		return
	}
	if err := n.Notify(ctx, level, msg); err != nil {
		logger.Warn("failed to show notice %q: %v", msg, err)
	}
}
