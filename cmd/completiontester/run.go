package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"completiontester/app"
	"completiontester/config"
	"completiontester/engine"
	"completiontester/host/neovim"
	"completiontester/logger"
	"completiontester/metrics"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var nvimAddress string

// runCmd attaches to a running Neovim and serves the start/stop commands
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to Neovim and serve :CompletionTesterStart / :CompletionTesterStop",
	Long: `Connects to a running Neovim instance (the --address flag, the configured
neovim.address, or $NVIM) and defines two user commands there:

  :CompletionTesterStart   start the soak loop
  :CompletionTesterStop    stop it and restore the scratch buffer

The process keeps running until Neovim exits or it receives SIGINT/SIGTERM.
Configuration changes are picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	runCmd.Flags().StringVar(&nvimAddress, "address", "", "Neovim socket path or host:port")
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(configPath)
	if err != nil {
		return err
	}
	settings := store.Settings()
	if nvimAddress == "" {
		nvimAddress = settings.Neovim.Address
	}

	h, err := neovim.Dial(nvimAddress, settings.Neovim.Commands)
	if err != nil {
		return err
	}

	rec := metrics.New()
	ctrl := app.New(h, store, engine.Options{Metrics: rec})

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		if err := h.Serve(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("neovim connection: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(ctrl, h)
	})

	if err := setup(gctx, h, ctrl, store); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	g.Go(func() error { return store.Watch(gctx) })
	if addr := settings.MetricsAddr; addr != "" {
		g.Go(func() error { return serveMetrics(gctx, addr, rec.Handler()) })
	}

	logger.Info("completion tester attached to Neovim")
	return g.Wait()
}

func setup(ctx context.Context, h *neovim.Host, ctrl *app.Controller, store *config.Store) error {
	if err := h.Install(); err != nil {
		return err
	}
	if err := ctrl.Init(ctx); err != nil {
		return err
	}
	store.OnChange(config.PathLogLevel, func(s config.Settings) {
		if logLevel != "" {
			return
		}
		if err := logger.Init(s.LogLevel); err != nil {
			logger.Warn("failed to apply log level: %v", err)
		}
	})

	// handlers run on the RPC goroutine, which must stay free to deliver replies
	return h.RegisterUserCommands(
		func() {
			go func() { _ = ctrl.Start(ctx) }()
		},
		func() {
			go func() {
				stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
				defer cancel()
				_ = ctrl.Stop(stopCtx)
			}()
		},
	)
}

func shutdown(ctrl *app.Controller, h *neovim.Host) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopErr := ctrl.Shutdown(ctx)
	if err := h.Uninstall(); err != nil {
		logger.Debug("failed to remove autocmds: %v", err)
	}
	if err := h.Close(); err != nil {
		logger.Debug("failed to close Neovim connection: %v", err)
	}
	if stopErr != nil {
		return fmt.Errorf("failed to stop loop: %w", stopErr)
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
