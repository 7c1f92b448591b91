package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"completiontester/config"
	"completiontester/engine"
	"completiontester/host/memhost"
	"completiontester/metrics"
	"completiontester/types"

	"github.com/spf13/cobra"
)

var (
	simIterations     int
	simProvider       string
	simMode           string
	simInlineTimeout  time.Duration
	simSuggestTimeout time.Duration
	simLoopDelay      time.Duration
)

// simulateCmd runs the loop against an in-memory editor
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the loop against an in-memory editor and print what happened",
	Long: `Runs the soak loop against a simulated editor whose completion provider
finishes the seed words (int, return, hello, true, json). Useful for checking
the loop's rollback and fallback behavior without an editor.

Examples:
  completiontester simulate --iterations 6
  completiontester simulate --mode both --provider suggest`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVarP(&simIterations, "iterations", "n", 6, "number of iterations to run")
	f.StringVar(&simProvider, "provider", "both", "mechanisms the simulated provider answers (inline, suggest, both, none)")
	f.StringVar(&simMode, "mode", "", "completion mode override (inline, suggest, both)")
	f.DurationVar(&simInlineTimeout, "inline-timeout", 0, "inline completion wait")
	f.DurationVar(&simSuggestTimeout, "suggest-timeout", 0, "suggestion list wait")
	f.DurationVar(&simLoopDelay, "loop-delay", 0, "pause between iterations")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simIterations <= 0 {
		return fmt.Errorf("--iterations must be positive, got %d", simIterations)
	}
	mechanisms, err := providerMechanisms(simProvider)
	if err != nil {
		return err
	}

	s, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if simMode != "" {
		if _, err := types.ParseMode(simMode); err != nil {
			return err
		}
		s.Mode = simMode
	}
	s.InlineTimeout = float64(simInlineTimeout) / float64(time.Millisecond)
	s.SuggestTimeout = float64(simSuggestTimeout) / float64(time.Millisecond)
	s.LoopDelay = float64(simLoopDelay) / float64(time.Millisecond)
	s.PauseOnUserTyping = false

	h := memhost.New()
	if mechanisms != nil {
		h.SetProvider(memhost.DictionaryProvider(memhost.DefaultWords, mechanisms...))
	}

	stats, its, err := simulate(cmd.Context(), h, config.NewStaticStore(s), simIterations)
	if err != nil {
		return err
	}
	printSimulation(cmd.OutOrStdout(), stats, its)
	return nil
}

// simulate runs the loop until n iterations completed or ctx is done
func simulate(ctx context.Context, h *memhost.Host, store *config.Store, n int) (engine.Stats, []engine.Iteration, error) {
	var (
		mu   sync.Mutex
		its  []engine.Iteration
		once sync.Once
		done = make(chan struct{})
	)
	r := engine.New(h, store, engine.Options{
		Metrics: metrics.New(),
		Observer: engine.ObserverFunc(func(it engine.Iteration) {
			mu.Lock()
			defer mu.Unlock()
			if len(its) < n {
				its = append(its, it)
			}
			if len(its) == n {
				once.Do(func() { close(done) })
			}
		}),
	})

	r.Start()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if _, err := r.Stop(context.Background()); err != nil {
		return engine.Stats{}, nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return r.Stats(), its, nil
}

func providerMechanisms(name string) ([]types.Mechanism, error) {
	switch strings.ToLower(name) {
	case "both":
		return []types.Mechanism{types.MechanismInline, types.MechanismSuggest}, nil
	case "inline":
		return []types.Mechanism{types.MechanismInline}, nil
	case "suggest":
		return []types.Mechanism{types.MechanismSuggest}, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want inline, suggest, both or none)", name)
	}
}

func printSimulation(w io.Writer, stats engine.Stats, its []engine.Iteration) {
	fmt.Fprintf(w, "run %s\n", stats.RunID)
	for _, it := range its {
		var parts []string
		for _, res := range it.Results {
			parts = append(parts, fmt.Sprintf("%s %+d %q", res.Mechanism, res.Delta, res.Inserted))
		}
		fmt.Fprintf(w, "%3d  seed=%s  %-8s  %s\n", it.Index, it.Seed, it.Action, strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "iterations=%d trials=%d accepted=%d rollbacks=%d advances=%d errors=%d\n",
		stats.Iterations, stats.Trials, stats.Accepted, stats.Rollbacks, stats.LineAdvances, stats.Errors)
	if stats.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", stats.LastError)
	}
}
