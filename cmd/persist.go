package cmd

import (
	"fmt"
	"time"

	"github.com/agentic-research/rethread/internal/lockfile"
	"github.com/agentic-research/rethread/internal/thread"
	"github.com/spf13/cobra"
)

var (
	persistRoots  string
	atomicReplace bool
)

var persistCmd = &cobra.Command{
	Use:   "persist [graph]",
	Short: "Replace the nested records of every root's thread with the flattened thread",
	Long: `persist flattens the thread of every selected root, removes the nested
records the threads absorbed and stores each thread under its root's name.
The store is locked for the duration so that concurrent runs on overlapping
roots cannot interleave.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		roots, err := f.Roots(persistRoots)
		if err != nil {
			return err
		}
		atomic := app.cfg.Persist.AtomicReplace
		if cmd.Flags().Changed("atomic") {
			atomic = atomicReplace
		}

		lock, err := lockfile.AcquireWait(cmd.Context(), lockfile.For(app.cfg.Store.Path), app.cfg.Persist.LockTimeout)
		if err != nil {
			return fmt.Errorf("lock store: %w", err)
		}
		defer func() { _ = lock.Release() }()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		start := time.Now()
		a := thread.New(f.Graph, store,
			thread.WithLogger(app.log),
			thread.WithMetrics(app.metrics),
			thread.WithAtomicReplace(atomic))
		if err := a.Persist(cmd.Context(), roots, f.Formatter()); err != nil {
			return err
		}
		app.log.WithField("action", "persist").
			WithField("graph", f.Path).
			WithField("roots", len(roots)).
			WithField("took", time.Since(start)).
			Info("threads persisted")
		return nil
	},
}

func init() {
	persistCmd.Flags().StringVar(&persistRoots, "roots", "", "JSONPath selecting root cap names (default: caps with root=true)")
	persistCmd.Flags().BoolVar(&atomicReplace, "atomic", false, "Remove and insert in one transaction (default from config)")
	rootCmd.AddCommand(persistCmd)
}
