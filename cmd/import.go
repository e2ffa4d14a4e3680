package cmd

import (
	"fmt"

	"github.com/agentic-research/rethread/internal/kvstore"
	"github.com/agentic-research/rethread/internal/lockfile"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [graph]",
	Short: "Write the records section of a graph document into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		records := f.Records()

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

		gw := kvstore.NewGateway(store, kvstore.WithMetrics(app.metrics), kvstore.WithLogger(app.log))
		if err := gw.Set(cmd.Context(), records); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", len(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
