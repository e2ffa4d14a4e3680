package cmd

import (
	"fmt"

	"github.com/agentic-research/rethread/internal/thread"
	"github.com/spf13/cobra"
)

var (
	rootsSelector string
	withNames     bool
)

var materializeCmd = &cobra.Command{
	Use:   "materialize [graph]",
	Short: "Print the flattened thread of every root without changing the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadGraph(args[0])
		if err != nil {
			return err
		}
		roots, err := f.Roots(rootsSelector)
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		a := thread.New(f.Graph, store,
			thread.WithLogger(app.log),
			thread.WithMetrics(app.metrics))
		threads, err := a.Materialize(cmd.Context(), roots, f.Formatter())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, t := range threads {
			if withNames {
				fmt.Fprintf(out, "%s\t%s\n", roots[i], t)
				continue
			}
			fmt.Fprintln(out, t)
		}
		return nil
	},
}

func init() {
	materializeCmd.Flags().StringVar(&rootsSelector, "roots", "", "JSONPath selecting root cap names (default: caps with root=true)")
	materializeCmd.Flags().BoolVar(&withNames, "names", false, "Prefix each thread with its root name")
	rootCmd.AddCommand(materializeCmd)
}
