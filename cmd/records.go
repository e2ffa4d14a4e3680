package cmd

import (
	"fmt"
	"strconv"

	"github.com/agentic-research/rethread/internal/graph"
	"github.com/agentic-research/rethread/internal/kvstore"
	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect the record store",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the name of every stored record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		names, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Print the content of one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := parseName(args[0])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		gw := kvstore.NewGateway(store, kvstore.WithMetrics(app.metrics), kvstore.WithLogger(app.log))
		records, err := gw.Get(cmd.Context(), []graph.Name{name})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(records[0].Data))
		return nil
	},
}

func parseName(s string) (graph.Name, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record name %q: %w", s, err)
	}
	return graph.Name(n), nil
}

func init() {
	recordsCmd.AddCommand(recordsListCmd, recordsGetCmd)
	rootCmd.AddCommand(recordsCmd)
}
