package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/memory"
)

// NewStatsCmd constructs the `docsearch stats` command.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [table...]",
		Short: "Show row counts and vector layout of stored tables",
		Long: `Print, for each table, whether it exists, how many rows it holds, the
vector dimension fixed when it was created and whether the backend ranks it
natively. Without arguments the document and memory tables are shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, logging.FromContext(ctx))
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer store.Close()

			tables := args
			if len(tables) == 0 {
				tables = []string{documentTable(""), getEnvOrDefault("DOCSEARCH_MEMORY_TABLE", memory.DefaultTable)}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "TABLE\tROWS\tDIMENSION\tNATIVE\n")
			for _, table := range tables {
				info, exists, err := store.Backend().Info(ctx, table)
				if err != nil {
					return fmt.Errorf("stats: %s: %w", table, err)
				}
				if !exists {
					fmt.Fprintf(tw, "%s\t-\t-\t-\n", table)
					continue
				}
				n, err := store.Count(ctx, table)
				if err != nil {
					return fmt.Errorf("stats: %s: %w", table, err)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", table, n, info.Dimension, info.Native)
			}
			fmt.Fprintf(tw, "\nbackend %s, configured dimension %d\n", store.Backend().Name(), store.Dimension())
			return tw.Flush()
		},
	}
}

// NewResetCmd constructs the `docsearch reset` command. It is the explicit
// way to change a table's embedding dimension when DOCSEARCH_ALLOW_RECREATE
// is false.
func NewResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <table>",
		Short: "Drop a table and every fragment stored in it",
		Long: `Drop the named table. All stored fragments are lost; run ` + "`docsearch ingest`" + `
afterwards to rebuild it with the current embedding dimension.

Examples:
  docsearch reset --yes rag_documents`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("reset: refusing to drop without --yes")
			}
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			store, err := openStore(ctx, log)
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			defer store.Close()

			n, err := store.Count(ctx, args[0])
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			if err := store.Drop(ctx, args[0]); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			log.Warn("table reset", slog.String("table", args[0]), slog.Int("rows_dropped", n))
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s (%d rows)\n", args[0], n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the destructive drop")
	return cmd
}
