package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/memory"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// memoryFlags are shared by every memory subcommand.
type memoryFlags struct {
	table   string
	owner   string
	session string
	kind    string
}

func (f *memoryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.table, "table", "", "Memory table (default: $DOCSEARCH_MEMORY_TABLE or chat_memory)")
	cmd.Flags().StringVar(&f.owner, "owner", "", "Owner the entries belong to")
	cmd.Flags().StringVar(&f.session, "session", "", "Session or source the entries belong to")
	cmd.Flags().StringVar(&f.kind, "kind", "", "Entry kind (message, record, ...)")
}

func (f *memoryFlags) options() memory.Options {
	return memory.Options{Owner: f.owner, Session: f.session, Kind: f.kind}
}

// NewMemoryCmd constructs the `docsearch memory` command group.
func NewMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Save and search conversation turns and tabular records",
		Long: `The memory commands store short texts (chat turns, spreadsheet rows) in a
separate table and search them. Queries with a "<field> là|=|: <value>"
clause are first answered by exact record field match, and queries containing
identifier-shaped tokens (dates, product codes, long numbers) by exact
substring match; other queries fall back to vector similarity. Count-style queries
("how many ...") return up to 1000 entries.`,
	}

	cmd.AddCommand(newMemorySaveCmd(), newMemorySearchCmd(), newMemoryRecentCmd())
	return cmd
}

func newMemorySaveCmd() *cobra.Command {
	var flags memoryFlags
	var fields []string
	var row int

	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save a turn, or a record with --field key=value",
		Example: `  docsearch memory save --owner u1 --session s1 "Order 22240T shipped on 12/03/2024"
  docsearch memory save --owner u1 --session orders.xlsx --row 4 --field code=22240T --field qty=3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if (len(args) == 1) == (len(fields) > 0) {
				return fmt.Errorf("memory save: exactly one of content or --field is required")
			}

			svc, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("memory save: %w", err)
			}
			defer svc.Close()
			mem, err := buildMemory(svc, flags.table, log)
			if err != nil {
				return fmt.Errorf("memory save: %w", err)
			}

			var saved memory.Saved
			if len(args) == 1 {
				saved, err = mem.SaveTurn(ctx, memory.Turn{
					Owner:   flags.owner,
					Session: flags.session,
					Kind:    flags.kind,
					Content: args[0],
				})
			} else {
				kv, perr := parseFields("field", fields)
				if perr != nil {
					return fmt.Errorf("memory save: %w", perr)
				}
				saved, err = mem.SaveRecord(ctx, memory.Record{
					Owner:  flags.owner,
					Source: flags.session,
					Row:    row,
					Fields: kv,
				})
			}
			if err != nil {
				return fmt.Errorf("memory save: %w", err)
			}
			return printJSON(cmd, saved)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringArrayVar(&fields, "field", nil, "Record field as key=value (repeatable)")
	cmd.Flags().IntVar(&row, "row", 0, "Source row number of the record")
	return cmd
}

func newMemorySearchCmd() *cobra.Command {
	var flags memoryFlags
	var topK int
	var threshold float64
	var where []string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search saved turns and records",
		Example: `  docsearch memory search --owner u1 "where is 22240T"
  docsearch memory search --owner u1 "KVA là 250"
  docsearch memory search --owner u1 --where kva=250 "transformers in plant A"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			svc, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("memory search: %w", err)
			}
			defer svc.Close()
			mem, err := buildMemory(svc, flags.table, log)
			if err != nil {
				return fmt.Errorf("memory search: %w", err)
			}

			opts := flags.options()
			opts.TopK, opts.Threshold = topK, &threshold
			if len(where) > 0 {
				if opts.Fields, err = parseFields("where", where); err != nil {
					return fmt.Errorf("memory search: %w", err)
				}
			}
			results, err := mem.Search(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return fmt.Errorf("memory search: %w", err)
			}
			out := make([]entryView, 0, len(results))
			for _, r := range results {
				out = append(out, viewOf(r.Row, r.Similarity))
			}
			return printJSON(cmd, out)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&topK, "top-k", "k", memory.DefaultTopK, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", memory.DefaultThreshold, "Minimum cosine similarity for vector matches")
	cmd.Flags().StringArrayVar(&where, "where", nil, "Only records whose field equals value, as field=value (repeatable)")
	return cmd
}

func newMemoryRecentCmd() *cobra.Command {
	var flags memoryFlags
	var n int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List the newest saved entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			svc, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("memory recent: %w", err)
			}
			defer svc.Close()
			mem, err := buildMemory(svc, flags.table, log)
			if err != nil {
				return fmt.Errorf("memory recent: %w", err)
			}

			rows, err := mem.Recent(ctx, flags.options(), n)
			if err != nil {
				return fmt.Errorf("memory recent: %w", err)
			}
			out := make([]entryView, 0, len(rows))
			for _, r := range rows {
				out = append(out, viewOf(r, 0))
			}
			return printJSON(cmd, out)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&n, "n", "n", memory.DefaultTopK, "Number of entries")
	return cmd
}

// entryView is the printed form of a memory entry. Vectors are omitted.
type entryView struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Owner      string            `json:"owner,omitempty"`
	Session    string            `json:"session,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	Similarity float64           `json:"similarity,omitempty"`
}

func viewOf(r vectorstore.Row, similarity float64) entryView {
	return entryView{
		ID:         r.ID,
		Content:    r.Content,
		Owner:      r.Owner,
		Session:    r.Session,
		Kind:       r.Kind,
		Attributes: r.Attributes,
		CreatedAt:  r.CreatedAt,
		Similarity: similarity,
	}
}

// parseFields turns repeated key=value values of the named flag into a map.
func parseFields(flag string, pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --%s %q, want key=value", flag, p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
