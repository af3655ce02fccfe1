package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/spf13/cobra"

	"github.com/54b3r/docsearch-go/internal/logging"
	"github.com/54b3r/docsearch-go/internal/rag"
	"github.com/54b3r/docsearch-go/internal/vectorstore"
)

// defaultSearchTopK is the --top-k default for the CLI.
const defaultSearchTopK = 4

// NewSearchCmd constructs the `docsearch search` command.
func NewSearchCmd() *cobra.Command {
	var table string
	var topK int
	var threshold float64
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find the fragments most similar to a query",
		Long: `Embed the query and return the top-K stored fragments ranked by cosine
similarity. When --threshold is given, fragments below it are dropped. An empty or missing table
is reported as an error; a query with no fragment above the threshold prints
nothing.

Examples:
  docsearch search "pump maintenance interval"
  docsearch search --top-k 10 --threshold 0.5 --table contracts "termination clause"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			svc, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer svc.Close()

			engine, err := rag.NewEngine(svc.embedder, svc.store, defaultSearchTopK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			r := rag.NewEinoRetriever(engine, documentTable(table), vectorstore.SearchOptions{TopK: defaultSearchTopK})

			ropts := []retriever.Option{retriever.WithTopK(topK)}
			if cmd.Flags().Changed("threshold") {
				ropts = append(ropts, retriever.WithScoreThreshold(threshold))
			}
			docs, err := r.Retrieve(ctx, strings.Join(args, " "), ropts...)
			if errors.Is(err, vectorstore.ErrNoData) {
				return fmt.Errorf("search: table %q is empty or does not exist; run `docsearch ingest` first", documentTable(table))
			}
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				return writeDocsJSON(cmd.OutOrStdout(), docs)
			}
			writeDocsText(cmd.OutOrStdout(), docs)
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "Table to search (default: $DOCSEARCH_TABLE or rag_documents)")
	cmd.Flags().IntVarP(&topK, "top-k", "k", defaultSearchTopK, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum cosine similarity in [-1, 1] (default: no cutoff)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}

// docView is the JSON form of a search hit printed by the CLI.
type docView struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func writeDocsJSON(w io.Writer, docs []*schema.Document) error {
	out := make([]docView, 0, len(docs))
	for _, d := range docs {
		out = append(out, docView{ID: d.ID, Score: d.Score(), Content: d.Content, Metadata: d.MetaData})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeDocsText(w io.Writer, docs []*schema.Document) {
	for i, d := range docs {
		fmt.Fprintf(w, "%d. [%.4f] %v", i+1, d.Score(), d.MetaData["file_name"])
		if page, ok := d.MetaData["page_number"].(int); ok && page > 0 {
			fmt.Fprintf(w, " p.%d", page)
		}
		fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(d.Content))
	}
}
