package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/docsearch-go/internal/logging"
)

// NewIngestCmd constructs the `docsearch ingest` command, which runs a file or
// folder through the ingestion pipeline and prints the JSON report.
func NewIngestCmd() *cobra.Command {
	var table string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a document or a folder of documents into the vector store",
		Long: `Parse, chunk, embed and store a single file or every supported file under
a folder (.txt, .md, .docx, .xlsx, .xlsm, .pdf). Hidden directories are
skipped. A file that fails is recorded in the report and does not stop the
run; a table dimension conflict that cannot be healed does.

Examples:
  docsearch ingest ./manuals
  docsearch ingest --table contracts ./contracts/2024.pdf
  VECTOR_BACKEND=postgres DATABASE_URL=postgres://... docsearch ingest ./docs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			svc, err := buildServices(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer svc.Close()

			pipeline, err := buildPipeline(ctx, svc, documentTable(table), nil, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var bar *progressbar.ProgressBar
			progress := func(done, total int, file string) {
				if noProgress {
					return
				}
				if bar == nil {
					bar = progressbar.NewOptions(total,
						progressbar.OptionSetWriter(os.Stderr),
						progressbar.OptionSetDescription("ingesting"),
						progressbar.OptionShowCount(),
						progressbar.OptionClearOnFinish(),
					)
				}
				bar.Describe(filepath.Base(file))
				_ = bar.Set(done)
			}

			log.Info("starting ingestion", slog.String("path", args[0]), slog.String("table", pipeline.Table()))
			report, runErr := pipeline.IngestPath(ctx, args[0], progress)
			if bar != nil {
				_ = bar.Finish()
			}

			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("ingest: write report: %w", err)
				}
				log.Info("ingestion complete",
					slog.Int("total_files", report.TotalFiles),
					slog.Int("total_chunks", report.TotalChunks),
					slog.Int("failed_files", report.Failed()),
				)
			}
			if runErr != nil {
				return fmt.Errorf("ingest: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", "", "Destination table (default: $DOCSEARCH_TABLE or rag_documents)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

