// Package commands defines all Cobra CLI commands for the docsearch binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docsearch-go/internal/audit"
	"github.com/54b3r/docsearch-go/internal/config"
	"github.com/54b3r/docsearch-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docsearch",
		Short: "Document ingestion and similarity search over a vector store",
		Long: `docsearch parses PDF, Word, Excel and text documents, splits them into
overlapping fragments, embeds each fragment and stores it in a vector store
(postgres with pgvector, sqlite, qdrant, or in-memory). Queries are embedded
the same way and answered with the most similar fragments.

The embedding provider is selected via EMBEDDING_PROVIDER and the store via
VECTOR_BACKEND, from the environment, a .env file, or a YAML config file
(~/.docsearch/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from the files just loaded.
			log = logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docsearch/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewMemoryCmd(),
		NewStatsCmd(),
		NewResetCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
