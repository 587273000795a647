package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/config"
	"github.com/TheEntropyCollective/rcasearch/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/rcasearch/pkg/search"
	"github.com/TheEntropyCollective/rcasearch/pkg/storage/postgres"
	"github.com/TheEntropyCollective/rcasearch/pkg/util"
)

var (
	configPath string
	logLevel   string

	// resolvedConfigPath is the file the configuration was read from
	resolvedConfigPath string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "rcasearch",
	Short: "Search the public film register catalog",
	Long: `rcasearch searches a PostgreSQL copy of the public film register (RCA).

The catalog table changes shape between imports; rcasearch reads its column
list and maps each search field onto whatever columns are present.

Examples:
  # Start the web site on :5000
  DATABASE_URL=postgres://rca@localhost/rca rcasearch serve

  # Films directed by Spielberg, as JSON
  rcasearch search --person spielberg --role realisateur

  # Show how search fields resolve against the current table
  rcasearch columns`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override: debug|info|warn|error")

	rootCmd.AddCommand(newServeCmd(), newSearchCmd(), newColumnsCmd(), newMigrateCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, util.FormatError(err))
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, resolvedConfigPath, err = loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger, err = newLogger(cfg.Logging, cmd.ErrOrStderr())
	return err
}

// loadConfig loads configuration from file or uses defaults
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		defaultPath, err := config.GetDefaultConfigPath()
		if err == nil {
			path = defaultPath
		}
	}
	c, err := config.LoadConfig(path)
	return c, path, err
}

// newLogger builds the global logger. Console output goes to stderr so
// that command output on stdout stays machine-readable.
func newLogger(lc config.LoggingConfig, console io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLogLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseLogFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	output := console
	switch lc.Output {
	case "file":
		output, err = logging.CreateFileOutput(lc.File)
	case "both":
		output, err = logging.CreateCombinedOutput(lc.File)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return logging.InitGlobalLogger(&logging.Config{
		Level:            level,
		Format:           format,
		Output:           output,
		EnableSanitizing: true,
	}), nil
}

// openDatabase connects to the configured catalog database.
func openDatabase(ctx context.Context) (*postgres.Database, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return postgres.NewDatabase(ctx, &postgres.DatabaseConfig{
		ConnectionString: cfg.Database.URL,
		MaxConnections:   int32(cfg.Database.MaxConnections),
		ConnectTimeout:   cfg.Database.ConnectTimeoutDuration(),
	}, logger)
}

// newSearchService wires the search service over db.
func newSearchService(db *postgres.Database) *search.Service {
	return search.NewService(db, cfg.Database.Table, logger)
}
