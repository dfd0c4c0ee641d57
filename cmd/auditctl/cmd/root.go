// Package cmd implements auditctl, an operator CLI that reads and writes the
// configured audit store directly.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"auditlog/internal/audit/store"
	"auditlog/internal/platform/config"
	"auditlog/internal/platform/logger"
)

type rootOptions struct {
	driver      string
	sqlitePath  string
	postgresDSN string
	logLevel    string
}

// NewRootCmd builds the command tree. Tests call it directly with their own
// output buffers.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect and append to the security audit log",
		Long:          `Operator tool for the audit log. Reads AUDITLOG_* configuration; flags override the store settings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "store driver: sqlite, postgres or memory")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database file")
	root.PersistentFlags().StringVar(&opts.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "operational log level")

	root.AddCommand(
		newQueryCmd(opts),
		newStatsCmd(opts),
		newRecordCmd(opts),
		newHashPasswordCmd(),
	)
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore loads configuration, applies flag overrides and opens the store.
func (o *rootOptions) openStore(ctx context.Context, errOut io.Writer) (store.Backend, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if o.driver != "" {
		cfg.Store.Driver = o.driver
	}
	if o.sqlitePath != "" {
		cfg.Store.SQLitePath = o.sqlitePath
	}
	if o.postgresDSN != "" {
		cfg.Store.PostgresDSN = o.postgresDSN
	}
	log := logger.New(errOut, o.logLevel, "text")
	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit store: %w", err)
	}
	return backend, log, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
