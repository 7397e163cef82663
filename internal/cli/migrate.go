package cli

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/execution-hub/dsp-connector/internal/config"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/postgres"
	"github.com/execution-hub/dsp-connector/internal/infrastructure/sqlite"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Dir string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema and exit",
		Long: `Apply the schema for the configured STORE_BACKEND.

For postgres the embedded migrations run unless --dir names a directory of .sql files.
The sqlite schema is applied on open. The memory backend has nothing to migrate.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "directory of .sql migrations (postgres only)")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
		var fsys fs.FS = postgres.Migrations()
		if opts.Dir != "" {
			fsys = os.DirFS(opts.Dir)
		}
		pool, err := postgres.NewPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(cmd.Context(), pool, fsys); err != nil {
			return err
		}
	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if err := db.Close(); err != nil {
			return err
		}
	case config.BackendMemory:
		fmt.Fprintln(out, "memory backend: nothing to migrate")
		return nil
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, sqlite")
	}

	fmt.Fprintf(out, "%s schema is up to date\n", cfg.StoreBackend)
	return nil
}
