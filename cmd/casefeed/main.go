package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/casefeed/internal/checkpoint"
	"github.com/ethpandaops/casefeed/internal/credentials"
	"github.com/ethpandaops/casefeed/internal/export"
	"github.com/ethpandaops/casefeed/internal/ingest"
	"github.com/ethpandaops/casefeed/internal/migrate"
	"github.com/ethpandaops/casefeed/internal/version"
)

var (
	cfgFile    string
	logLevel   string
	resumeFrom string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "casefeed",
		Short: "Daily case report ingester",
		Long: `casefeed reads a directory of daily case report CSV files in name
order and writes cumulative totals, per-day deltas and per-state delta
totals to a time-series store, one batch per file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	cmd.PersistentFlags().StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	cmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)
	cmd.Flags().StringVar(
		&resumeFrom, "resume-from", "",
		"daily file name to start from, matched exactly",
	)

	cmd.AddCommand(versionCmd(), migrateCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

// setup loads the config and builds a logger at the effective level.
func setup() (*logrus.Logger, *ingest.Config, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if cfgFile == "" {
		return nil, nil, errors.New("--config is required")
	}

	cfg, err := ingest.LoadConfig(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}

	log.SetLevel(level)

	return log, cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	log, cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	runID := uuid.NewString()
	target := export.Target{RunID: runID}
	opts := ingest.Options{
		RunID:      runID,
		ResumeFrom: cfg.Resume.From,
	}

	if cfg.CredentialsFile != "" {
		creds, err := credentials.Load(cfg.CredentialsFile)
		if err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}

		target.Token = creds.Token
		target.Org = creds.Org
		target.Bucket = creds.Bucket
		opts.OrgID = creds.OrgID
		opts.BucketID = creds.BucketID

		if opts.ResumeFrom == "" {
			opts.ResumeFrom = creds.Checkpoint
		}

		log.WithFields(logrus.Fields{
			"org":    creds.Org,
			"bucket": creds.Bucket,
			"token":  creds.Redacted(),
		}).Debug("Loaded credentials")
	}

	if resumeFrom != "" {
		opts.ResumeFrom = resumeFrom
	}

	health := export.NewHealthMetrics(log, cfg.Health)
	if err := health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}
	defer health.Stop()

	opts.Metrics = health

	if cfg.Resume.StatePath != "" {
		state, err := checkpoint.Open(log, cfg.Resume.StatePath)
		if err != nil {
			return err
		}
		defer state.Close()

		opts.State = state
	}

	store, err := export.NewStore(log, cfg.Storage, target)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting %s store: %w", store.Name(), err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Error("Error stopping store")
		}
	}()

	log.WithFields(logrus.Fields{
		"version": version.Full(),
		"run_id":  runID,
	}).Info("Starting casefeed")

	summary, err := ingest.NewRunner(log, cfg, store, opts).Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest run %s: %w", runID, err)
	}

	log.WithFields(logrus.Fields{
		"files":        summary.Files,
		"rows":         summary.Rows,
		"skipped_rows": summary.SkippedRows,
		"points":       summary.Points,
		"elapsed":      summary.Elapsed.String(),
	}).Info("Done")

	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse schema for the clickhouse backend",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(ctx context.Context, m migrate.Migrator) error {
				return m.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(ctx context.Context, m migrate.Migrator) error {
				return m.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: withMigrator(func(ctx context.Context, m migrate.Migrator) error {
				v, dirty, err := m.Status(ctx)
				if err != nil {
					return err
				}

				fmt.Printf("version: %d dirty: %t\n", v, dirty)

				return nil
			}),
		},
	)

	return cmd
}

func withMigrator(
	fn func(ctx context.Context, m migrate.Migrator) error,
) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		log, cfg, err := setup()
		if err != nil {
			return err
		}

		m := migrate.New(log, cfg.Storage.ClickHouse.MigrationDSN())

		return fn(cmd.Context(), m)
	}
}
