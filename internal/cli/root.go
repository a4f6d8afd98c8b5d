// Package cli provides the command-line interface for snowclass.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raphaelgruber/snowclass/internal/config"
	"github.com/raphaelgruber/snowclass/internal/db"
	"github.com/raphaelgruber/snowclass/internal/metrics"
	"github.com/raphaelgruber/snowclass/internal/models"
	"github.com/raphaelgruber/snowclass/internal/reasoner"
	"github.com/raphaelgruber/snowclass/internal/service"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose  bool
	branch   string
	username string

	// Set up by the root pre-run
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	dbClient   *db.Client
	svcMetrics *metrics.Metrics
	svc        *service.ClassificationService
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "snowclass",
	Short: "Classify terminology branches with a remote reasoner",
	Long: `Snowclass submits the pending changes of a terminology branch to a remote
description-logic reasoner, tracks the job, stores the inferred relationship
changes it reports and merges them back into the branch in one commit.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		ctx := cmd.Context()
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}

		svcMetrics, err = metrics.New(prometheus.NewRegistry())
		if err != nil {
			return err
		}

		rc := reasoner.New(reasoner.Config{
			URL:      cfg.ReasonerURL,
			Username: cfg.ReasonerUser,
			Password: cfg.ReasonerPass,
			Timeout:  cfg.ReasonerTimeout,
		})
		deps := service.DepsFromDB(dbClient, rc)
		deps.Metrics = svcMetrics
		deps.Logger = logger
		svc = service.New(deps, service.Options{
			PollInterval: cfg.PollInterval,
			CoolOff:      cfg.CoolOff,
			AbortAfter:   cfg.AbortAfter,
			SaveWorkers:  cfg.SaveWorkers,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// identity is the user commits are made for.
func identity() models.Identity {
	return models.Identity{Username: username}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaultUser := os.Getenv("USER")
	if defaultUser == "" {
		defaultUser = models.SystemIdentity.Username
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&branch, "branch", "b", "MAIN", "branch path")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", defaultUser, "user the classification runs as")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(equivalentsCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(resetCmd)
}
