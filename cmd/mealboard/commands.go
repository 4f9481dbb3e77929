package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mealboard/internal/app"
	"mealboard/internal/database"
	"mealboard/internal/metrics"
	"mealboard/internal/planner"
	"mealboard/internal/trmnl"
)

var (
	pushForce   bool
	cleanupDays int
)

func init() {
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "Push even if the plan is unchanged since the last push")
	metricsCleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Keep records for the last N days")
}

// serveCmd runs the HTTP server, the live-update hub and the display scheduler.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signalContext()
		defer stop()

		application, err := app.New(ctx, cfg, logger, app.Options{})
		if err != nil {
			return err
		}
		defer application.Close()

		logger.Info("mealboard starting",
			zap.Int("port", cfg.Port),
			zap.String("database", cfg.DatabasePath),
			zap.String("language", cfg.Language),
			zap.Bool("trmnl", cfg.TRMNLEnabled()),
			zap.Bool("telegram", cfg.TelegramBotToken != ""))

		if err := application.Run(ctx); err != nil {
			logger.Error("mealboard stopped with error", zap.Error(err))
			return err
		}
		logger.Info("mealboard stopped")
		return nil
	},
}

// pushCmd pushes the meal plan to the display once.
var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the meal plan to the TRMNL display",
	Long: `Push the current meal plan to the configured TRMNL webhook.

Examples:
  # Push only if the plan changed since the last push
  mealboard push

  # Push unconditionally
  mealboard push --force`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := database.NewDB(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()

		var client trmnl.Client
		if cfg.TRMNLEnabled() {
			client = trmnl.NewClient(cfg.TRMNLWebhookURL, cfg.TRMNLWebhookSecret)
		}
		plans := planner.NewService(planner.NewPlanRepository(db), logger)
		pusher := trmnl.NewPusher(plans, client, trmnl.NewStatusRepository(db), nil, logger)

		res := pusher.Push(cmd.Context(), pushForce)
		if !res.Success {
			return fmt.Errorf("push failed: %s", res.Error)
		}
		if res.ChangeDetected {
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed meal plan at %s.\n", res.PushedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Meal plan unchanged, nothing pushed.")
		}
		return nil
	},
}

// metricsCleanupCmd removes old AI usage records.
var metricsCleanupCmd = &cobra.Command{
	Use:   "metrics-cleanup",
	Short: "Remove old AI usage records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := database.NewDB(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()

		affected, err := metrics.NewStore(db.SQL).Cleanup(cmd.Context(), cleanupDays)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old metric records.\n", affected)
		return nil
	},
}

// migrateCmd applies pending schema migrations.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := database.NewDB(cfg.DatabasePath)
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}

		version, dirty, err := database.SchemaVersion(cfg.DatabasePath)
		if err != nil {
			return err
		}
		logger.Info("database is up to date", zap.String("path", cfg.DatabasePath), zap.Uint("version", version))
		fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}
