// File: cmd/show.go
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/observability"
	"github.com/xkilldash9x/realmprobe/internal/report"
	"github.com/xkilldash9x/realmprobe/internal/store"
)

var (
	showRunID      string
	showIncludeRaw bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Render the report for a previously persisted detection run",
	Long:  `Loads a stored detection run from the database by its run ID and prints the flattened report, exactly as the detect command would have emitted it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showRunID == "" {
			return fmt.Errorf("a run-id must be provided")
		}

		ctx := cmd.Context()
		logger := observability.GetLogger()
		cfg := config.Get()

		if cfg.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is not configured")
		}

		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()

		storeService, err := store.New(ctx, pool, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store service: %w", err)
		}

		result, err := storeService.GetRun(ctx, showRunID)
		if err != nil {
			logger.Error("Failed to load detection run", zap.Error(err), zap.String("run_id", showRunID))
			return err
		}

		rep := report.Flatten(result, cfg.Report.IncludeRaw || showIncludeRaw)
		return writeReport(rep, cfg.Report.Format, cfg.Report.Output)
	},
}

func init() {
	showCmd.Flags().StringVar(&showRunID, "run-id", "", "The ID of the run to render (required)")
	showCmd.Flags().BoolVar(&showIncludeRaw, "include-raw", false, "Attach raw per-realm results to the report")
	_ = showCmd.MarkFlagRequired("run-id")
}
