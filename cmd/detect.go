// File: cmd/detect.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/api/schemas"
	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/engine"
	"github.com/xkilldash9x/realmprobe/internal/hostenv"
	"github.com/xkilldash9x/realmprobe/internal/observability"
	"github.com/xkilldash9x/realmprobe/internal/realm"
	"github.com/xkilldash9x/realmprobe/internal/realm/chrome"
	"github.com/xkilldash9x/realmprobe/internal/realm/gojart"
	"github.com/xkilldash9x/realmprobe/internal/report"
	"github.com/xkilldash9x/realmprobe/internal/store"
	"github.com/xkilldash9x/realmprobe/internal/tamper"
)

var (
	detectBrowser    bool
	detectOutput     string
	detectFormat     string
	detectIncludeRaw bool
	detectTamper     []string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run a cross-realm detection pass and emit the report",
	Long: `Creates the configured realms, probes each one, and scores the collected
profiles for coherence, stability and invariant violations. By default the
realms are embedded JS interpreters; pass --browser (or set browser.enabled)
to probe a real Chrome instance instead.

The --tamper flag deliberately corrupts the embedded host environment and is
only useful for demonstrating what a detection looks like.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()
		cfg := config.Get()

		manager, err := buildManager(ctx, logger, cfg)
		if err != nil {
			return fmt.Errorf("failed to build realm manager: %w", err)
		}

		detector := engine.New(logger, cfg.Detector, manager)
		result := detector.Run(ctx)

		includeRaw := cfg.Report.IncludeRaw || detectIncludeRaw
		rep := report.Flatten(result, includeRaw)

		if cfg.Postgres.URL != "" {
			if err := persistRun(ctx, logger, cfg.Postgres.URL, result); err != nil {
				// Persistence is best effort; the report still goes out.
				logger.Error("Failed to persist detection run", zap.Error(err), zap.String("run_id", result.RunID))
			}
		}

		output := cfg.Report.Output
		if detectOutput != "" {
			output = detectOutput
		}
		format := cfg.Report.Format
		if detectFormat != "" {
			format = detectFormat
		}
		return writeReport(rep, format, output)
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectBrowser, "browser", false, "Probe a real Chrome instance instead of embedded realms")
	detectCmd.Flags().StringVarP(&detectOutput, "output", "o", "", "Write the report to a file instead of stdout")
	detectCmd.Flags().StringVar(&detectFormat, "format", "", "Report format: json or table (overrides config)")
	detectCmd.Flags().BoolVar(&detectIncludeRaw, "include-raw", false, "Attach raw per-realm results to the report")
	detectCmd.Flags().StringSliceVar(&detectTamper, "tamper", nil,
		"Demo modes that corrupt the embedded host environment (clock, rect-skew, rect-noise, renderer)")
}

// buildManager picks the realm backend. Chrome when asked for, embedded
// interpreters otherwise.
func buildManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (realm.Manager, error) {
	if detectBrowser || cfg.Browser.Enabled {
		if len(detectTamper) > 0 {
			return nil, fmt.Errorf("--tamper only applies to the embedded backend")
		}
		return chrome.NewManager(ctx, logger, cfg.Browser)
	}

	env, err := tamperedEnv(hostenv.NewNative(), detectTamper)
	if err != nil {
		return nil, err
	}
	return gojart.NewManager(logger, env)
}

func tamperedEnv(base hostenv.Environment, modes []string) (hostenv.Environment, error) {
	if len(modes) == 0 {
		return base, nil
	}
	var opts []tamper.Option
	for _, mode := range modes {
		switch mode {
		case "clock":
			opts = append(opts, tamper.WithClockJitter(0.25))
		case "rect-skew":
			opts = append(opts, tamper.WithRectSkew(3))
		case "rect-noise":
			opts = append(opts, tamper.WithRectNoise(0.5))
		case "renderer":
			opts = append(opts, tamper.WithNoisyRenderer())
		default:
			return nil, fmt.Errorf("unknown tamper mode %q", mode)
		}
	}
	return tamper.Wrap(base, opts...), nil
}

func persistRun(ctx context.Context, logger *zap.Logger, url string, result *schemas.DetectionResult) error {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store service: %w", err)
	}
	return storeService.PersistRun(ctx, result)
}

func writeReport(rep schemas.Report, format, output string) error {
	var payload []byte
	switch format {
	case "table":
		payload = []byte(renderTable(rep))
	default:
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to serialize report: %w", err)
		}
		if err := schemas.ValidateReport(data); err != nil {
			return fmt.Errorf("report failed schema validation: %w", err)
		}
		payload = append(data, '\n')
	}

	if output == "" {
		_, err := os.Stdout.Write(payload)
		return err
	}
	if err := os.WriteFile(output, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", output, err)
	}
	return nil
}

func renderTable(rep schemas.Report) string {
	keys := make([]string, 0, len(rep.Metrics))
	for k := range rep.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tVALUE\tRISK")
	for _, k := range keys {
		m := rep.Metrics[k]
		fmt.Fprintf(tw, "%s\t%v\t%s\n", k, m.Value, m.Risk)
	}
	_ = tw.Flush()
	return sb.String()
}
