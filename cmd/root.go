// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/realmprobe/internal/config"
	"github.com/xkilldash9x/realmprobe/internal/observability"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "realmprobe",
	Short: "Realmprobe detects automation frameworks by cross-examining JS realms.",
	Long: `Realmprobe spins up multiple JavaScript realms (main document, sub-document,
dedicated workers), collects an environment profile from each, and scores how
coherent the realms are with one another. Automation and anti-detection tooling
tends to patch one realm and forget the rest; the disagreement is the signal.`,
	Version:           Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Initialize configuration loading (Viper).
		if err := initializeConfig(); err != nil {
			basicLogger, _ := zap.NewDevelopment()
			basicLogger.Error("Failed to initialize configuration", zap.Error(err))
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal the configuration.
		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "realmprobe"})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// 3. Validate the configuration.
		if err := cfg.Validate(); err != nil {
			observability.InitializeLogger(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Store the configuration globally.
		config.Set(&cfg)

		// 5. Initialize the logger.
		observability.InitializeLogger(cfg.Logger)
		logger := observability.GetLogger()
		logger.Info("Starting realmprobe", zap.String("version", Version))

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// It accepts a context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			// Avoid logging context.Canceled as a failure; it is expected
			// during graceful shutdown.
			if ctx.Err() == nil {
				logger.Error("Command execution failed", zap.Error(err))
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the realmprobe version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "realmprobe %s\n", Version)
	},
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	// Set default values so the app can run with a minimal config.
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("REALMPROBE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Database connection string, bound explicitly so it is picked up even
	// when no other key under postgres.* is set.
	_ = viper.BindEnv("postgres.url", "REALMPROBE_POSTGRES_URL")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; parsing errors are not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
