// Package config holds the root configuration for realmprobe, loaded via
// Viper from file, environment, and flags.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Detector DetectorConfig `mapstructure:"detector"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Report   ReportConfig   `mapstructure:"report"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// PostgresConfig holds settings for the optional results store.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// DetectorConfig holds settings for the detection engine: which realms to
// stand up, how long to wait for them, and how each probe suite is sized.
type DetectorConfig struct {
	RealmTimeout        time.Duration `mapstructure:"realm_timeout"`
	WorkerRealms        int           `mapstructure:"worker_realms"`
	StabilityIterations int           `mapstructure:"stability_iterations"`
	Probes              ProbesConfig  `mapstructure:"probes"`
}

// ProbesConfig sizes and scopes the timing probe suite. Categories absent
// from Enabled are skipped and reported as unsupported.
type ProbesConfig struct {
	Enabled          []string      `mapstructure:"enabled"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	PerfNowSamples   int           `mapstructure:"perf_now_samples"`
	SchedulerSamples int           `mapstructure:"scheduler_samples"`
	AnimationFrames  int           `mapstructure:"animation_frames"`
	RoundTripSamples int           `mapstructure:"round_trip_samples"`
}

// Probe category names recognized in ProbesConfig.Enabled.
const (
	ProbePerfNow          = "perf_now"
	ProbeSchedulerLatency = "scheduler_latency"
	ProbeAnimationCadence = "animation_cadence"
	ProbeRoundTrip        = "round_trip"
)

// IsEnabled reports whether a probe category was requested.
func (p ProbesConfig) IsEnabled(name string) bool {
	for _, e := range p.Enabled {
		if e == name {
			return true
		}
	}
	return false
}

// BrowserConfig holds settings for the Chrome realm backend.
type BrowserConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	TargetURL       string   `mapstructure:"target_url"`
}

// ReportConfig holds settings for report emission.
type ReportConfig struct {
	// IncludeRaw controls whether the _rawResults escape hatch is attached.
	IncludeRaw bool   `mapstructure:"include_raw"`
	Output     string `mapstructure:"output"`
	Format     string `mapstructure:"format"`
}

// SetDefaults registers defaults so the app can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "realmprobe")
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("detector.realm_timeout", "3s")
	v.SetDefault("detector.worker_realms", 1)
	v.SetDefault("detector.stability_iterations", 5)
	v.SetDefault("detector.probes.enabled", []string{
		ProbePerfNow, ProbeSchedulerLatency, ProbeAnimationCadence, ProbeRoundTrip,
	})
	v.SetDefault("detector.probes.probe_timeout", "2s")
	v.SetDefault("detector.probes.perf_now_samples", 50)
	v.SetDefault("detector.probes.scheduler_samples", 20)
	v.SetDefault("detector.probes.animation_frames", 30)
	v.SetDefault("detector.probes.round_trip_samples", 10)

	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.target_url", "about:blank")

	v.SetDefault("report.include_raw", true)
	v.SetDefault("report.format", "json")
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Detector.RealmTimeout <= 0 {
		return fmt.Errorf("detector.realm_timeout must be positive, got %v", c.Detector.RealmTimeout)
	}
	if c.Detector.WorkerRealms < 0 {
		return fmt.Errorf("detector.worker_realms must not be negative, got %d", c.Detector.WorkerRealms)
	}
	if c.Detector.StabilityIterations < 1 {
		return fmt.Errorf("detector.stability_iterations must be at least 1, got %d", c.Detector.StabilityIterations)
	}
	if c.Detector.Probes.ProbeTimeout <= 0 {
		return fmt.Errorf("detector.probes.probe_timeout must be positive, got %v", c.Detector.Probes.ProbeTimeout)
	}
	for _, name := range c.Detector.Probes.Enabled {
		switch name {
		case ProbePerfNow, ProbeSchedulerLatency, ProbeAnimationCadence, ProbeRoundTrip:
		default:
			return fmt.Errorf("unknown probe category %q in detector.probes.enabled", name)
		}
	}
	switch c.Report.Format {
	case "", "json", "table":
	default:
		return fmt.Errorf("report.format must be json or table, got %q", c.Report.Format)
	}
	return nil
}

// Load unmarshals the Viper state into the configuration singleton.
func Load(v *viper.Viper) error {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	Set(&cfg)
	return nil
}

// Set stores the configuration instance.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("configuration not initialized, call config.Load() in the root command")
	}
	return instance
}
