// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Harness HarnessConfig `mapstructure:"harness" yaml:"harness"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Input   InputConfig   `mapstructure:"input" yaml:"input"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool     `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	// Device names a viewport emulation preset (e.g. "iphone-x", "pixel-5").
	// Empty means a plain desktop viewport.
	Device            string        `mapstructure:"device" yaml:"device"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// HarnessConfig tunes the combination test engine.
type HarnessConfig struct {
	// MaxDropdowns caps how many select controls are tested per page.
	MaxDropdowns int `mapstructure:"max_dropdowns" yaml:"max_dropdowns"`
	// ContainerWait bounds how long discovery waits for the result container.
	ContainerWait time.Duration `mapstructure:"container_wait" yaml:"container_wait"`
	// SettleDelay is the pause between applying a selection and verifying it.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// SampleTiles caps how many tiles are sampled into each observation.
	SampleTiles int `mapstructure:"sample_tiles" yaml:"sample_tiles"`

	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Liveness LivenessConfig `mapstructure:"liveness" yaml:"liveness"`

	// ValidationLog is the path of the buffered validation log file.
	ValidationLog string `mapstructure:"validation_log" yaml:"validation_log"`
	// FlushInterval drives the periodic validation log flush.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
	// FlushThreshold forces a synchronous flush once the buffer reaches it.
	FlushThreshold int `mapstructure:"flush_threshold" yaml:"flush_threshold"`
}

// RetryConfig bounds the per-operation retry budgets.
type RetryConfig struct {
	DriverInit     int `mapstructure:"driver_init" yaml:"driver_init"`
	Navigation     int `mapstructure:"navigation" yaml:"navigation"`
	DropdownFind   int `mapstructure:"dropdown_find" yaml:"dropdown_find"`
	OptionExtract  int `mapstructure:"option_extract" yaml:"option_extract"`
	OptionSelect   int `mapstructure:"option_select" yaml:"option_select"`
	CombinationRun int `mapstructure:"combination_run" yaml:"combination_run"`
}

// LivenessConfig tunes the stuck-session monitor.
type LivenessConfig struct {
	CheckInterval   time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	IdleThreshold   time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`
	MaxSoftRecovery int           `mapstructure:"max_soft_recovery" yaml:"max_soft_recovery"`
}

// ReportConfig selects the output rendering.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// InputConfig locates the test case CSV.
type InputConfig struct {
	CSVPath string `mapstructure:"csv_path" yaml:"csv_path"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "selectsweep")
	v.SetDefault("logger.log_file", "selectsweep.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.post_load_wait", "2s")

	// -- Harness --
	v.SetDefault("harness.max_dropdowns", 3)
	v.SetDefault("harness.container_wait", "30s")
	v.SetDefault("harness.settle_delay", "800ms")
	v.SetDefault("harness.sample_tiles", 10)
	v.SetDefault("harness.retry.driver_init", 3)
	v.SetDefault("harness.retry.navigation", 3)
	v.SetDefault("harness.retry.dropdown_find", 3)
	v.SetDefault("harness.retry.option_extract", 2)
	v.SetDefault("harness.retry.option_select", 3)
	v.SetDefault("harness.retry.combination_run", 2)
	v.SetDefault("harness.liveness.check_interval", "10s")
	v.SetDefault("harness.liveness.idle_threshold", "45s")
	v.SetDefault("harness.liveness.max_soft_recovery", 2)
	v.SetDefault("harness.validation_log", "validation.log")
	v.SetDefault("harness.flush_interval", "5s")
	v.SetDefault("harness.flush_threshold", 50)

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.output", "report.json")

	// -- Input --
	v.SetDefault("input.csv_path", "testcases.csv")
}

// NewDefaultConfig creates a configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Harness.MaxDropdowns <= 0 {
		return fmt.Errorf("harness.max_dropdowns must be a positive integer")
	}
	if c.Harness.SettleDelay < 0 {
		return fmt.Errorf("harness.settle_delay must not be negative")
	}
	if c.Harness.FlushThreshold <= 0 {
		return fmt.Errorf("harness.flush_threshold must be a positive integer")
	}
	if c.Harness.Liveness.CheckInterval <= 0 {
		return fmt.Errorf("harness.liveness.check_interval must be a positive duration")
	}
	if c.Harness.Liveness.IdleThreshold <= 0 {
		return fmt.Errorf("harness.liveness.idle_threshold must be a positive duration")
	}
	if c.Harness.Liveness.MaxSoftRecovery <= 0 {
		return fmt.Errorf("harness.liveness.max_soft_recovery must be a positive integer")
	}
	for name, budget := range map[string]int{
		"driver_init":     c.Harness.Retry.DriverInit,
		"navigation":      c.Harness.Retry.Navigation,
		"dropdown_find":   c.Harness.Retry.DropdownFind,
		"option_extract":  c.Harness.Retry.OptionExtract,
		"option_select":   c.Harness.Retry.OptionSelect,
		"combination_run": c.Harness.Retry.CombinationRun,
	} {
		if budget <= 0 {
			return fmt.Errorf("harness.retry.%s must be a positive integer", name)
		}
	}
	switch c.Report.Format {
	case "json", "html", "text":
	default:
		return fmt.Errorf("unsupported report format: %s", c.Report.Format)
	}
	return nil
}
