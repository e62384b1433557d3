// Package config handles loading and validating dispatchd configuration.
// Values come from a global YAML file, a project dispatchd.yaml merged over
// it, a .env file and DISPATCHD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Defaults.
const (
	DefaultDBDriver         = "sqlite"
	DefaultDBPath           = "~/.local/share/dispatchd/dispatchd.db"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultLogPath          = "~/.local/share/dispatchd/logs"
	DefaultAuditPath        = "~/.local/share/dispatchd/audit"
	DefaultDispatchInterval = 60 * time.Second
	MinDispatchInterval     = 10 * time.Second
	DefaultClockInWindow    = 12 * time.Hour
	DefaultDuplicateWindow  = 5 * time.Minute
	DefaultBasePoints       = 5
	DefaultGoldBonus        = 10
	DefaultTargetDuration   = 90 * time.Minute
	DefaultNotifyWorkers    = 4
	DefaultNotifyQueueSize  = 256
	DefaultMaxAttempts      = 3
	DefaultBackoff          = 1500 * time.Millisecond
	DefaultSendTimeout      = 15 * time.Second
	DefaultCountryPrefix    = "+972"
	DefaultActivityLogSize  = 200
	DefaultPerfWorkers      = 2
	DefaultPerfQueueSize    = 512
	DefaultReportCron       = "0 9 * * 0"
	DefaultReportDays       = 7
	DefaultCheckoutHour     = 12
	DefaultLanguage         = "en"
	DefaultServiceName      = "dispatchd"
	ProjectConfigName       = "dispatchd.yaml"
)

// Validation errors.
var (
	ErrInvalidDBDriver      = errors.New("database.driver must be sqlite or postgres")
	ErrMissingDSN           = errors.New("database.dsn is required for postgres")
	ErrInvalidLogLevel      = errors.New("logging.level must be debug, info, warn or error")
	ErrInvalidLogFormat     = errors.New("logging.format must be json or text")
	ErrIntervalTooShort     = fmt.Errorf("dispatch.interval must be at least %s", MinDispatchInterval)
	ErrInvalidClockInWindow = errors.New("dispatch.clock_in_window must be positive")
	ErrInvalidScoring       = errors.New("lifecycle points and default_target must be positive")
	ErrInvalidWorkers       = errors.New("worker counts must be positive")
	ErrInvalidQueueSize     = errors.New("queue sizes must be positive")
	ErrInvalidMaxAttempts   = errors.New("notify.max_attempts must be between 1 and 10")
	ErrInvalidReportCron    = errors.New("report.cron is not a valid cron expression")
	ErrInvalidCheckoutHour  = errors.New("calendar.checkout_hour must be between 0 and 23")
)

// Config holds all dispatchd configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Report      ReportConfig      `mapstructure:"report"`
	Calendar    CalendarConfig    `mapstructure:"calendar"`
	Locale      LocaleConfig      `mapstructure:"locale"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Audit       AuditConfig       `mapstructure:"audit"`

	// path of the file writes (SetDispatch) should target
	source string
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres
	Path   string `mapstructure:"path"`   // sqlite file
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DispatchConfig controls the assignment sweep.
type DispatchConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	ClockInWindow  time.Duration `mapstructure:"clock_in_window"`
	PropertyLat    float64       `mapstructure:"property_lat"`
	PropertyLng    float64       `mapstructure:"property_lng"`
	AssignOnCreate bool          `mapstructure:"assign_on_create"`
}

// LifecycleConfig controls status handling and scoring.
type LifecycleConfig struct {
	StrictTransitions bool          `mapstructure:"strict_transitions"`
	DuplicateWindow   time.Duration `mapstructure:"duplicate_window"`
	BasePoints        int           `mapstructure:"base_points"`
	GoldBonus         int           `mapstructure:"gold_bonus"`
	DefaultTarget     time.Duration `mapstructure:"default_target"`
}

// NotifyConfig controls outbound messaging.
type NotifyConfig struct {
	Simulate        bool          `mapstructure:"simulate"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Backoff         time.Duration `mapstructure:"backoff"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	CountryPrefix   string        `mapstructure:"country_prefix"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	WebhookToken    string        `mapstructure:"webhook_token"`
	Targets         []string      `mapstructure:"targets"`
	DefaultPhotoURL string        `mapstructure:"default_photo_url"`
	OwnerPhone      string        `mapstructure:"owner_phone"`
	ActivityLogSize int           `mapstructure:"activity_log_size"`
}

// PerformanceConfig sizes the aggregator pool.
type PerformanceConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// ReportConfig controls the scheduled performance report.
type ReportConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Cron         string `mapstructure:"cron"`
	Days         int    `mapstructure:"days"`
	PropertyName string `mapstructure:"property_name"`
	DashboardURL string `mapstructure:"dashboard_url"`
}

// CalendarConfig controls vacancy ingestion.
type CalendarConfig struct {
	CheckoutHour int    `mapstructure:"checkout_hour"`
	File         string `mapstructure:"file"` // JSON vacancy windows synced by serve
}

// LocaleConfig sets message languages.
type LocaleConfig struct {
	DefaultLanguage string            `mapstructure:"default_language"`
	Tenants         map[string]string `mapstructure:"tenants"`
}

// TelemetryConfig configures OTLP trace export; empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// AuditConfig controls the daemon's change trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DefaultDBDriver)
	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.path", DefaultLogPath)
	v.SetDefault("logging.retention_days", 14)
	v.SetDefault("dispatch.enabled", true)
	v.SetDefault("dispatch.interval", DefaultDispatchInterval)
	v.SetDefault("dispatch.clock_in_window", DefaultClockInWindow)
	v.SetDefault("dispatch.assign_on_create", true)
	v.SetDefault("lifecycle.duplicate_window", DefaultDuplicateWindow)
	v.SetDefault("lifecycle.base_points", DefaultBasePoints)
	v.SetDefault("lifecycle.gold_bonus", DefaultGoldBonus)
	v.SetDefault("lifecycle.default_target", DefaultTargetDuration)
	v.SetDefault("notify.simulate", true)
	v.SetDefault("notify.workers", DefaultNotifyWorkers)
	v.SetDefault("notify.queue_size", DefaultNotifyQueueSize)
	v.SetDefault("notify.max_attempts", DefaultMaxAttempts)
	v.SetDefault("notify.backoff", DefaultBackoff)
	v.SetDefault("notify.send_timeout", DefaultSendTimeout)
	v.SetDefault("notify.country_prefix", DefaultCountryPrefix)
	v.SetDefault("notify.activity_log_size", DefaultActivityLogSize)
	v.SetDefault("performance.workers", DefaultPerfWorkers)
	v.SetDefault("performance.queue_size", DefaultPerfQueueSize)
	v.SetDefault("report.enabled", true)
	v.SetDefault("report.cron", DefaultReportCron)
	v.SetDefault("report.days", DefaultReportDays)
	v.SetDefault("calendar.checkout_hour", DefaultCheckoutHour)
	v.SetDefault("locale.default_language", DefaultLanguage)
	v.SetDefault("telemetry.service_name", DefaultServiceName)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", DefaultAuditPath)

	// AutomaticEnv only reaches keys viper already knows about.
	for key, zero := range map[string]any{
		"database.dsn":                 "",
		"dispatch.property_lat":        0.0,
		"dispatch.property_lng":        0.0,
		"lifecycle.strict_transitions": false,
		"notify.webhook_url":           "",
		"notify.webhook_token":         "",
		"notify.default_photo_url":     "",
		"notify.owner_phone":           "",
		"report.property_name":         "",
		"report.dashboard_url":         "",
		"telemetry.endpoint":           "",
		"telemetry.insecure":           false,
		"calendar.file":                "",
	} {
		v.SetDefault(key, zero)
	}
}

// GlobalConfigPath is ~/.config/dispatchd/config.yaml.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "dispatchd", "config.yaml")
}

// Load reads the global config and ./dispatchd.yaml.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return LoadFromPaths(wd, GlobalConfigPath())
}

// LoadFromPaths loads globalPath, then merges projectDir/dispatchd.yaml over it.
// A .env file in projectDir is loaded into the environment first; existing
// variables win.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	envFile := filepath.Join(projectDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("DISPATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := globalPath
	if fileExists(globalPath) {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", globalPath, err)
		}
	}

	projectPath := filepath.Join(projectDir, ProjectConfigName)
	if fileExists(projectPath) {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge %s: %w", projectPath, err)
		}
		source = projectPath
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.source = source

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg. Zero values are accepted where a default applies.
func Validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if cfg.Database.DSN == "" {
			return ErrMissingDSN
		}
	default:
		return ErrInvalidDBDriver
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}

	if cfg.Dispatch.Interval != 0 && cfg.Dispatch.Interval < MinDispatchInterval {
		return ErrIntervalTooShort
	}
	if cfg.Dispatch.ClockInWindow < 0 {
		return ErrInvalidClockInWindow
	}

	if cfg.Lifecycle.BasePoints < 0 || cfg.Lifecycle.GoldBonus < 0 || cfg.Lifecycle.DefaultTarget < 0 {
		return ErrInvalidScoring
	}

	if cfg.Notify.Workers < 0 || cfg.Performance.Workers < 0 {
		return ErrInvalidWorkers
	}
	if cfg.Notify.QueueSize < 0 || cfg.Performance.QueueSize < 0 || cfg.Notify.ActivityLogSize < 0 {
		return ErrInvalidQueueSize
	}
	if cfg.Notify.MaxAttempts < 0 || cfg.Notify.MaxAttempts > 10 {
		return ErrInvalidMaxAttempts
	}

	if cfg.Report.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Report.Cron); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidReportCron, cfg.Report.Cron)
		}
	}
	if cfg.Calendar.CheckoutHour < 0 || cfg.Calendar.CheckoutHour > 23 {
		return ErrInvalidCheckoutHour
	}
	return nil
}

// Source is the file the config was loaded from, or the global path.
func (c *Config) Source() string {
	if c.source == "" {
		return GlobalConfigPath()
	}
	return c.source
}

// ExpandedDBPath returns the sqlite path with ~ expanded.
func (c *Config) ExpandedDBPath() string {
	if c.Database.Path == "" {
		return expandPath(DefaultDBPath)
	}
	return expandPath(c.Database.Path)
}

// ExpandedLogPath returns the log directory with ~ expanded.
func (c *Config) ExpandedLogPath() string {
	if c.Logging.Path == "" {
		return expandPath(DefaultLogPath)
	}
	return expandPath(c.Logging.Path)
}

// ExpandedAuditPath returns the audit directory with ~ expanded.
func (c *Config) ExpandedAuditPath() string {
	if c.Audit.Path == "" {
		return expandPath(DefaultAuditPath)
	}
	return expandPath(c.Audit.Path)
}

// DispatchInterval returns the sweep interval, clamped to the minimum.
func (c *Config) DispatchInterval() time.Duration {
	switch {
	case c.Dispatch.Interval == 0:
		return DefaultDispatchInterval
	case c.Dispatch.Interval < MinDispatchInterval:
		return MinDispatchInterval
	}
	return c.Dispatch.Interval
}

// TenantLanguage returns the configured default language for a tenant.
func (c *Config) TenantLanguage(tenantID string) string {
	if lang, ok := c.Locale.Tenants[tenantID]; ok && lang != "" {
		return lang
	}
	if c.Locale.DefaultLanguage != "" {
		return c.Locale.DefaultLanguage
	}
	return DefaultLanguage
}

// SetDispatch persists dispatch toggles into the file at path, creating it
// when missing. Nil arguments leave the current value untouched.
func SetDispatch(path string, enabled *bool, interval *time.Duration) error {
	if interval != nil && *interval < MinDispatchInterval {
		return ErrIntervalTooShort
	}

	v := viper.New()
	v.SetConfigFile(path)
	if fileExists(path) {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if enabled != nil {
		v.Set("dispatch.enabled", *enabled)
	}
	if interval != nil {
		v.Set("dispatch.interval", interval.String())
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
