package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Execution modes for proposals created from free text.
const (
	ModeSuggest = "suggest"
	ModeOperate = "operate"
)

// Settings is the process configuration. It is read once at startup and
// passed down explicitly.
type Settings struct {
	Env    string `yaml:"env"`
	DBPath string `yaml:"db_path"`

	AllowedScanRoots string `yaml:"allowed_scan_roots"`

	AutoScanEnabled     bool   `yaml:"auto_scan_enabled"`
	AutoScanIntervalMin int    `yaml:"auto_scan_interval_min"`
	AutoScanPaths       string `yaml:"auto_scan_paths"`

	AutoEmailSyncEnabled     bool `yaml:"auto_email_sync_enabled"`
	AutoEmailSyncIntervalMin int  `yaml:"auto_email_sync_interval_min"`
	AutoEmailSyncLimit       int  `yaml:"auto_email_sync_limit"`

	AutoNewsEnabled    bool `yaml:"auto_news_enabled"`
	AutoNewsRefreshMin int  `yaml:"auto_news_refresh_min"`

	RuntimePoll time.Duration `yaml:"runtime_poll"`

	NotifyProvider string `yaml:"notify_provider"`
	NtfyURL        string `yaml:"ntfy_url"`
	NtfyTopic      string `yaml:"ntfy_topic"`

	ExecutionMode string `yaml:"brain_execution_mode"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	OTelEnabled bool   `yaml:"otel_enabled"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Env:                      "dev",
		DBPath:                   "./.opsbrain/opsbrain.db",
		AllowedScanRoots:         "~/Desktop,~/Documents,/Volumes,/",
		AutoScanEnabled:          false,
		AutoScanIntervalMin:      60,
		AutoScanPaths:            "~/Desktop",
		AutoEmailSyncEnabled:     false,
		AutoEmailSyncIntervalMin: 30,
		AutoEmailSyncLimit:       10,
		AutoNewsEnabled:          true,
		AutoNewsRefreshMin:       30,
		RuntimePoll:              5 * time.Second,
		NotifyProvider:           "off",
		NtfyURL:                  "https://ntfy.sh",
		ExecutionMode:            ModeSuggest,
		LogLevel:                 "info",
		LogFormat:                "console",
	}
}

// Load reads envFiles (missing files are ignored) and then the process
// environment on top of Defaults.
func Load(envFiles ...string) (Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("failed to load env file %q: %w", f, err)
		}
	}
	s := FromEnv(Defaults())
	return s, s.Validate()
}

// FromEnv overlays environment variables on base.
func FromEnv(base Settings) Settings {
	s := base
	s.Env = Getenv("ENV", s.Env)
	s.DBPath = Getenv("DB_PATH", s.DBPath)
	s.AllowedScanRoots = Getenv("ALLOWED_SCAN_ROOTS", s.AllowedScanRoots)

	s.AutoScanEnabled = ParseBoolEnv("AUTO_SCAN_ENABLED", s.AutoScanEnabled)
	s.AutoScanIntervalMin = ParseIntEnv("AUTO_SCAN_INTERVAL_MIN", s.AutoScanIntervalMin)
	s.AutoScanPaths = Getenv("AUTO_SCAN_PATHS", s.AutoScanPaths)

	s.AutoEmailSyncEnabled = ParseBoolEnv("AUTO_EMAIL_SYNC_ENABLED", s.AutoEmailSyncEnabled)
	s.AutoEmailSyncIntervalMin = ParseIntEnv("AUTO_EMAIL_SYNC_INTERVAL_MIN", s.AutoEmailSyncIntervalMin)
	s.AutoEmailSyncLimit = ParseIntEnv("AUTO_EMAIL_SYNC_LIMIT", s.AutoEmailSyncLimit)

	s.AutoNewsEnabled = ParseBoolEnv("AUTO_NEWS_ENABLED", s.AutoNewsEnabled)
	s.AutoNewsRefreshMin = ParseIntEnv("AUTO_NEWS_REFRESH_MIN", s.AutoNewsRefreshMin)

	if secs := ParseIntEnv("RUNTIME_POLL_SECONDS", 0); secs > 0 {
		s.RuntimePoll = time.Duration(secs) * time.Second
	}

	s.NotifyProvider = strings.ToLower(Getenv("NOTIFY_PROVIDER", s.NotifyProvider))
	s.NtfyURL = Getenv("NTFY_URL", s.NtfyURL)
	s.NtfyTopic = Getenv("NTFY_TOPIC", s.NtfyTopic)

	s.ExecutionMode = strings.ToLower(Getenv("BRAIN_EXECUTION_MODE", s.ExecutionMode))

	s.RedisAddr = Getenv("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = Getenv("REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = ParseIntEnv("REDIS_DB", s.RedisDB)

	s.LogLevel = Getenv("LOG_LEVEL", s.LogLevel)
	s.LogFormat = Getenv("LOG_FORMAT", s.LogFormat)
	s.OTelEnabled = ParseBoolEnv("OTEL_ENABLED", s.OTelEnabled)
	return s
}

// Validate rejects settings the runtime cannot work with.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	switch s.ExecutionMode {
	case ModeSuggest, ModeOperate:
	default:
		return fmt.Errorf("unsupported execution mode %q (use %s or %s)", s.ExecutionMode, ModeSuggest, ModeOperate)
	}
	if s.AutoEmailSyncLimit < 1 || s.AutoEmailSyncLimit > 50 {
		return fmt.Errorf("auto email sync limit must be between 1 and 50, got %d", s.AutoEmailSyncLimit)
	}
	return nil
}

// ScanPaths returns the configured automatic scan paths.
func (s Settings) ScanPaths() []string {
	return SplitCSV(s.AutoScanPaths)
}
