package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dayroll/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tasks      TasksConfig      `yaml:"tasks"`
	Sync       SyncConfig       `yaml:"sync"`
	Identity   IdentityConfig   `yaml:"identity"`
	Google     GoogleConfig     `yaml:"google"`
	API        APIConfig        `yaml:"api"`
	Notify     NotifyConfig     `yaml:"notify"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects where the local task collection is persisted.
type StorageConfig struct {
	Backend        string `yaml:"backend"` // sqlite | redis
	FallbackMemory bool   `yaml:"fallback_memory"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type TasksConfig struct {
	RolloverCeiling int    `yaml:"rollover_ceiling"`
	Timezone        string `yaml:"timezone"`
}

type SyncConfig struct {
	Provider       string               `yaml:"provider"` // none | memory | redis | sheets
	ConflictPolicy models.ConflictPolicy `yaml:"conflict_policy"`
	Interval       time.Duration        `yaml:"interval"`
	DailyAt        string               `yaml:"daily_at"`
	CallTimeout    time.Duration        `yaml:"call_timeout"`
	PushOnWrite    bool                 `yaml:"push_on_write"`
	Retry          RetryConfig          `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

type IdentityConfig struct {
	Mode   string `yaml:"mode"` // none | static | google
	UserID string `yaml:"user_id"`
	Email  string `yaml:"email"`
}

type GoogleConfig struct {
	CredentialsFile   string  `yaml:"credentials_file"`
	SpreadsheetID     string  `yaml:"spreadsheet_id"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	DigestAt string `yaml:"digest_at"`
	// Commands lets the owner chat drive the task list with bot commands.
	Commands bool `yaml:"commands"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// Load reads an optional .env file, expands environment references in the
// YAML file and returns the validated configuration.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a configuration usable without a file: local SQLite,
// no remote provider, no identity.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) Validate() error {
	if c.Storage.Backend == "sqlite" && c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Storage.Backend == "redis" && c.Redis.Address == "" {
		return errors.New("redis address is required for storage.backend=redis")
	}
	switch c.Storage.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Tasks.RolloverCeiling < 1 {
		return fmt.Errorf("tasks.rollover_ceiling must be >= 1, got %d", c.Tasks.RolloverCeiling)
	}
	if _, err := time.LoadLocation(c.Tasks.Timezone); err != nil {
		return fmt.Errorf("invalid tasks.timezone %q: %w", c.Tasks.Timezone, err)
	}

	if !c.Sync.ConflictPolicy.Valid() {
		return fmt.Errorf("invalid sync.conflict_policy %q", c.Sync.ConflictPolicy)
	}
	if _, _, err := ParseClock(c.Sync.DailyAt); err != nil {
		return fmt.Errorf("invalid sync.daily_at: %w", err)
	}

	switch c.Sync.Provider {
	case "none", "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for sync.provider=redis")
		}
	case "sheets":
		if c.Google.CredentialsFile == "" || c.Google.SpreadsheetID == "" {
			return errors.New("google credentials_file and spreadsheet_id are required for sync.provider=sheets")
		}
	default:
		return fmt.Errorf("unknown sync provider %q", c.Sync.Provider)
	}

	switch c.Identity.Mode {
	case "none":
	case "static":
		if c.Identity.UserID == "" {
			return errors.New("identity.user_id is required for identity.mode=static")
		}
	case "google":
		if c.Google.CredentialsFile == "" {
			return errors.New("google.credentials_file is required for identity.mode=google")
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.Identity.Mode)
	}

	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0 {
			return errors.New("notify.telegram requires bot_token and chat_id")
		}
		if _, _, err := ParseClock(c.Notify.Telegram.DigestAt); err != nil {
			return fmt.Errorf("invalid notify.telegram.digest_at: %w", err)
		}
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// Location returns the timezone logical days are computed in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tasks.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock out of range: %q", s)
	}
	return hour, minute, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "dayroll"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/dayroll.db"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "dayroll"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}

	if c.Tasks.RolloverCeiling == 0 {
		c.Tasks.RolloverCeiling = models.DefaultRolloverCeiling
	}
	if c.Tasks.Timezone == "" {
		c.Tasks.Timezone = "Local"
	}

	if c.Sync.Provider == "" {
		c.Sync.Provider = "none"
	}
	if c.Sync.ConflictPolicy == "" {
		c.Sync.ConflictPolicy = models.LocalWins
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.DailyAt == "" {
		c.Sync.DailyAt = "23:30"
	}
	if c.Sync.CallTimeout == 0 {
		c.Sync.CallTimeout = 15 * time.Second
	}
	if c.Sync.Retry.MaxRetries == 0 {
		c.Sync.Retry.MaxRetries = 3
	}
	if c.Sync.Retry.InitialDelay == 0 {
		c.Sync.Retry.InitialDelay = 500 * time.Millisecond
	}
	if c.Sync.Retry.MaxDelay == 0 {
		c.Sync.Retry.MaxDelay = 10 * time.Second
	}
	if c.Sync.Retry.BackoffFactor == 0 {
		c.Sync.Retry.BackoffFactor = 2
	}

	if c.Identity.Mode == "" {
		c.Identity.Mode = "none"
	}
	if c.Google.RequestsPerSecond == 0 {
		c.Google.RequestsPerSecond = 1
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Notify.Telegram.DigestAt == "" {
		c.Notify.Telegram.DigestAt = "09:00"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "data/exports"
	}
}
