package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reelforge/reelforge/pkg/models"
)

// Config holds all configuration for the ReelForge server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Rotation models.RotationPolicy
	Merge    MergeConfig
	Storage  StorageConfig
	Events   EventsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ProviderConfig selects and configures the video-generation backend.
type ProviderConfig struct {
	Name          string
	BaseURL       string
	Timeout       time.Duration
	PollInterval  time.Duration
	MaxPolls      int
	MaxQuickPolls int
}

// MergeConfig configures the ffmpeg concatenation step.
type MergeConfig struct {
	FFmpegBin       string
	WorkDir         string
	DownloadTimeout time.Duration
}

// StorageConfig is the MinIO target for merged artifacts.
type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

// EventsConfig is the optional AMQP terminal-event publisher.
type EventsConfig struct {
	Enabled  bool
	URL      string
	Exchange string
}

var validProviders = map[string]bool{
	"veo":  true,
	"mock": true,
}

// Load reads configuration from environment variables and returns a
// validated Config. Returns an error with a descriptive message if any
// required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("REELFORGE_PORT", 8080),
			Env:  envString("REELFORGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Provider: ProviderConfig{
			Name:          envString("VIDEO_PROVIDER", "veo"),
			BaseURL:       os.Getenv("VIDEO_PROVIDER_BASE_URL"),
			Timeout:       envDuration("VIDEO_PROVIDER_TIMEOUT", 30*time.Second),
			PollInterval:  envDuration("VIDEO_POLL_INTERVAL", 2*time.Second),
			MaxPolls:      envInt("VIDEO_MAX_POLLS", 300),
			MaxQuickPolls: envInt("VIDEO_MAX_QUICK_POLLS", 120),
		},
		Rotation: models.RotationPolicy{
			Enabled:                  envBool("ROTATION_ENABLED", true),
			IntervalMinutes:          envInt("ROTATION_INTERVAL_MINUTES", 10),
			MaxRequestsPerCredential: envInt("ROTATION_MAX_REQUESTS_PER_TOKEN", 30),
			UnitsPerBatch:            envInt("ROTATION_UNITS_PER_BATCH", 5),
			BatchDelaySeconds:        envInt("ROTATION_BATCH_DELAY_SECONDS", 20),
		},
		Merge: MergeConfig{
			FFmpegBin:       envString("FFMPEG_BIN", "ffmpeg"),
			WorkDir:         envString("MERGE_WORK_DIR", os.TempDir()),
			DownloadTimeout: envDuration("MERGE_DOWNLOAD_TIMEOUT", 2*time.Minute),
		},
		Storage: StorageConfig{
			Endpoint:  os.Getenv("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			Bucket:    envString("MINIO_BUCKET", "reelforge-videos"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
			PublicURL: os.Getenv("MINIO_PUBLIC_URL"),
		},
		Events: EventsConfig{
			Enabled:  envBool("EVENTS_ENABLED", false),
			URL:      os.Getenv("AMQP_URL"),
			Exchange: envString("AMQP_EXCHANGE", "reelforge.events"),
		},
	}

	cfg.Rotation.Clamp()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.Provider.Name] {
		return fmt.Errorf("VIDEO_PROVIDER must be one of veo, mock; got %q", c.Provider.Name)
	}
	if c.Provider.Name == "veo" {
		if c.Provider.BaseURL == "" {
			return fmt.Errorf("VIDEO_PROVIDER_BASE_URL is required when VIDEO_PROVIDER is veo")
		}
		if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
			return fmt.Errorf("VIDEO_PROVIDER_BASE_URL must start with http:// or https://, got %q", c.Provider.BaseURL)
		}
	}

	if c.Provider.MaxPolls <= 0 || c.Provider.MaxQuickPolls <= 0 {
		return fmt.Errorf("poll budgets must be positive")
	}

	if c.Storage.Endpoint != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return fmt.Errorf("AMQP_URL is required when EVENTS_ENABLED is true")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
