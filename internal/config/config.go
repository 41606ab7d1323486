package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Poller     PollerConfig     `yaml:"poller"`
	Downloads  DownloadsConfig  `yaml:"downloads"`
	Storage    StorageConfig    `yaml:"storage"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ProviderConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DispatcherConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxPolls int           `yaml:"max_polls"`
}

type DownloadsConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	ExpirationWindow time.Duration `yaml:"expiration_window"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	ExpiringSoon     time.Duration `yaml:"expiring_soon"`
}

type StorageConfig struct {
	Backend  string      `yaml:"backend"`
	BasePath string      `yaml:"base_path"`
	Minio    MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type TrackingConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Secret      string        `yaml:"secret"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Provider: ProviderConfig{
			BaseURL:        "https://api.reelgen.dev",
			Model:          "reelgen-turbo-2",
			RequestTimeout: 60 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrent: 4,
		},
		Poller: PollerConfig{
			Interval: 30 * time.Second,
			MaxPolls: 120,
		},
		Downloads: DownloadsConfig{
			MaxRetries:       3,
			BackoffBase:      1 * time.Second,
			ExpirationWindow: 1 * time.Hour,
			SweepInterval:    5 * time.Minute,
			ExpiringSoon:     10 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:  "fs",
			BasePath: "./data/assets",
		},
		Tracking: TrackingConfig{
			WorkerCount: 3,
			QueueSize:   100,
			Timeout:     10 * time.Second,
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/clipforge.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CLIPFORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("CLIPFORGE_PROVIDER_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}

	if v := os.Getenv("CLIPFORGE_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}

	if v := os.Getenv("CLIPFORGE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CLIPFORGE_ASSET_PATH"); v != "" {
		cfg.Storage.BasePath = v
	}

	if v := os.Getenv("CLIPFORGE_TRACKING_URL"); v != "" {
		cfg.Tracking.Endpoint = v
	}

	if v := os.Getenv("CLIPFORGE_TRACKING_SECRET"); v != "" {
		cfg.Tracking.Secret = v
	}

	if v := os.Getenv("CLIPFORGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base url is required")
	}

	if c.Provider.RequestTimeout < 0 {
		return fmt.Errorf("provider request timeout must be non-negative")
	}

	if c.Dispatcher.MaxConcurrent < 1 {
		return fmt.Errorf("dispatcher max concurrent must be at least 1")
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive")
	}

	if c.Poller.MaxPolls < 1 {
		return fmt.Errorf("poller max polls must be at least 1")
	}

	if c.Downloads.MaxRetries < 0 {
		return fmt.Errorf("download max retries must be non-negative")
	}

	if c.Downloads.BackoffBase <= 0 {
		return fmt.Errorf("download backoff base must be positive")
	}

	if c.Downloads.ExpirationWindow <= 0 {
		return fmt.Errorf("download expiration window must be positive")
	}

	if c.Downloads.SweepInterval <= 0 {
		return fmt.Errorf("download sweep interval must be positive")
	}

	if c.Storage.Backend != "fs" && c.Storage.Backend != "minio" {
		return fmt.Errorf("invalid storage backend: %s (valid: fs, minio)", c.Storage.Backend)
	}

	if c.Storage.Backend == "fs" && c.Storage.BasePath == "" {
		return fmt.Errorf("storage base path is required for fs backend")
	}

	if c.Storage.Backend == "minio" {
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required for minio backend")
		}
		if c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("minio bucket is required for minio backend")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}
