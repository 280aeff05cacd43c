package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Redis      RedisConfig      `yaml:"redis"`
	Database   DatabaseConfig   `yaml:"database"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// StorageConfig points at the directory holding users.json and one folder per account.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type APIConfig struct {
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
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIAuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// GatewayConfig configures the 115 web API client.
type GatewayConfig struct {
	BaseURL         string        `yaml:"base_url"`
	UserAgent       string        `yaml:"user_agent"`
	Referer         string        `yaml:"referer"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ListTimeout     time.Duration `yaml:"list_timeout"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`
	RPS             float64       `yaml:"rps"`
	Burst           int           `yaml:"burst"`
	PageSize        int           `yaml:"page_size"`
}

type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
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

const placeholderSecret = "CHANGE_ME"

func Load(configPath string) (*Config, error) {
	// .env is optional; values already in the environment win.
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

func (c *Config) Validate() error {
	secret := strings.TrimSpace(c.API.Auth.JWTSecret)
	if secret == "" || secret == placeholderSecret {
		return errors.New("api.auth.jwt_secret is required")
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required")
	}

	if c.Gateway.ListTimeout <= 0 || c.Gateway.TransferTimeout <= 0 {
		return errors.New("gateway timeouts must be positive")
	}

	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		return errors.New("backup.storage_path is required when backup is enabled")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "sharemirror"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 3000
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 3001
	}
	if c.API.Auth.TokenTTL == 0 {
		c.API.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://webapi.115.com"
	}
	if c.Gateway.RequestTimeout == 0 {
		c.Gateway.RequestTimeout = 30 * time.Second
	}
	if c.Gateway.ListTimeout == 0 {
		c.Gateway.ListTimeout = 10 * time.Second
	}
	if c.Gateway.TransferTimeout == 0 {
		c.Gateway.TransferTimeout = 30 * time.Second
	}
	if c.Gateway.RPS == 0 {
		c.Gateway.RPS = 2
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = 4
	}
	if c.Gateway.PageSize == 0 {
		c.Gateway.PageSize = 100
	}

	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = 10 * time.Minute
	}
	if c.Database.Path == "" {
		c.Database.Path = c.Storage.DataDir + "/history.db"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 14
	}
}
