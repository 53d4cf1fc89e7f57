// Package config loads the engine's YAML configuration with environment
// variable overrides.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SES       SESConfig       `yaml:"ses"`
	SMS       SMSConfig       `yaml:"sms"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Winback   WinbackConfig   `yaml:"winback"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the lease backend settings. Disabled deployments fall
// back to in-process leases.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials for the email channel.
type SESConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// SMSConfig holds the SMS gateway settings.
type SMSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	FromNumber string `yaml:"from_number"`
}

// SchedulerConfig tunes the step polling loop.
type SchedulerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	RetryBackoffMinutes int `yaml:"retry_backoff_minutes"`
	MaxStepAttempts     int `yaml:"max_step_attempts"`
	LeaseTTLSeconds     int `yaml:"lease_ttl_seconds"`
}

// WinbackConfig tunes the inactivity scan.
type WinbackConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

// Load reads a YAML config file and applies defaults. A missing file yields
// pure defaults so the engine can boot from env vars alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Scheduler.PollIntervalSeconds == 0 {
		cfg.Scheduler.PollIntervalSeconds = 60
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Scheduler.RetryBackoffMinutes == 0 {
		cfg.Scheduler.RetryBackoffMinutes = 5
	}
	if cfg.Scheduler.MaxStepAttempts == 0 {
		cfg.Scheduler.MaxStepAttempts = 3
	}
	if cfg.Scheduler.LeaseTTLSeconds == 0 {
		cfg.Scheduler.LeaseTTLSeconds = 120
	}
	if cfg.Winback.IntervalMinutes == 0 {
		cfg.Winback.IntervalMinutes = 60
	}
}

// LoadFromEnv loads configuration with environment variable overrides. A
// .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
		cfg.SES.Enabled = true
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("SES_FROM_NAME"); v != "" {
		cfg.SES.FromName = v
	}
	if v := os.Getenv("SMS_GATEWAY_URL"); v != "" {
		cfg.SMS.Endpoint = v
		cfg.SMS.Enabled = true
	}
	if v := os.Getenv("SMS_API_KEY"); v != "" {
		cfg.SMS.APIKey = v
	}
	if v := os.Getenv("SMS_FROM_NUMBER"); v != "" {
		cfg.SMS.FromNumber = v
	}

	return cfg, nil
}
