package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. PROJECTOR_ADDR
const EnvPrefix = "PROJECTOR"

// Store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds the signal server settings
type Config struct {
	Addr       string
	ControlKey string

	Store         string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	PostgresDSN   string // optional; songs move to PostgreSQL when set

	AssistURL     string
	AssistKey     string
	AssistTimeout time.Duration

	LogLevel  string
	LogFormat string

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. envFile, when it exists,
// is loaded first; variables already set in the environment win.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("config.godotenv(%s): %w", envFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config.os.Stat(%s): %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("addr", ":8080")
	v.SetDefault("control_key", "")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_prefix", "projector")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("assist_url", "")
	v.SetDefault("assist_key", "")
	v.SetDefault("assist_timeout", 30*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	cfg := &Config{
		Addr:            v.GetString("addr"),
		ControlKey:      v.GetString("control_key"),
		Store:           v.GetString("store"),
		RedisAddr:       v.GetString("redis_addr"),
		RedisPassword:   v.GetString("redis_password"),
		RedisDB:         v.GetInt("redis_db"),
		RedisPrefix:     v.GetString("redis_prefix"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		AssistURL:       v.GetString("assist_url"),
		AssistKey:       v.GetString("assist_key"),
		AssistTimeout:   v.GetDuration("assist_timeout"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: %s_REDIS_ADDR is required for the redis store", EnvPrefix)
		}
	default:
		return fmt.Errorf("config: unknown store %q (want %s or %s)", c.Store, StoreMemory, StoreRedis)
	}
	if c.Addr == "" {
		return fmt.Errorf("config: %s_ADDR is required", EnvPrefix)
	}
	if c.AssistTimeout <= 0 {
		return fmt.Errorf("config: %s_ASSIST_TIMEOUT must be positive", EnvPrefix)
	}
	return nil
}
