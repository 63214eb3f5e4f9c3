// Package config собирает настройки сервиса из окружения и .env файлов.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"port"`
	AppEnv         string   `mapstructure:"app_env"`
	LogLevel       string   `mapstructure:"log_level"`
	DatabaseURL    string   `mapstructure:"database_url"`
	RedisURL       string   `mapstructure:"redis_url"`
	RedisKeyPrefix string   `mapstructure:"redis_key_prefix"`
	AllowedOrigins []string `mapstructure:"ws_allowed_origins"`

	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTL    time.Duration `mapstructure:"jwt_ttl"`

	LockTTL            time.Duration `mapstructure:"lock_ttl"`
	LockWait           time.Duration `mapstructure:"lock_wait"`
	TxTimeout          time.Duration `mapstructure:"tx_timeout"`
	SnapshotTTL        time.Duration `mapstructure:"snapshot_ttl"`
	CodeReservationTTL time.Duration `mapstructure:"code_reservation_ttl"`
	LocationTTL        time.Duration `mapstructure:"location_ttl"`
	LocationRateLimit  int           `mapstructure:"location_rate_limit"`
	ChatTTL            time.Duration `mapstructure:"chat_ttl"`
	ChatMaxMessages    int           `mapstructure:"chat_max_messages"`
	MaxRoomHours       int           `mapstructure:"max_room_hours"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("database_url", "")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("redis_key_prefix", "")
	v.SetDefault("ws_allowed_origins", []string{})
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_ttl", "24h")
	v.SetDefault("lock_ttl", "15s")
	v.SetDefault("lock_wait", "2s")
	v.SetDefault("tx_timeout", "10s")
	v.SetDefault("snapshot_ttl", "1h")
	v.SetDefault("code_reservation_ttl", "5m")
	v.SetDefault("location_ttl", "5m")
	v.SetDefault("location_rate_limit", 5)
	v.SetDefault("chat_ttl", "24h")
	v.SetDefault("chat_max_messages", 500)
	v.SetDefault("max_room_hours", 24)
	v.SetDefault("cleanup_interval", "1m")
	v.SetDefault("shutdown_timeout", "10s")
}

// Load читает .env.local и .env (если есть), затем окружение. Переменные окружения важнее файлов.
func Load() (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.TxTimeout <= 0 {
		errs = append(errs, errors.New("TX_TIMEOUT must be positive"))
	}
	// блокировка не должна истечь, пока транзакция под ней ещё может идти
	if c.LockTTL <= c.TxTimeout {
		errs = append(errs, fmt.Errorf("LOCK_TTL (%s) must exceed TX_TIMEOUT (%s)", c.LockTTL, c.TxTimeout))
	}
	if c.LockWait <= 0 {
		errs = append(errs, errors.New("LOCK_WAIT must be positive"))
	}
	if c.MaxRoomHours < 1 {
		errs = append(errs, errors.New("MAX_ROOM_HOURS must be at least 1"))
	}
	if c.CleanupInterval < time.Second {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be at least 1s"))
	}
	if c.LocationRateLimit < 0 {
		errs = append(errs, errors.New("LOCATION_RATE_LIMIT must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// NewLogger JSON в production, текст с полными метками времени в остальных окружениях
func NewLogger(c *Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if c.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		log.WithField("log_level", c.LogLevel).Warn("unknown log level, falling back to info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
