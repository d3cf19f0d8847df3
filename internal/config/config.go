// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/spf13/viper"
)

type HTTP struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type Logger struct {
	Level string `mapstructure:"level" validate:"required|in:debug,info,warn,error"`
}

type Synthesis struct {
	// BaseURL empty means no interpretation backend: readings degrade
	// to cards-only instead of failing.
	BaseURL string        `mapstructure:"baseUrl"`
	Timeout time.Duration `mapstructure:"timeout" validate:"required|min:1"`
}

type Database struct {
	RemoteDSN string `mapstructure:"remoteDsn"`
	LocalPath string `mapstructure:"localPath" validate:"required"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwtSecret" validate:"required"`
}

type Access struct {
	FreePerDay   int           `mapstructure:"freePerDay" validate:"required|min:1"`
	TierCacheTTL time.Duration `mapstructure:"tierCacheTtl"`
	CacheSizeMB  int           `mapstructure:"cacheSizeMb"`
}

type History struct {
	GuestCap    int           `mapstructure:"guestCap" validate:"required|min:1"`
	DedupWindow time.Duration `mapstructure:"dedupWindow"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

type Config struct {
	HTTP      HTTP      `mapstructure:"http"`
	Logger    Logger    `mapstructure:"logger"`
	Synthesis Synthesis `mapstructure:"synthesis"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Access    Access    `mapstructure:"access"`
	History   History   `mapstructure:"history"`
	Metrics   Metrics   `mapstructure:"metrics"`
}

// Load reads the YAML file at path, applies TAROT_* environment
// overrides and validates the result. A missing file is fine; defaults
// and the environment carry the configuration alone.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		filename := filepath.Base(path)
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
		v.SetConfigType("yaml")
	}

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("logger.level", "info")
	v.SetDefault("synthesis.timeout", 30*time.Second)
	v.SetDefault("database.localPath", "tarot_guest.db")
	v.SetDefault("access.freePerDay", 1)
	v.SetDefault("access.tierCacheTtl", 5*time.Minute)
	v.SetDefault("access.cacheSizeMb", 8)
	v.SetDefault("history.guestCap", 20)
	v.SetDefault("history.dedupWindow", 5*time.Second)
	v.SetDefault("metrics.enabled", true)

	v.BindEnv("http.addr", "TAROT_HTTP_ADDR")
	v.BindEnv("logger.level", "TAROT_LOG_LEVEL")
	v.BindEnv("synthesis.baseUrl", "TAROT_SYNTHESIS_URL")
	v.BindEnv("synthesis.timeout", "TAROT_SYNTHESIS_TIMEOUT")
	v.BindEnv("database.remoteDsn", "TAROT_DATABASE_DSN")
	v.BindEnv("database.localPath", "TAROT_GUEST_DB_PATH")
	v.BindEnv("auth.jwtSecret", "TAROT_JWT_SECRET")
	v.BindEnv("access.freePerDay", "TAROT_FREE_PER_DAY")
	v.BindEnv("metrics.enabled", "TAROT_METRICS_ENABLED")

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	res := validate.Struct(&conf)
	if !res.Validate() {
		return nil, fmt.Errorf("invalid config: %s", res.Errors.One())
	}

	return &conf, nil
}

// SlogLevel maps the configured level name onto slog.
func (l Logger) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
