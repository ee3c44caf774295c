package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	Env      string
	LogLevel string

	DBDriver string // "postgres" or "sqlite"
	DBDSN    string

	// Empty RedisAddr keeps fan-out inside this process.
	RedisAddr    string
	RedisChannel string

	// How long fan-out holds an event that overtook an earlier one.
	ReorderWindow time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	MediaBaseURL   string
	ShowTombstones bool
	CORSOrigins    []string
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")

// Load reads configuration from the environment, an optional .env file and an
// optional config.yaml in the working directory or ./config.
func Load() (*Config, error) {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return parse(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_CHANNEL", "chat-events")
	v.SetDefault("REORDER_WINDOW", "250ms")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", "24h")
	v.SetDefault("MEDIA_BASE_URL", "")
	v.SetDefault("SHOW_TOMBSTONES", true)
	v.SetDefault("CORS_ORIGINS", "*")
}

func parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:            v.GetString("ENV"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		DBDriver:       strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:          v.GetString("DB_DSN"),
		RedisAddr:      v.GetString("REDIS_ADDR"),
		RedisChannel:   v.GetString("REDIS_CHANNEL"),
		ReorderWindow:  v.GetDuration("REORDER_WINDOW"),
		JWTSecret:      v.GetString("JWT_SECRET"),
		JWTTTL:         v.GetDuration("JWT_TTL"),
		MediaBaseURL:   v.GetString("MEDIA_BASE_URL"),
		ShowTombstones: v.GetBool("SHOW_TOMBSTONES"),
	}

	for _, origin := range strings.Split(v.GetString("CORS_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	if cfg.JWTSecret == "" {
		return nil, ErrMissingJWTSecret
	}
	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, errors.New("DB_DRIVER must be postgres or sqlite")
	}
	if cfg.DBDSN == "" {
		if cfg.DBDriver == "postgres" {
			return nil, errors.New("DB_DSN is not set")
		}
		cfg.DBDSN = "./data/chat.db"
	}
	if cfg.ReorderWindow < 0 {
		return nil, errors.New("REORDER_WINDOW must not be negative")
	}
	if cfg.JWTTTL <= 0 {
		cfg.JWTTTL = 24 * time.Hour
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode. It selects the
// console log format.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
