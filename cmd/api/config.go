package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	port                 int
	databaseURL          string
	migrationsPath       string
	requestTimeout       time.Duration
	corsOrigins          []string
	rateLimitRPS         float64
	rateLimitBurst       int
	notificationsEnabled bool
	notificationsBaseURL string
	notificationsTimeout time.Duration
	logLevel             slog.Level
	logJSON              bool
}

/* Loads the given env files, if present, without overriding variables already set. */
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

/* Reads the configuration through getenv, applying defaults for unset keys. */
func loadConfig(getenv func(string) string) (config, error) {
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	var (
		cfg config
		err error
	)

	if cfg.port, err = strconv.Atoi(env("PORT", "8080")); err != nil || cfg.port <= 0 || cfg.port > 65535 {
		return config{}, fmt.Errorf("getting PORT from env: invalid port %q", getenv("PORT"))
	}

	cfg.databaseURL = env("DATABASE_URL", "")
	cfg.migrationsPath = env("DATABASE_MIGRATIONS_PATH", "migrations")

	//These ENVs must be written with a unit suffix, like seconds
	if cfg.requestTimeout, err = time.ParseDuration(env("HTTP_REQUEST_TIMEOUT", "5s")); err != nil {
		return config{}, fmt.Errorf("getting request timeout from env: %w", err)
	}
	if cfg.notificationsTimeout, err = time.ParseDuration(env("NOTIFICATIONS_TIMEOUT", "1s")); err != nil {
		return config{}, fmt.Errorf("getting notifications timeout from env: %w", err)
	}

	for _, origin := range strings.Split(env("CORS_ALLOWED_ORIGINS", ""), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.corsOrigins = append(cfg.corsOrigins, origin)
		}
	}

	if cfg.rateLimitRPS, err = strconv.ParseFloat(env("RATE_LIMIT_RPS", "0"), 64); err != nil || cfg.rateLimitRPS < 0 {
		return config{}, fmt.Errorf("getting RATE_LIMIT_RPS from env: invalid value %q", getenv("RATE_LIMIT_RPS"))
	}
	if cfg.rateLimitBurst, err = strconv.Atoi(env("RATE_LIMIT_BURST", "4")); err != nil || cfg.rateLimitBurst < 1 {
		return config{}, fmt.Errorf("getting RATE_LIMIT_BURST from env: invalid value %q", getenv("RATE_LIMIT_BURST"))
	}

	if cfg.notificationsEnabled, err = strconv.ParseBool(env("NOTIFICATIONS_ENABLED", "false")); err != nil {
		return config{}, fmt.Errorf("getting NOTIFICATIONS_ENABLED from env: %w", err)
	}
	cfg.notificationsBaseURL = env("NOTIFICATIONS_BASE_URL", "")
	if cfg.notificationsEnabled && cfg.notificationsBaseURL == "" {
		return config{}, errors.New("NOTIFICATIONS_BASE_URL is required when notifications are enabled")
	}

	if err := cfg.logLevel.UnmarshalText([]byte(env("LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("getting LOG_LEVEL from env: %w", err)
	}
	switch format := env("LOG_FORMAT", "text"); format {
	case "text":
	case "json":
		cfg.logJSON = true
	default:
		return config{}, fmt.Errorf("getting LOG_FORMAT from env: unknown format %q", format)
	}

	return cfg, nil
}

func newLogger(cfg config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.logLevel}
	if cfg.logJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
