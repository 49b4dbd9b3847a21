package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/datastore/internal/db"
	"github.com/rpattn/datastore/internal/entityloader"
)

// Config is the complete runtime configuration.
type Config struct {
	Database db.Config
	Log      LogConfig
	Export   ExportConfig
	Loader   LoaderConfig
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string
}

// ExportConfig controls where export files are written.
type ExportConfig struct {
	Directory string
}

// LoaderConfig controls batching of referenced entity lookups.
type LoaderConfig struct {
	Wait time.Duration
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Log:      LogConfig{Level: "info"},
		Export:   ExportConfig{Directory: "."},
		Loader:   LoaderConfig{Wait: entityloader.DefaultWait},
	}
}

// Environment variables that override configuration keys. Database keys use
// the DB_ prefix, everything else DATASTORE_.
var envBindings = map[string]string{
	"database.host":      "DB_HOST",
	"database.port":      "DB_PORT",
	"database.user":      "DB_USER",
	"database.password":  "DB_PASSWORD",
	"database.dbname":    "DB_NAME",
	"database.sslmode":   "DB_SSLMODE",
	"database.max_conns": "DB_MAX_CONNS",
	"log.level":          "DATASTORE_LOG_LEVEL",
	"export.directory":   "DATASTORE_EXPORT_DIRECTORY",
	"loader.wait":        "DATASTORE_LOADER_WAIT",
}

// Load reads config.yaml from configPath, when present, and applies
// environment overrides on top of the defaults.
func Load(configPath string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		logger.Debug("no config.yaml found, using defaults and env vars", slog.String("path", configPath))
	} else {
		logger.Debug("loaded config", slog.String("file", v.ConfigFileUsed()))
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("export.directory") {
		cfg.Export.Directory = v.GetString("export.directory")
	}
	if v.IsSet("loader.wait") {
		cfg.Loader.Wait = v.GetDuration("loader.wait")
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return Config{}, err
	}
	if cfg.Database.Port <= 0 {
		return Config{}, fmt.Errorf("invalid database.port %d", cfg.Database.Port)
	}
	return cfg, nil
}

// LoadDBConfig loads only the database section.
func LoadDBConfig(configPath string) (db.Config, error) {
	cfg, err := Load(configPath, nil)
	if err != nil {
		return db.Config{}, err
	}
	return cfg.Database, nil
}

// ParseLevel maps a log.level setting to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}
