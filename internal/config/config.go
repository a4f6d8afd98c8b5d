package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Remote reasoner
	ReasonerURL     string
	ReasonerUser    string
	ReasonerPass    string
	ReasonerTimeout time.Duration

	// Status polling
	PollInterval time.Duration
	CoolOff      time.Duration
	AbortAfter   time.Duration

	// Saving
	SaveWorkers int

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Metrics endpoint for the serve command
	MetricsAddr string
}

// fileConfig is the optional YAML overlay. Empty values leave the default in place.
type fileConfig struct {
	SurrealDB struct {
		URL       string `yaml:"url"`
		Namespace string `yaml:"namespace"`
		Database  string `yaml:"database"`
		User      string `yaml:"user"`
		Pass      string `yaml:"pass"`
		AuthLevel string `yaml:"auth_level"`
	} `yaml:"surrealdb"`
	Reasoner struct {
		URL     string `yaml:"url"`
		User    string `yaml:"user"`
		Pass    string `yaml:"pass"`
		Timeout string `yaml:"timeout"`
	} `yaml:"reasoner"`
	Poll struct {
		Interval   string `yaml:"interval"`
		CoolOff    string `yaml:"cool_off"`
		AbortAfter string `yaml:"abort_after"`
	} `yaml:"poll"`
	SaveWorkers int    `yaml:"save_workers"`
	LogFile     string `yaml:"log_file"`
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads configuration from the YAML file named by SNOWCLASS_CONFIG,
// if set, and then from environment variables. Environment variables win.
func Load() (Config, error) {
	var fc fileConfig
	if path := os.Getenv("SNOWCLASS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	return fromSources(fc)
}

func fromSources(fc fileConfig) (Config, error) {
	cfg := Config{
		// SurrealDB
		SurrealDBURL:       getEnv("SURREALDB_URL", or(fc.SurrealDB.URL, "ws://localhost:8000/rpc")),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", or(fc.SurrealDB.Namespace, "snowclass")),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", or(fc.SurrealDB.Database, "terminology")),
		SurrealDBUser:      getEnv("SURREALDB_USER", or(fc.SurrealDB.User, "root")),
		SurrealDBPass:      getEnv("SURREALDB_PASS", or(fc.SurrealDB.Pass, "root")),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", or(fc.SurrealDB.AuthLevel, "root")),

		// Reasoner
		ReasonerURL:  getEnv("SNOWCLASS_REASONER_URL", or(fc.Reasoner.URL, "http://localhost:8089/classification-service")),
		ReasonerUser: getEnv("SNOWCLASS_REASONER_USER", fc.Reasoner.User),
		ReasonerPass: getEnv("SNOWCLASS_REASONER_PASS", fc.Reasoner.Pass),

		// Logging
		LogFile:  getEnv("SNOWCLASS_LOG_FILE", or(fc.LogFile, "/tmp/snowclass.log")),
		LogLevel: parseLogLevel(getEnv("SNOWCLASS_LOG_LEVEL", or(fc.LogLevel, "INFO"))),

		MetricsAddr: getEnv("SNOWCLASS_METRICS_ADDR", or(fc.MetricsAddr, ":9464")),
	}

	var err error
	durations := []struct {
		dst *time.Duration
		key string
		def string
	}{
		{&cfg.ReasonerTimeout, "SNOWCLASS_REASONER_TIMEOUT", or(fc.Reasoner.Timeout, "2m")},
		{&cfg.PollInterval, "SNOWCLASS_POLL_INTERVAL", or(fc.Poll.Interval, "1s")},
		{&cfg.CoolOff, "SNOWCLASS_COOL_OFF", or(fc.Poll.CoolOff, "30s")},
		{&cfg.AbortAfter, "SNOWCLASS_ABORT_AFTER", or(fc.Poll.AbortAfter, "120m")},
	}
	for _, d := range durations {
		raw := getEnv(d.key, d.def)
		if *d.dst, err = time.ParseDuration(raw); err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %q", d.key, raw)
		}
		if *d.dst <= 0 {
			return Config{}, fmt.Errorf("%s must be positive", d.key)
		}
	}

	workers := "2"
	if fc.SaveWorkers > 0 {
		workers = strconv.Itoa(fc.SaveWorkers)
	}
	raw := getEnv("SNOWCLASS_SAVE_WORKERS", workers)
	if cfg.SaveWorkers, err = strconv.Atoi(raw); err != nil || cfg.SaveWorkers <= 0 {
		return Config{}, fmt.Errorf("invalid SNOWCLASS_SAVE_WORKERS: %q", raw)
	}

	return cfg, nil
}

func or(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
