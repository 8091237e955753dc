// Package config loads runtime configuration from defaults, an optional YAML
// file and STABLEID_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds all configuration values.
type Config struct {
	// Storage
	Backend   string `yaml:"backend" validate:"oneof=sqlite badger"`
	DBPath    string `yaml:"db" validate:"required_if=Backend sqlite"`
	BadgerDir string `yaml:"badger_dir" validate:"required_if=Backend badger"`

	// Reference resolution engine
	EngineState string   `yaml:"engine_state"`
	MatchKeys   []string `yaml:"match_keys" validate:"dive,required"`

	// Classification
	FetchConcurrency int `yaml:"fetch_concurrency" validate:"gte=1,lte=256"`

	// HTTP
	HTTPAddr string `yaml:"http_addr" validate:"required"`

	// Logging
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level" validate:"oneof=DEBUG INFO WARN WARNING ERROR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:          BackendSQLite,
		DBPath:           "stableid.db",
		BadgerDir:        "stableid.badger",
		EngineState:      "stableid-engine.json",
		FetchConcurrency: 8,
		HTTPAddr:         ":8080",
		LogLevel:         "INFO",
	}
}

// Load reads configuration from path (optional) and the environment, then
// validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.mergeEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays the YAML file at path. Keys absent from the file keep
// their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() {
	c.Backend = getEnv("STABLEID_BACKEND", c.Backend)
	c.DBPath = getEnv("STABLEID_DB", c.DBPath)
	c.BadgerDir = getEnv("STABLEID_BADGER_DIR", c.BadgerDir)
	c.EngineState = getEnv("STABLEID_ENGINE_STATE", c.EngineState)
	if keys := getEnv("STABLEID_MATCH_KEYS", ""); keys != "" {
		c.MatchKeys = splitList(keys)
	}
	if n, err := strconv.Atoi(getEnv("STABLEID_FETCH_CONCURRENCY", "")); err == nil {
		c.FetchConcurrency = n
	}
	c.HTTPAddr = getEnv("STABLEID_HTTP_ADDR", c.HTTPAddr)
	c.LogFile = getEnv("STABLEID_LOG_FILE", c.LogFile)
	c.LogLevel = strings.ToUpper(getEnv("STABLEID_LOG_LEVEL", c.LogLevel))
}

// Validate checks field constraints.
func (c Config) Validate() error {
	c.LogLevel = strings.ToUpper(c.LogLevel)
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
