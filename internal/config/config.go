// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/insightdelivered/statement-ledger/internal/fingerprint"
	"github.com/insightdelivered/statement-ledger/internal/matcher"
	"github.com/insightdelivered/statement-ledger/internal/validation"
)

// Config holds all runtime settings.
type Config struct {
	// Core settings
	Port         string
	LogLevel     string
	DatabasePath string

	// Data file overrides; empty means the embedded defaults.
	RulesFile string
	ChartFile string

	// Engine tuning
	ValidationMinYear    int
	FuzzyThreshold       float64
	ConsolidateThreshold float64
	SaveDebounce         time.Duration
	FingerprintThreshold int

	// API
	ResultCacheTTL time.Duration
	MaxUploadBytes int
	EnableOCR      bool
}

// Load reads .env from the working directory or its parent, then the
// environment. Malformed values fall back to defaults with a warning.
func Load(log zerolog.Logger) *Config {
	if err := godotenv.Load(); err != nil {
		if err = godotenv.Load("../.env"); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("error loading .env, using process environment")
		}
	}

	e := env{log: log}
	cfg := &Config{
		Port:         e.str("PORT", "8080"),
		LogLevel:     e.str("LOG_LEVEL", "info"),
		DatabasePath: e.str("DATABASE_PATH", "data/ledger.db"),

		RulesFile: e.str("RULES_FILE", ""),
		ChartFile: e.str("CHART_FILE", ""),

		ValidationMinYear:    e.int("VALIDATION_MIN_YEAR", validation.DefaultConfig().MinYear),
		FuzzyThreshold:       e.float("FUZZY_THRESHOLD", matcher.DefaultConfig().FuzzyThreshold),
		ConsolidateThreshold: e.float("CONSOLIDATE_THRESHOLD", matcher.DefaultConfig().ConsolidateThreshold),
		SaveDebounce:         e.duration("SAVE_DEBOUNCE", matcher.DefaultConfig().SaveDebounce),
		FingerprintThreshold: e.int("FINGERPRINT_THRESHOLD", fingerprint.DefaultThreshold),

		ResultCacheTTL: e.duration("RESULT_CACHE_TTL", 30*time.Minute),
		MaxUploadBytes: e.int("MAX_UPLOAD_BYTES", 32<<20),
		EnableOCR:      e.bool("ENABLE_OCR", false),
	}

	log.Debug().
		Str("port", cfg.Port).
		Str("logLevel", cfg.LogLevel).
		Str("db", cfg.DatabasePath).
		Msg("configuration loaded")
	return cfg
}

// Validation returns the validation engine settings.
func (c *Config) Validation() validation.Config {
	v := validation.DefaultConfig()
	v.MinYear = c.ValidationMinYear
	return v
}

// Matcher returns the matching engine settings.
func (c *Config) Matcher() matcher.Config {
	m := matcher.DefaultConfig()
	m.FuzzyThreshold = c.FuzzyThreshold
	m.ConsolidateThreshold = c.ConsolidateThreshold
	m.SaveDebounce = c.SaveDebounce
	return m
}

type env struct {
	log zerolog.Logger
}

func (e env) str(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func (e env) int(key string, fallback int) int {
	s := e.str(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		e.log.Warn().Str("key", key).Str("value", s).Int("default", fallback).Msg("invalid integer, using default")
		return fallback
	}
	return v
}

func (e env) float(key string, fallback float64) float64 {
	s := e.str(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 || v > 1 {
		e.log.Warn().Str("key", key).Str("value", s).Float64("default", fallback).Msg("invalid threshold, using default")
		return fallback
	}
	return v
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	s := e.str(key, "")
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		e.log.Warn().Str("key", key).Str("value", s).Str("default", fallback.String()).Msg("invalid duration, using default")
		return fallback
	}
	return v
}

func (e env) bool(key string, fallback bool) bool {
	s := e.str(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		e.log.Warn().Str("key", key).Str("value", s).Bool("default", fallback).Msg("invalid boolean, using default")
		return fallback
	}
	return v
}
