// Package config reads server and analysis settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the CLI commands.
type Config struct {
	Addr          string
	LogLevel      string
	LogFormat     string
	MaxDetailRows int
	BitrateWindow time.Duration
	FrameRate     float64
	EventBuffer   int
	ProbeWindow   int64
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		Addr:          ":8080",
		LogLevel:      "info",
		LogFormat:     "text",
		MaxDetailRows: 2_000_000,
		BitrateWindow: time.Second,
		EventBuffer:   64,
		ProbeWindow:   1 << 20,
	}
}

// Load reads the .env file from the current working directory and sets
// environment variables that are not already set. If .env does not exist,
// Load returns an error but callers can ignore it and use system env or
// defaults. Pass one or more paths to load from specific files.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv returns Defaults overridden by BITLENS_* and LOG_* variables.
func FromEnv() Config {
	d := Defaults()
	return Config{
		Addr:          GetEnv("BITLENS_ADDR", d.Addr),
		LogLevel:      GetEnv("LOG_LEVEL", d.LogLevel),
		LogFormat:     GetEnv("LOG_FORMAT", d.LogFormat),
		MaxDetailRows: GetEnvInt("BITLENS_MAX_DETAIL_ROWS", d.MaxDetailRows),
		BitrateWindow: GetEnvDuration("BITLENS_BITRATE_WINDOW", d.BitrateWindow),
		FrameRate:     GetEnvFloat("BITLENS_FRAME_RATE", d.FrameRate),
		EventBuffer:   GetEnvInt("BITLENS_EVENT_BUFFER", d.EventBuffer),
		ProbeWindow:   int64(GetEnvInt("BITLENS_PROBE_WINDOW", int(d.ProbeWindow))),
	}
}

// GetEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by
// key, or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration parses values such as "500ms" or "2s".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
