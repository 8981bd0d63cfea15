package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Session   Session   `yaml:"session"`
	WebSocket WebSocket `yaml:"websocket"`
}

// Session tunes room lifetimes and limits. Durations are Go duration strings.
type Session struct {
	MaxRooms         int    `yaml:"max_rooms"`
	MaxParticipants  int    `yaml:"max_participants"`
	Retention        string `yaml:"retention"`
	HostGrace        string `yaml:"host_grace"`
	RevealDelay      string `yaml:"reveal_delay"`
	ReapInterval     string `yaml:"reap_interval"`
	OutboundQueue    int    `yaml:"outbound_queue"`
	CodeLength       int    `yaml:"code_length"`
	DefaultTimeLimit string `yaml:"default_time_limit"`
}

type WebSocket struct {
	// Rate is inbound messages per second per connection.
	Rate         float64 `yaml:"rate"`
	Burst        int     `yaml:"burst"`
	PingInterval string  `yaml:"ping_interval"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// LogLevel maps the configured level name, defaulting to info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger from the log section.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel()}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
