// Package logger builds the zerolog logger shared by every component.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/leave-ledger/config"
)

// Config controls log level and output format.
type Config struct {
	Level       string
	Pretty      bool
	Service     string
	Environment string
}

// FromConfig extracts logger settings from the application config.
func FromConfig(cfg *config.Config) Config {
	return Config{
		Level:       cfg.Logging.Level,
		Pretty:      cfg.Logging.Pretty,
		Service:     cfg.Application.Name,
		Environment: cfg.Application.Env,
	}
}

// New returns a logger writing to stdout.
func New(cfg Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter returns a logger writing to w. An unknown level falls back to info.
func NewWithWriter(cfg Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := w
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Environment != "" {
		ctx = ctx.Str("env", cfg.Environment)
	}
	return ctx.Logger()
}
