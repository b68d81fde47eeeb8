package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
	// File additionally appends JSON lines to the given path.
	File string `mapstructure:"file"`
}

// NewLogger constructs a zerolog logger from config. The returned closer
// releases the log file, if any.
func NewLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	writer, closer, err := logWriter(cfg, os.Stdout)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger := zerolog.New(writer).Level(level)
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger(), closer, nil
}

func logWriter(cfg Config, stdout io.Writer) (io.Writer, io.Closer, error) {
	var console io.Writer = stdout
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		console = zerolog.ConsoleWriter{
			Out:        stdout,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	if cfg.File == "" {
		return console, nopCloser{}, nil
	}

	if dir := filepath.Dir(cfg.File); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return zerolog.MultiLevelWriter(console, file), file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
