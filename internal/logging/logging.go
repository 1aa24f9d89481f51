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
	File        string `mapstructure:"file"`
}

// NewLogger constructs a zerolog logger from config. Output goes to stdout and,
// when cfg.File is set, is mirrored to that file. The returned func closes the file.
func NewLogger(cfg Config) (zerolog.Logger, func(), error) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		level = parsed
	}

	writer, closer, err := logWriter(cfg, os.Stdout)
	if err != nil {
		return zerolog.Nop(), func() {}, err
	}

	logger := zerolog.New(writer).Level(level)
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger(), closer, nil
}

func logWriter(cfg Config, console io.Writer) (io.Writer, func(), error) {
	consoleOut := console
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		consoleOut = zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	if cfg.File == "" {
		return consoleOut, func() {}, nil
	}

	if dir := filepath.Dir(cfg.File); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	fileOut := zerolog.ConsoleWriter{
		Out:        file,
		NoColor:    true,
		TimeFormat: zerolog.TimeFieldFormat,
	}

	closer := func() {
		_ = file.Close()
	}
	return zerolog.MultiLevelWriter(consoleOut, fileOut), closer, nil
}
