package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogWriterMirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "app.log")
	var console bytes.Buffer

	writer, closer, err := logWriter(Config{Format: "console", File: path}, &console)
	if err != nil {
		t.Fatalf("logWriter: %v", err)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger()
	logger.Warn().Msg("price element missing")
	closer()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "price element missing") {
		t.Fatalf("file output missing message: %q", string(data))
	}
	if !strings.Contains(string(data), "WRN") {
		t.Fatalf("file output missing level: %q", string(data))
	}
	if !strings.Contains(console.String(), "price element missing") {
		t.Fatalf("console output missing message: %q", console.String())
	}
}

func TestLogWriterWithoutFile(t *testing.T) {
	var console bytes.Buffer
	writer, closer, err := logWriter(Config{Format: "json"}, &console)
	if err != nil {
		t.Fatalf("logWriter: %v", err)
	}
	defer closer()

	logger := zerolog.New(writer)
	logger.Info().Msg("hello")
	if !strings.Contains(console.String(), `"message":"hello"`) {
		t.Fatalf("expected json output, got %q", console.String())
	}
}
