// Package ocr turns element screenshots into text.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
)

// Recognizer extracts best-effort text from an image file. Unreadable
// content yields empty or garbled text, not an error.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (string, error)
}

// Options tune the Tesseract engine.
type Options struct {
	Language   string
	PSM        int
	Whitelist  string
	Preprocess bool
	Scale      float64
}

// Tesseract runs OCR through libtesseract.
type Tesseract struct {
	opts   Options
	logger zerolog.Logger
}

// NewTesseract constructs a Tesseract recognizer.
func NewTesseract(opts Options, logger zerolog.Logger) *Tesseract {
	if opts.Language == "" {
		opts.Language = "eng"
	}
	if opts.Scale < 1 {
		opts.Scale = 1
	}
	return &Tesseract{opts: opts, logger: logger.With().Str("component", "ocr").Logger()}
}

// Recognize loads the image at path and returns the trimmed recognized text.
func (t *Tesseract) Recognize(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.opts.Language); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}
	if t.opts.PSM > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(t.opts.PSM)); err != nil {
			return "", fmt.Errorf("set page seg mode: %w", err)
		}
	}
	if t.opts.Whitelist != "" {
		if err := client.SetWhitelist(t.opts.Whitelist); err != nil {
			return "", fmt.Errorf("set whitelist: %w", err)
		}
	}

	if t.opts.Preprocess {
		data, err := PreprocessFile(path, t.opts.Scale)
		if err != nil {
			return "", err
		}
		if err := client.SetImageFromBytes(data); err != nil {
			return "", fmt.Errorf("load preprocessed image: %w", err)
		}
	} else if err := client.SetImage(path); err != nil {
		return "", fmt.Errorf("load image %s: %w", path, err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize %s: %w", path, err)
	}

	text = strings.TrimSpace(text)
	t.logger.Debug().Str("path", path).Str("text", text).Msg("ocr complete")
	return text, nil
}

var _ Recognizer = (*Tesseract)(nil)
