package app

import (
	"context"
	"errors"
	"fmt"

	"pricewatcher/internal/ocr"
	"pricewatcher/internal/parser"
)

// ParseOptions select the offline input: raw text or an existing screenshot.
type ParseOptions struct {
	Text  string
	Image string
}

// ErrNoPrice is returned when the input contains no dollar amount.
var ErrNoPrice = errors.New("no price found in text")

// Parse runs the OCR and field extraction steps without a browser, printing the result.
func (a *App) Parse(ctx context.Context, opts ParseOptions) error {
	return a.parseWith(ctx, opts, a.newRecognizer())
}

func (a *App) parseWith(ctx context.Context, opts ParseOptions, recognizer ocr.Recognizer) error {
	if (opts.Text == "") == (opts.Image == "") {
		return errors.New("exactly one of --text or --image must be provided")
	}

	text := opts.Text
	if opts.Image != "" {
		var err error
		text, err = recognizer.Recognize(ctx, opts.Image)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "text:    %q\n", text)
	}

	fields := parser.Parse(text)

	price := "-"
	if fields.Price.Valid {
		price = fields.Price.Decimal.String()
	}
	change := "-"
	if fields.Change.Valid {
		change = fields.Change.Decimal.String()
	}
	percent := "-"
	if fields.Percent != nil {
		percent = *fields.Percent
	}

	fmt.Fprintf(a.Out, "price:   %s\nchange:  %s\npercent: %s\n", price, change, percent)

	if !fields.Valid() {
		return ErrNoPrice
	}
	return nil
}
