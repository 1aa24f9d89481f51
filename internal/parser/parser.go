// Package parser recovers quote fields from OCR text of the price element.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pricewatcher/internal/storage"
)

var (
	priceRe   = regexp.MustCompile(`\$([\d,]+\.?\d*)`)
	changeRe  = regexp.MustCompile(`([+-]\d+\.\d+)\s+Today`)
	percentRe = regexp.MustCompile(`[+-]?\d+\.\d+%`)
)

// Fields holds the independently nullable values parsed from one screenshot.
type Fields struct {
	Price   decimal.NullDecimal
	Change  decimal.NullDecimal
	Percent *string
}

// Valid reports whether the text produced a usable price.
func (f Fields) Valid() bool {
	return f.Price.Valid
}

// Record converts the fields into a storable record. Callers must check Valid first.
func (f Fields) Record(ts time.Time) storage.PriceRecord {
	return storage.PriceRecord{
		Timestamp:     ts,
		Price:         f.Price.Decimal,
		Change:        f.Change,
		PercentChange: f.Percent,
	}
}

// Parse extracts the first price, change and percent tokens found in text.
func Parse(text string) Fields {
	return Fields{
		Price:   parsePrice(text),
		Change:  parseChange(text),
		Percent: parsePercent(text),
	}
}

func parsePrice(text string) decimal.NullDecimal {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.NullDecimal{}
	}
	digits := strings.ReplaceAll(m[1], ",", "")
	digits = strings.TrimSuffix(digits, ".")
	if digits == "" {
		return decimal.NullDecimal{}
	}
	value, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value)
}

func parseChange(text string) decimal.NullDecimal {
	m := changeRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.NullDecimal{}
	}
	value, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(value)
}

func parsePercent(text string) *string {
	match := percentRe.FindString(text)
	if match == "" {
		return nil
	}
	return &match
}
