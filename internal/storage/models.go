package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord is one successful capture. Price is always present.
type PriceRecord struct {
	Timestamp     time.Time
	Price         decimal.Decimal
	Change        decimal.NullDecimal
	PercentChange *string
}

// ChangeString renders the change cell, empty when absent.
func (r PriceRecord) ChangeString() string {
	if !r.Change.Valid {
		return ""
	}
	return r.Change.Decimal.String()
}

// PercentString renders the percent cell, empty when absent.
func (r PriceRecord) PercentString() string {
	if r.PercentChange == nil {
		return ""
	}
	return *r.PercentChange
}
