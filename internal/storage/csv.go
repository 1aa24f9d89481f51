package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
)

// CSVHeader is the first row of every record file.
var CSVHeader = []string{"timestamp", "price", "change", "percent_change"}

// CSVStore appends price records to a comma-separated file. It assumes a
// single writer process.
type CSVStore struct {
	path string
}

// NewCSVStore returns a store backed by the file at path.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Path returns the backing file location.
func (s *CSVStore) Path() string {
	return s.path
}

// Append writes one record, creating the file and its directory with a header first if needed.
func (s *CSVStore) Append(ctx context.Context, record PriceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	writeHeader := false
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := ensureDir(s.path); err != nil {
			return fmt.Errorf("create csv dir: %w", err)
		}
		writeHeader = true
	case err != nil:
		return fmt.Errorf("stat csv file: %w", err)
	case info.Size() == 0:
		writeHeader = true
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if writeHeader {
		if err := writer.Write(CSVHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	row := []string{
		record.Timestamp.Format(time.RFC3339Nano),
		record.Price.String(),
		record.ChangeString(),
		record.PercentString(),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("write csv record: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return file.Sync()
}

// ListRecent returns up to limit records, newest first.
func (s *CSVStore) ListRecent(ctx context.Context, limit int) ([]PriceRecord, error) {
	records, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	out := make([]PriceRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// ListBetween returns records with from <= timestamp < to in file order.
func (s *CSVStore) ListBetween(ctx context.Context, from, to time.Time) ([]PriceRecord, error) {
	records, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]PriceRecord, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// CountRecords counts data rows, excluding the header.
func (s *CSVStore) CountRecords(ctx context.Context) (int64, error) {
	records, err := s.readAll(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(records)), nil
}

func (s *CSVStore) readAll(ctx context.Context) ([]PriceRecord, error) {
	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(CSVHeader)

	records := make([]PriceRecord, 0)
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if line == 1 && row[0] == CSVHeader[0] {
			continue
		}

		rec, err := parseCSVRow(row)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseCSVRow(row []string) (PriceRecord, error) {
	ts, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	price, err := decimal.NewFromString(row[1])
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse price: %w", err)
	}

	rec := PriceRecord{Timestamp: ts, Price: price}
	if row[2] != "" {
		change, err := decimal.NewFromString(row[2])
		if err != nil {
			return PriceRecord{}, fmt.Errorf("parse change: %w", err)
		}
		rec.Change = decimal.NewNullDecimal(change)
	}
	if row[3] != "" {
		pct := row[3]
		rec.PercentChange = &pct
	}
	return rec, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

var (
	_ RecordStore   = (*CSVStore)(nil)
	_ HistoryReader = (*CSVStore)(nil)
)
