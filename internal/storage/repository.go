package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createPriceRecordsSQL = `CREATE TABLE IF NOT EXISTS price_records (
        id             BIGSERIAL PRIMARY KEY,
        captured_at    TIMESTAMPTZ NOT NULL,
        price          NUMERIC NOT NULL,
        change         NUMERIC,
        percent_change TEXT,
        created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS price_records_captured_at_idx ON price_records (captured_at);`

	insertPriceRecordSQL = `INSERT INTO price_records (
        captured_at,
        price,
        change,
        percent_change
    ) VALUES (
        $1,$2,$3,$4
    );`

	listRecordsBetweenSQL = `SELECT
        captured_at,
        price::text,
        change::text,
        percent_change
    FROM price_records
    WHERE captured_at >= $1
      AND captured_at < $2
    ORDER BY captured_at, id;`

	listRecentRecordsSQL = `SELECT
        captured_at,
        price::text,
        change::text,
        percent_change
    FROM price_records
    ORDER BY captured_at DESC, id DESC
    LIMIT $1;`

	countRecordsSQL = `SELECT COUNT(*) FROM price_records;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RecordStore persists captured price records.
type RecordStore interface {
	Append(ctx context.Context, record PriceRecord) error
}

// HistoryReader reads previously stored records back.
type HistoryReader interface {
	ListRecent(ctx context.Context, limit int) ([]PriceRecord, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]PriceRecord, error)
	CountRecords(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store mirrors price records into PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the price_records table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createPriceRecordsSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Append inserts a price record. Identical records are stored again.
func (s *Store) Append(ctx context.Context, record PriceRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var change interface{}
	if record.Change.Valid {
		change = record.Change.Decimal.String()
	}

	var percent interface{}
	if record.PercentChange != nil {
		percent = *record.PercentChange
	}

	_, execErr := pool.Exec(ctx, insertPriceRecordSQL,
		record.Timestamp,
		record.Price.String(),
		change,
		percent,
	)
	if execErr != nil {
		return fmt.Errorf("insert price record: %w", execErr)
	}
	return nil
}

// ListBetween lists records within a time window.
func (s *Store) ListBetween(ctx context.Context, from, to time.Time) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecordsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list records between: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, 0)
}

// ListRecent lists the most recent records ordered by descending capture time.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRecordsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent records: %w", queryErr)
	}
	defer rows.Close()

	return collectRecords(rows, limit)
}

// CountRecords counts stored records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countRecordsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count records: %w", scanErr)
	}
	return count, nil
}

func collectRecords(rows pgx.Rows, capacity int) ([]PriceRecord, error) {
	records := make([]PriceRecord, 0, capacity)
	for rows.Next() {
		rec, scanErr := scanPriceRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanPriceRecord(rows pgx.Rows) (PriceRecord, error) {
	var (
		capturedAt time.Time
		priceStr   string
		changeStr  *string
		percent    *string
	)

	if err := rows.Scan(&capturedAt, &priceStr, &changeStr, &percent); err != nil {
		return PriceRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parse price: %w", err)
	}

	rec := PriceRecord{
		Timestamp:     capturedAt,
		Price:         price,
		PercentChange: percent,
	}
	if changeStr != nil {
		change, err := decimal.NewFromString(*changeStr)
		if err != nil {
			return PriceRecord{}, fmt.Errorf("parse change: %w", err)
		}
		rec.Change = decimal.NewNullDecimal(change)
	}
	return rec, nil
}

var (
	_ RecordStore    = (*Store)(nil)
	_ HistoryReader  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
