package storage

import (
	"context"

	"github.com/rs/zerolog"
)

// Multi writes every record to a primary store and best-effort to mirrors.
// Only a primary failure is reported to the caller.
type Multi struct {
	primary RecordStore
	mirrors []RecordStore
	logger  zerolog.Logger
}

// NewMulti builds a fan-out store. Nil mirrors are ignored.
func NewMulti(primary RecordStore, logger zerolog.Logger, mirrors ...RecordStore) *Multi {
	kept := make([]RecordStore, 0, len(mirrors))
	for _, m := range mirrors {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &Multi{
		primary: primary,
		mirrors: kept,
		logger:  logger.With().Str("component", "record_store").Logger(),
	}
}

// Append stores the record in the primary first; mirrors are skipped if that fails.
func (m *Multi) Append(ctx context.Context, record PriceRecord) error {
	if err := m.primary.Append(ctx, record); err != nil {
		return err
	}

	for _, mirror := range m.mirrors {
		if err := mirror.Append(ctx, record); err != nil {
			m.logger.Error().Err(err).Time("timestamp", record.Timestamp).Msg("failed to mirror price record")
		}
	}
	return nil
}

var _ RecordStore = (*Multi)(nil)
