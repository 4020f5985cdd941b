package storage

import (
	"context"
	"time"
)

// --- Processed events ---

// MarkEventProcessed records an event id; returns true if it was new
func (s *Storage) MarkEventProcessed(ctx context.Context, eventID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?)
		 ON CONFLICT (event_id) DO NOTHING`),
		eventID, at.Unix(),
	)
	if err != nil {
		return false, err
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// IsEventProcessed reports whether the event was recorded at or after since
func (s *Storage) IsEventProcessed(ctx context.Context, eventID string, since time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT COUNT(*) FROM processed_events WHERE event_id = ? AND processed_at >= ?"),
		eventID, since.Unix(),
	).Scan(&count)
	return count > 0, err
}

// PruneProcessedEvents deletes events recorded before the cutoff
func (s *Storage) PruneProcessedEvents(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM processed_events WHERE processed_at < ?"), before.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountProcessedEvents returns the number of recorded events
func (s *Storage) CountProcessedEvents(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM processed_events").Scan(&count)
	return count, err
}
