package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tribecal/internal/feed"
	"tribecal/internal/model"
)

// OpenInterval starts a new presence window for subject and returns its id.
func (s *Store) OpenInterval(ctx context.Context, subjectID string) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("open interval: subject id is required")
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, subject_id, started_at, ended_at) VALUES (?, ?, ?, NULL)
	`, id, subjectID, utc(s.now()))
	if err != nil {
		return "", fmt.Errorf("opening interval: %w", err)
	}

	s.notify(feed.KindSession, id)
	return id, nil
}

// CloseInterval closes an open interval at the current time. Closing an
// already-closed interval is a no-op.
func (s *Store) CloseInterval(ctx context.Context, id string) error {
	return s.CloseIntervalAt(ctx, id, s.now())
}

// CloseIntervalAt closes an open interval at the given instant. Used by the
// sweep to clamp stale sessions to grace-period expiry. Idempotent: only
// still-open rows are touched.
func (s *Store) CloseIntervalAt(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL
	`, utc(at), id)
	if err != nil {
		return fmt.Errorf("closing interval: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected > 0 {
		s.notify(feed.KindSession, id)
	}
	return nil
}

// ListOpenOlderThan returns intervals that have been open longer than age.
func (s *Store) ListOpenOlderThan(ctx context.Context, age time.Duration) ([]model.SessionInterval, error) {
	cutoff := s.now().Add(-age)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, started_at, ended_at
		FROM sessions
		WHERE ended_at IS NULL AND started_at <= ?
		ORDER BY started_at
	`, utc(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying open intervals: %w", err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

// IntervalsSince returns intervals still open or closed after since, the
// read-only snapshot the pulse aggregator consumes.
func (s *Store) IntervalsSince(ctx context.Context, since time.Time) ([]model.SessionInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, started_at, ended_at
		FROM sessions
		WHERE ended_at IS NULL OR ended_at > ?
		ORDER BY started_at
	`, utc(since))
	if err != nil {
		return nil, fmt.Errorf("querying intervals: %w", err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

func scanIntervals(rows *sql.Rows) ([]model.SessionInterval, error) {
	var intervals []model.SessionInterval
	for rows.Next() {
		var (
			iv    model.SessionInterval
			ended sql.NullTime
		)
		if err := rows.Scan(&iv.ID, &iv.SubjectID, &iv.StartedAt, &ended); err != nil {
			return nil, fmt.Errorf("scanning interval: %w", err)
		}
		if ended.Valid {
			iv.EndedAt = ended.Time
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}
