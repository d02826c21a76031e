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

// Upsert creates or replaces one event in a single-row transactional write.
// Invalid spans and malformed visibility are rejected here so they can never
// reach expansion.
func (s *Store) Upsert(ctx context.Context, ev *model.Event) error {
	if ev.EndAt.Before(ev.StartAt) {
		return fmt.Errorf("upsert event: %w", ErrInvalidSpan)
	}
	if !ev.Visibility.Valid() {
		return fmt.Errorf("upsert event: unknown visibility %q", ev.Visibility)
	}
	if ev.Visibility == model.VisibilityCommunity && ev.CommunityID == "" {
		return fmt.Errorf("upsert event: community visibility requires a community id")
	}
	if ev.OwnerID == "" {
		return fmt.Errorf("upsert event: owner id is required")
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			id, title, description, owner_id, visibility, community_id,
			recurrence, start_at, end_at, all_day, lat, lng, kind,
			cancelled, cancel_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			owner_id = excluded.owner_id,
			visibility = excluded.visibility,
			community_id = excluded.community_id,
			recurrence = excluded.recurrence,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			all_day = excluded.all_day,
			lat = excluded.lat,
			lng = excluded.lng,
			kind = excluded.kind,
			cancelled = excluded.cancelled,
			cancel_reason = excluded.cancel_reason
	`,
		ev.ID, ev.Title, ev.Description, ev.OwnerID, string(ev.Visibility), ev.CommunityID,
		ev.Recurrence, utc(ev.StartAt), utc(ev.EndAt), ev.AllDay, ev.Lat, ev.Lng, ev.Kind,
		ev.Cancelled, ev.CancelReason, utc(ev.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.notify(feed.KindEvent, ev.ID)
	return nil
}

// SetCancelled flags an event (and thereby its whole recurrence series) as
// cancelled. The row stays in place so issued occurrences remain
// referentially stable.
func (s *Store) SetCancelled(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET cancelled = 1, cancel_reason = ? WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("cancelling event: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("cancelling event %s: %w", id, ErrNotFound)
	}

	s.notify(feed.KindEvent, id)
	return nil
}

// GetByID retrieves one event.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, owner_id, visibility, community_id,
		       recurrence, start_at, end_at, all_day, lat, lng, kind,
		       cancelled, cancel_reason, created_at
		FROM events WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return ev, nil
}

// Range returns candidate base events for a query window: every
// non-recurring event whose span intersects [from, to) plus every recurring
// event whose series starts before the window end. A zero-length event is an
// instant and counts as inside iff its start lies in the window. Recurring
// candidates may still expand to nothing; the expander clips them. Failures
// wrap ErrUnavailable since a partial candidate list must fail the whole
// query.
func (s *Store) Range(ctx context.Context, from, to time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, owner_id, visibility, community_id,
		       recurrence, start_at, end_at, all_day, lat, lng, kind,
		       cancelled, cancel_reason, created_at
		FROM events
		WHERE start_at < ?
		  AND (recurrence != '' OR end_at > ? OR (end_at = start_at AND start_at >= ?))
		ORDER BY start_at, id
	`, utc(to), utc(from), utc(from))
	if err != nil {
		return nil, fmt.Errorf("%w: range query: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning event: %v", ErrUnavailable, err)
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading events: %v", ErrUnavailable, err)
	}

	return events, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*model.Event, error) {
	var (
		ev         model.Event
		visibility string
		lat, lng   sql.NullFloat64
	)
	err := r.Scan(
		&ev.ID, &ev.Title, &ev.Description, &ev.OwnerID, &visibility, &ev.CommunityID,
		&ev.Recurrence, &ev.StartAt, &ev.EndAt, &ev.AllDay, &lat, &lng, &ev.Kind,
		&ev.Cancelled, &ev.CancelReason, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	ev.Visibility = model.Visibility(visibility)
	if lat.Valid {
		ev.Lat = &lat.Float64
	}
	if lng.Valid {
		ev.Lng = &lng.Float64
	}
	return &ev, nil
}
