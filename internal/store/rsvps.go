package store

import (
	"context"
	"fmt"

	"tribecal/internal/model"
)

// PutRSVP records one user's answer for one occurrence. One row per
// (user, event, instance key); last write wins on status and flags.
func (s *Store) PutRSVP(ctx context.Context, r *model.RSVP) error {
	if r.EventID == "" || r.InstanceKey == "" || r.UserID == "" {
		return fmt.Errorf("put rsvp: event id, instance key and user id are required")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("put rsvp: unknown status %q", r.Status)
	}

	r.UpdatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rsvps (event_id, instance_key, user_id, status, pinned, shareable, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id, instance_key, user_id) DO UPDATE SET
			status = excluded.status,
			pinned = excluded.pinned,
			shareable = excluded.shareable,
			updated_at = excluded.updated_at
	`, r.EventID, r.InstanceKey, r.UserID, string(r.Status), r.Pinned, r.Shareable, utc(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting rsvp: %w", err)
	}

	return nil
}

// ListRSVPs returns all answers for one occurrence.
func (s *Store) ListRSVPs(ctx context.Context, eventID, instanceKey string) ([]model.RSVP, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, instance_key, user_id, status, pinned, shareable, updated_at
		FROM rsvps
		WHERE event_id = ? AND instance_key = ?
		ORDER BY user_id
	`, eventID, instanceKey)
	if err != nil {
		return nil, fmt.Errorf("querying rsvps: %w", err)
	}
	defer rows.Close()

	var rsvps []model.RSVP
	for rows.Next() {
		var (
			r      model.RSVP
			status string
		)
		if err := rows.Scan(&r.EventID, &r.InstanceKey, &r.UserID, &status, &r.Pinned, &r.Shareable, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning rsvp: %w", err)
		}
		r.Status = model.RSVPStatus(status)
		rsvps = append(rsvps, r)
	}
	return rsvps, rows.Err()
}
