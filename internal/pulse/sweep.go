package pulse

import (
	"context"
	"time"

	appLog "tribecal/internal/log"
	"tribecal/internal/model"
)

// SessionStore is the slice of the session boundary the sweeper needs.
type SessionStore interface {
	ListOpenOlderThan(ctx context.Context, age time.Duration) ([]model.SessionInterval, error)
	CloseIntervalAt(ctx context.Context, id string, at time.Time) error
}

// Sweeper force-closes intervals that never received a close signal. Without
// it, sessions abandoned mid-flight would count as present forever and the
// pulse would drift upward.
type Sweeper struct {
	store SessionStore
	grace time.Duration
}

func NewSweeper(store SessionStore, grace time.Duration) *Sweeper {
	return &Sweeper{store: store, grace: grace}
}

// Sweep closes every interval open longer than the grace period, setting its
// end to the grace-period expiry (started-at + grace), never to sweep time.
// Returns the number of intervals closed. Closing an already-closed interval
// is a no-op at the store, so overlapping sweeps are harmless.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stale, err := s.store.ListOpenOlderThan(ctx, s.grace)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, iv := range stale {
		expiry := iv.StartedAt.Add(s.grace)
		if err := s.store.CloseIntervalAt(ctx, iv.ID, expiry); err != nil {
			appLog.Error("pulse: failed to force-close stale interval", err,
				"interval_id", iv.ID, "subject", iv.SubjectID)
			continue
		}
		closed++
	}

	if closed > 0 {
		appLog.Info("pulse: force-closed stale intervals", "count", closed, "grace", s.grace.String())
	}
	return closed, nil
}
