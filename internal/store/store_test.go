package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tribecal/internal/feed"
	"tribecal/internal/model"
)

type recordingNotifier struct {
	notices []feed.Notice
}

func (n *recordingNotifier) Publish(notice feed.Notice) {
	n.notices = append(n.notices, notice)
}

func testStore(t *testing.T) (*Store, *recordingNotifier) {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "tribecal-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := &recordingNotifier{}
	return New(db, notifier), notifier
}

func validEvent() *model.Event {
	start := time.Date(2025, time.January, 6, 18, 0, 0, 0, time.UTC)
	return &model.Event{
		Title:      "evening sit",
		OwnerID:    "owner-a",
		Visibility: model.VisibilityFriends,
		Recurrence: "FREQ=WEEKLY;COUNT=5",
		StartAt:    start,
		EndAt:      start.Add(time.Hour),
	}
}

func TestUpsertAndGet(t *testing.T) {
	s, notifier := testStore(t)
	ctx := context.Background()

	ev := validEvent()
	require.NoError(t, s.Upsert(ctx, ev))
	require.NotEmpty(t, ev.ID)
	require.False(t, ev.CreatedAt.IsZero())

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, ev.OwnerID, got.OwnerID)
	assert.Equal(t, ev.Visibility, got.Visibility)
	assert.Equal(t, ev.Recurrence, got.Recurrence)
	assert.True(t, got.StartAt.Equal(ev.StartAt))
	assert.True(t, got.EndAt.Equal(ev.EndAt))

	require.Len(t, notifier.notices, 1)
	assert.Equal(t, feed.KindEvent, notifier.notices[0].Kind)
	assert.Equal(t, ev.ID, notifier.notices[0].ID)
}

func TestUpsertRejectsInvalidSpan(t *testing.T) {
	s, _ := testStore(t)

	ev := validEvent()
	ev.EndAt = ev.StartAt.Add(-time.Minute)

	err := s.Upsert(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSpan))
}

func TestUpsertRejectsCommunityWithoutID(t *testing.T) {
	s, _ := testStore(t)

	ev := validEvent()
	ev.Visibility = model.VisibilityCommunity
	ev.CommunityID = ""

	assert.Error(t, s.Upsert(context.Background(), ev))
}

func TestUpsertReplacesExisting(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	ev := validEvent()
	require.NoError(t, s.Upsert(ctx, ev))

	ev.Title = "morning sit"
	require.NoError(t, s.Upsert(ctx, ev))

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "morning sit", got.Title)
}

func TestSetCancelled(t *testing.T) {
	s, notifier := testStore(t)
	ctx := context.Background()

	ev := validEvent()
	require.NoError(t, s.Upsert(ctx, ev))

	require.NoError(t, s.SetCancelled(ctx, ev.ID, "venue closed"))

	got, err := s.GetByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.Equal(t, "venue closed", got.CancelReason)

	// Upsert + cancel notices.
	assert.Len(t, notifier.notices, 2)
}

func TestSetCancelledUnknownEvent(t *testing.T) {
	s, _ := testStore(t)

	err := s.SetCancelled(context.Background(), "nope", "reason")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRangeReturnsCandidates(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	windowStart := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	inside := validEvent()
	inside.Recurrence = ""
	inside.StartAt = time.Date(2025, time.February, 10, 18, 0, 0, 0, time.UTC)
	inside.EndAt = inside.StartAt.Add(time.Hour)
	require.NoError(t, s.Upsert(ctx, inside))

	past := validEvent()
	past.Recurrence = ""
	past.StartAt = time.Date(2024, time.June, 1, 18, 0, 0, 0, time.UTC)
	past.EndAt = past.StartAt.Add(time.Hour)
	require.NoError(t, s.Upsert(ctx, past))

	// Recurring series starting long before the window is still a candidate.
	recurring := validEvent()
	recurring.StartAt = time.Date(2024, time.June, 1, 18, 0, 0, 0, time.UTC)
	recurring.EndAt = recurring.StartAt.Add(time.Hour)
	recurring.Recurrence = "FREQ=WEEKLY"
	require.NoError(t, s.Upsert(ctx, recurring))

	events, err := s.Range(ctx, windowStart, windowEnd)
	require.NoError(t, err)

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	assert.Contains(t, ids, inside.ID)
	assert.Contains(t, ids, recurring.ID)
	assert.NotContains(t, ids, past.ID)
}

func TestRangeIncludesInstantEvents(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	windowStart := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	windowEnd := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	// A zero-length span is a valid instant and must surface when its
	// start is in the window, window start included.
	atStart := validEvent()
	atStart.Recurrence = ""
	atStart.StartAt = windowStart
	atStart.EndAt = windowStart
	require.NoError(t, s.Upsert(ctx, atStart))

	inside := validEvent()
	inside.Recurrence = ""
	inside.StartAt = time.Date(2025, time.February, 10, 12, 0, 0, 0, time.UTC)
	inside.EndAt = inside.StartAt
	require.NoError(t, s.Upsert(ctx, inside))

	before := validEvent()
	before.Recurrence = ""
	before.StartAt = windowStart.Add(-time.Second)
	before.EndAt = before.StartAt
	require.NoError(t, s.Upsert(ctx, before))

	events, err := s.Range(ctx, windowStart, windowEnd)
	require.NoError(t, err)

	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	assert.Contains(t, ids, atStart.ID)
	assert.Contains(t, ids, inside.ID)
	assert.NotContains(t, ids, before.ID)
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id, err := s.OpenInterval(ctx, "subject-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Three hours later it shows up as stale past a two-hour grace.
	s.now = func() time.Time { return base.Add(3 * time.Hour) }

	stale, err := s.ListOpenOlderThan(ctx, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, id, stale[0].ID)
	assert.True(t, stale[0].Open())

	require.NoError(t, s.CloseIntervalAt(ctx, id, base.Add(2*time.Hour)))

	stale, err = s.ListOpenOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stale)

	intervals, err := s.IntervalsSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.True(t, intervals[0].EndedAt.Equal(base.Add(2*time.Hour)))
}

func TestCloseIntervalIdempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	id, err := s.OpenInterval(ctx, "subject-1")
	require.NoError(t, err)

	require.NoError(t, s.CloseIntervalAt(ctx, id, base.Add(time.Hour)))
	// Second close is a no-op: the original end time survives.
	require.NoError(t, s.CloseIntervalAt(ctx, id, base.Add(5*time.Hour)))

	intervals, err := s.IntervalsSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, intervals, 1)
	assert.True(t, intervals[0].EndedAt.Equal(base.Add(time.Hour)))
}

func TestRSVPLastWriteWins(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	r := &model.RSVP{
		EventID:     "e1",
		InstanceKey: "2025-01-06T18:00:00Z",
		UserID:      "u1",
		Status:      model.RSVPMaybe,
	}
	require.NoError(t, s.PutRSVP(ctx, r))

	r.Status = model.RSVPYes
	r.Pinned = true
	require.NoError(t, s.PutRSVP(ctx, r))

	rsvps, err := s.ListRSVPs(ctx, "e1", "2025-01-06T18:00:00Z")
	require.NoError(t, err)
	require.Len(t, rsvps, 1)
	assert.Equal(t, model.RSVPYes, rsvps[0].Status)
	assert.True(t, rsvps[0].Pinned)
}

func TestPutRSVPRejectsUnknownStatus(t *testing.T) {
	s, _ := testStore(t)

	r := &model.RSVP{
		EventID:     "e1",
		InstanceKey: "k",
		UserID:      "u1",
		Status:      model.RSVPStatus("definitely"),
	}
	assert.Error(t, s.PutRSVP(context.Background(), r))
}
