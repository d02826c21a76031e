package visibility

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tribecal/internal/model"
)

func occurrence(eventID, ownerID string, vis model.Visibility, communityID string) model.Occurrence {
	start := time.Date(2025, time.January, 6, 18, 0, 0, 0, time.UTC)
	return model.Occurrence{
		EventID:     eventID,
		InstanceKey: start.Format(time.RFC3339Nano),
		OwnerID:     ownerID,
		Visibility:  vis,
		CommunityID: communityID,
		StartAt:     start,
		EndAt:       start.Add(time.Hour),
	}
}

func TestResolvePublicAlwaysVisible(t *testing.T) {
	r := NewResolver(EmptyOracle{})
	occs := []model.Occurrence{occurrence("e1", "owner-a", model.VisibilityPublic, "")}

	for _, viewer := range []string{"", "owner-a", "stranger"} {
		out := r.Resolve(context.Background(), occs, viewer)
		assert.Len(t, out, 1, "viewer %q", viewer)
	}
}

func TestResolvePrivateOwnerOnly(t *testing.T) {
	r := NewResolver(EmptyOracle{})
	occs := []model.Occurrence{occurrence("e1", "owner-a", model.VisibilityPrivate, "")}

	assert.Len(t, r.Resolve(context.Background(), occs, "owner-a"), 1)
	assert.Empty(t, r.Resolve(context.Background(), occs, "stranger"))
	assert.Empty(t, r.Resolve(context.Background(), occs, ""))
}

func TestResolveFriendsTier(t *testing.T) {
	oracle := NewStaticOracle()
	oracle.AddFriends("owner-a", "buddy")
	r := NewResolver(oracle)

	occs := []model.Occurrence{occurrence("e1", "owner-a", model.VisibilityFriends, "")}

	assert.Len(t, r.Resolve(context.Background(), occs, "owner-a"), 1)
	assert.Len(t, r.Resolve(context.Background(), occs, "buddy"), 1)
	assert.Empty(t, r.Resolve(context.Background(), occs, "stranger"))
	assert.Empty(t, r.Resolve(context.Background(), occs, ""))
}

func TestResolveCommunityTier(t *testing.T) {
	oracle := NewStaticOracle()
	oracle.AddMember("member", "comm-1")
	r := NewResolver(oracle)

	occs := []model.Occurrence{occurrence("e1", "owner-a", model.VisibilityCommunity, "comm-1")}

	assert.Len(t, r.Resolve(context.Background(), occs, "member"), 1)
	assert.Empty(t, r.Resolve(context.Background(), occs, "outsider"))
	assert.Empty(t, r.Resolve(context.Background(), occs, ""))
}

func TestResolveCancelledAnnotatedNotRemoved(t *testing.T) {
	r := NewResolver(EmptyOracle{})
	occ := occurrence("e1", "owner-a", model.VisibilityPublic, "")
	occ.Cancelled = true
	occ.CancelReason = "rained out"

	out := r.Resolve(context.Background(), []model.Occurrence{occ}, "stranger")
	require.Len(t, out, 1)
	assert.True(t, out[0].Cancelled)
	assert.Equal(t, "rained out", out[0].CancelReason)
}

func TestResolvePreservesOrder(t *testing.T) {
	oracle := NewStaticOracle()
	oracle.AddFriends("owner-a", "viewer")
	oracle.AddFriends("owner-b", "viewer")
	r := NewResolver(oracle)

	var occs []model.Occurrence
	for i := 0; i < 20; i++ {
		owner := "owner-a"
		if i%2 == 1 {
			owner = "owner-b"
		}
		occ := occurrence("e", owner, model.VisibilityFriends, "")
		occ.EventID = string(rune('a' + i))
		occs = append(occs, occ)
	}

	out := r.Resolve(context.Background(), occs, "viewer")
	require.Len(t, out, 20)
	for i := range out {
		assert.Equal(t, occs[i].EventID, out[i].EventID)
	}
}

// flakyOracle errors for one owner and answers normally for everyone else.
type flakyOracle struct {
	failOwner string
}

func (o flakyOracle) IsFriend(_ context.Context, _, ownerID string) (bool, error) {
	if ownerID == o.failOwner {
		return false, errors.New("oracle timeout")
	}
	return true, nil
}

func (o flakyOracle) IsCommunityMember(context.Context, string, string) (bool, error) {
	return false, errors.New("oracle timeout")
}

func TestResolveFailClosedPerOwner(t *testing.T) {
	r := NewResolver(flakyOracle{failOwner: "owner-broken"})

	occs := []model.Occurrence{
		occurrence("e1", "owner-ok", model.VisibilityFriends, ""),
		occurrence("e2", "owner-broken", model.VisibilityFriends, ""),
	}

	out := r.Resolve(context.Background(), occs, "viewer")
	require.Len(t, out, 1)
	assert.Equal(t, "e1", out[0].EventID)
}

func TestResolveCoalescesOracleCalls(t *testing.T) {
	oracle := &countingOracle{inner: NewStaticOracle()}
	oracle.inner.AddFriends("owner-a", "viewer")
	r := NewResolver(oracle)

	// Many occurrences of one recurring event share one predicate.
	var occs []model.Occurrence
	for i := 0; i < 50; i++ {
		occ := occurrence("e1", "owner-a", model.VisibilityFriends, "")
		occ.StartAt = occ.StartAt.AddDate(0, 0, i)
		occs = append(occs, occ)
	}

	out := r.Resolve(context.Background(), occs, "viewer")
	assert.Len(t, out, 50)
	assert.Equal(t, 1, oracle.friendCalls())
}

type countingOracle struct {
	inner *StaticOracle

	mu    sync.Mutex
	calls int
}

func (o *countingOracle) IsFriend(ctx context.Context, viewerID, ownerID string) (bool, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
	return o.inner.IsFriend(ctx, viewerID, ownerID)
}

func (o *countingOracle) IsCommunityMember(ctx context.Context, viewerID, communityID string) (bool, error) {
	return o.inner.IsCommunityMember(ctx, viewerID, communityID)
}

func (o *countingOracle) friendCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// halfStuckOracle answers instantly for every owner but one, for whom it
// blocks forever without watching its context.
type halfStuckOracle struct {
	stuckOwner string
}

func (o halfStuckOracle) IsFriend(_ context.Context, _, ownerID string) (bool, error) {
	if ownerID == o.stuckOwner {
		select {}
	}
	return true, nil
}

func (o halfStuckOracle) IsCommunityMember(context.Context, string, string) (bool, error) {
	select {}
}

func TestResolveEnforcesDeadlineOnStuckOracle(t *testing.T) {
	r := NewResolver(halfStuckOracle{stuckOwner: "owner-stuck"})

	occs := []model.Occurrence{
		occurrence("e1", "owner-ok", model.VisibilityFriends, ""),
		occurrence("e2", "owner-stuck", model.VisibilityFriends, ""),
		occurrence("e3", "owner-any", model.VisibilityPublic, ""),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	out := r.Resolve(ctx, occs, "viewer")
	assert.Less(t, time.Since(started), 5*time.Second,
		"the resolver must return at its own deadline even when the oracle never does")

	// Confirmed and public occurrences survive; the unanswered one is
	// excluded.
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].EventID)
	assert.Equal(t, "e3", out[1].EventID)
}

func TestResolveUnknownTierFailsClosed(t *testing.T) {
	r := NewResolver(EmptyOracle{})
	occ := occurrence("e1", "owner-a", model.Visibility("secret"), "")

	assert.Empty(t, r.Resolve(context.Background(), []model.Occurrence{occ}, "owner-a"))
}
