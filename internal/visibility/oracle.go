package visibility

import (
	"context"
	"sync"
)

// EmptyOracle confirms nothing. Used when no relationship backend is
// configured; resolution then behaves as the empty-relationship case and
// only owner-visible and public occurrences survive.
type EmptyOracle struct{}

func (EmptyOracle) IsFriend(context.Context, string, string) (bool, error) {
	return false, nil
}

func (EmptyOracle) IsCommunityMember(context.Context, string, string) (bool, error) {
	return false, nil
}

// StaticOracle answers from in-memory relationship sets. Friendship is
// symmetric: adding either direction confirms both.
type StaticOracle struct {
	mu      sync.RWMutex
	friends map[[2]string]struct{}
	members map[[2]string]struct{}
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		friends: make(map[[2]string]struct{}),
		members: make(map[[2]string]struct{}),
	}
}

func (o *StaticOracle) AddFriends(a, b string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.friends[[2]string{a, b}] = struct{}{}
	o.friends[[2]string{b, a}] = struct{}{}
}

func (o *StaticOracle) AddMember(userID, communityID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.members[[2]string{userID, communityID}] = struct{}{}
}

func (o *StaticOracle) IsFriend(_ context.Context, viewerID, ownerID string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.friends[[2]string{viewerID, ownerID}]
	return ok, nil
}

func (o *StaticOracle) IsCommunityMember(_ context.Context, viewerID, communityID string) (bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.members[[2]string{viewerID, communityID}]
	return ok, nil
}
