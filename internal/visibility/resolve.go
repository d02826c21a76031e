// Package visibility filters expanded occurrences down to what one viewer is
// allowed to see. It consumes the relationship store purely as a predicate
// boundary and never reorders its input, so expansion and filtering stay
// independently testable.
package visibility

import (
	"context"

	appLog "tribecal/internal/log"
	"tribecal/internal/model"
)

// Oracle answers friend/membership questions against the external
// relationship store. Implementations must be safe for concurrent use and
// idempotent.
type Oracle interface {
	IsFriend(ctx context.Context, viewerID, ownerID string) (bool, error)
	IsCommunityMember(ctx context.Context, viewerID, communityID string) (bool, error)
}

// Resolver applies the four-tier visibility model to occurrence lists.
type Resolver struct {
	oracle Oracle
}

func NewResolver(oracle Oracle) *Resolver {
	return &Resolver{oracle: oracle}
}

// predicate identifies one distinct oracle question. A single recurring
// event can yield many occurrences that all need the same answer, so oracle
// calls are coalesced per key rather than issued per occurrence.
type predicate struct {
	member      bool // false: friend edge, true: community membership
	viewerID    string
	ownerOrComm string
}

// Resolve filters occurrences for viewerID.
//
//   - public: always included.
//   - private: included iff the viewer is the owner.
//   - friends: included iff the viewer is the owner or a confirmed friend.
//   - community: included iff the viewer is a confirmed member.
//
// An empty viewerID is the unauthenticated case: only public occurrences
// survive. Cancelled occurrences are included (still flagged cancelled), not
// removed. If the oracle fails or the context deadline passes before a
// predicate is answered, the affected occurrences are excluded (fail-closed)
// while occurrences confirmed through other predicates are still returned.
// Input order is preserved.
func (r *Resolver) Resolve(ctx context.Context, occurrences []model.Occurrence, viewerID string) []model.Occurrence {
	needed := make(map[predicate]struct{})

	if viewerID != "" {
		for _, occ := range occurrences {
			switch occ.Visibility {
			case model.VisibilityFriends:
				if occ.OwnerID != viewerID {
					needed[predicate{member: false, viewerID: viewerID, ownerOrComm: occ.OwnerID}] = struct{}{}
				}
			case model.VisibilityCommunity:
				needed[predicate{member: true, viewerID: viewerID, ownerOrComm: occ.CommunityID}] = struct{}{}
			}
		}
	}

	answers := r.evaluate(ctx, needed)

	out := make([]model.Occurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		if r.visible(occ, viewerID, answers) {
			out = append(out, occ)
		}
	}
	return out
}

// evaluate runs all distinct predicates concurrently. Keys that error or
// time out are simply absent from the answer map, which downstream treats as
// "not confirmed". The deadline is enforced here, not trusted to the oracle:
// once ctx is done, whatever has been answered so far is returned and the
// rest stays unconfirmed. The reply channel is buffered for every predicate
// so abandoned checks never leak a goroutine.
func (r *Resolver) evaluate(ctx context.Context, needed map[predicate]struct{}) map[predicate]bool {
	answers := make(map[predicate]bool, len(needed))
	if len(needed) == 0 {
		return answers
	}

	type reply struct {
		key      predicate
		ok       bool
		answered bool
	}
	replies := make(chan reply, len(needed))

	for key := range needed {
		go func(key predicate) {
			var (
				ok  bool
				err error
			)
			if key.member {
				ok, err = r.oracle.IsCommunityMember(ctx, key.viewerID, key.ownerOrComm)
			} else {
				ok, err = r.oracle.IsFriend(ctx, key.viewerID, key.ownerOrComm)
			}
			if err != nil {
				// Fail closed: an occurrence whose visibility cannot be
				// confirmed is never shown.
				appLog.Error("visibility: oracle check failed", err,
					"viewer", key.viewerID, "target", key.ownerOrComm, "member", key.member)
				replies <- reply{key: key}
				return
			}
			replies <- reply{key: key, ok: ok, answered: true}
		}(key)
	}

	for pending := len(needed); pending > 0; pending-- {
		select {
		case <-ctx.Done():
			appLog.Error("visibility: deadline passed with checks unanswered", ctx.Err(),
				"unanswered", pending)
			return answers
		case rep := <-replies:
			if rep.answered {
				answers[rep.key] = rep.ok
			}
		}
	}
	return answers
}

func (r *Resolver) visible(occ model.Occurrence, viewerID string, answers map[predicate]bool) bool {
	// Synthetic overlay occurrences never carry a tier; treat as public.
	if occ.Synthetic {
		return true
	}

	switch occ.Visibility {
	case model.VisibilityPublic:
		return true
	case model.VisibilityPrivate:
		return viewerID != "" && viewerID == occ.OwnerID
	case model.VisibilityFriends:
		if viewerID == "" {
			return false
		}
		if viewerID == occ.OwnerID {
			return true
		}
		return answers[predicate{member: false, viewerID: viewerID, ownerOrComm: occ.OwnerID}]
	case model.VisibilityCommunity:
		if viewerID == "" {
			return false
		}
		return answers[predicate{member: true, viewerID: viewerID, ownerOrComm: occ.CommunityID}]
	default:
		// Unknown tier: fail closed.
		return false
	}
}
