// Package query is the engine's read path: range-read candidate base events,
// expand recurrences into the window, resolve viewer visibility, merge the
// celestial overlay, and return one flat time-ordered occurrence list.
package query

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tribecal/internal/feed"
	appLog "tribecal/internal/log"
	"tribecal/internal/model"
	"tribecal/internal/moon"
	"tribecal/internal/recur"
	"tribecal/internal/visibility"
)

// EventSource is the store slice the pipeline reads from.
type EventSource interface {
	Range(ctx context.Context, from, to time.Time) ([]model.Event, error)
}

// RSVPWriter is the store slice RSVP writes go through.
type RSVPWriter interface {
	PutRSVP(ctx context.Context, r *model.RSVP) error
}

type cacheKey struct {
	eventID  string
	windowLo int64
	windowHi int64
}

// maxCachedExpansions bounds the expansion cache across all (event, window)
// keys. Past the bound, arbitrary entries are evicted; the cache is a
// performance hint, so eviction only costs a re-expansion.
const maxCachedExpansions = 4096

// Service wires the pipeline stages together. Expansion results are cached
// per (event, window); the cache is a performance hint only, invalidated by
// change-feed notices.
type Service struct {
	events   EventSource
	rsvps    RSVPWriter
	resolver *visibility.Resolver
	moons    *moon.Cache

	// MoonOverlay toggles merging synthetic moon-phase occurrences.
	MoonOverlay bool

	mu          sync.Mutex
	cache       map[cacheKey][]model.Occurrence
	keysByEvent map[string]map[cacheKey]struct{}
	cacheLimit  int
}

// New creates a Service. moons may be nil to disable the overlay entirely.
func New(events EventSource, rsvps RSVPWriter, resolver *visibility.Resolver, moons *moon.Cache) *Service {
	return &Service{
		events:      events,
		rsvps:       rsvps,
		resolver:    resolver,
		moons:       moons,
		MoonOverlay: moons != nil,
		cache:       make(map[cacheKey][]model.Occurrence),
		keysByEvent: make(map[string]map[cacheKey]struct{}),
		cacheLimit:  maxCachedExpansions,
	}
}

// Watch consumes change notices until ctx is done or the feed closes,
// invalidating cached expansions for changed events. A closed channel means
// the feed disconnected us (shutdown or lagging), so notices may have been
// missed; everything cached is flushed before returning.
func (s *Service) Watch(ctx context.Context, notices <-chan feed.Notice) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case n, ok := <-notices:
			if !ok {
				appLog.Info("query: change feed closed, flushing expansion cache")
				s.flush()
				return
			}
			if n.Kind == feed.KindEvent {
				s.invalidate(n.ID)
			}
		}
	}
}

func (s *Service) invalidate(eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.keysByEvent[eventID] {
		delete(s.cache, key)
	}
	delete(s.keysByEvent, eventID)
}

// flush discards every cached expansion.
func (s *Service) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[cacheKey][]model.Occurrence)
	s.keysByEvent = make(map[string]map[cacheKey]struct{})
}

// VisibleOccurrences answers "what may this viewer see in [from, to)".
// An empty viewerID is the unauthenticated case. A store failure fails the
// whole call; per-event rule failures are logged and skipped so one bad rule
// never hides the rest. Output is ordered ascending by instance start with
// ties broken by event id.
func (s *Service) VisibleOccurrences(ctx context.Context, viewerID string, from, to time.Time) ([]model.Occurrence, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("query: window end is before window start")
	}

	events, err := s.events.Range(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	cfg := recur.Config{WindowStart: from, WindowEnd: to}

	var all []model.Occurrence
	for _, ev := range events {
		occ, ok := s.cachedExpansion(ev.ID, from, to)
		if !ok {
			var err error
			occ, err = recur.Expand(ev, cfg)
			if err != nil {
				// The expander already logged the details.
				appLog.Debug("query: skipping event with bad rule", "event_id", ev.ID)
				continue
			}
			s.storeExpansion(ev.ID, from, to, occ)
		}
		all = append(all, occ...)
	}

	sortOccurrences(all)

	resolved := s.resolver.Resolve(ctx, all, viewerID)

	if s.MoonOverlay && s.moons != nil {
		resolved = append(resolved, s.moonOccurrences(from, to)...)
		sortOccurrences(resolved)
	}

	return resolved, nil
}

// SetRSVP records a viewer's answer for one occurrence.
func (s *Service) SetRSVP(ctx context.Context, r *model.RSVP) error {
	if !r.Status.Valid() {
		return fmt.Errorf("query: unknown rsvp status %q", r.Status)
	}
	if err := s.rsvps.PutRSVP(ctx, r); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// moonOccurrences returns the synthetic overlay instances intersecting the
// window. The overlay never touches the store and is always public.
func (s *Service) moonOccurrences(from, to time.Time) []model.Occurrence {
	var out []model.Occurrence
	for year := from.Year(); year <= to.Year(); year++ {
		for _, me := range s.moons.Phases(year) {
			occ := moon.AsOccurrence(me)
			if occ.StartAt.Before(to) && occ.EndAt.After(from) {
				out = append(out, occ)
			}
		}
	}
	return out
}

func (s *Service) cachedExpansion(eventID string, from, to time.Time) ([]model.Occurrence, bool) {
	key := cacheKey{eventID: eventID, windowLo: from.UnixNano(), windowHi: to.UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()

	occ, ok := s.cache[key]
	return occ, ok
}

func (s *Service) storeExpansion(eventID string, from, to time.Time, occ []model.Occurrence) {
	key := cacheKey{eventID: eventID, windowLo: from.UnixNano(), windowHi: to.UnixNano()}

	s.mu.Lock()
	defer s.mu.Unlock()

	for victim := range s.cache {
		if len(s.cache) < s.cacheLimit {
			break
		}
		s.evictLocked(victim)
	}

	s.cache[key] = occ
	if s.keysByEvent[eventID] == nil {
		s.keysByEvent[eventID] = make(map[cacheKey]struct{})
	}
	s.keysByEvent[eventID][key] = struct{}{}
}

func (s *Service) evictLocked(key cacheKey) {
	delete(s.cache, key)
	if keys := s.keysByEvent[key.eventID]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.keysByEvent, key.eventID)
		}
	}
}

func sortOccurrences(occ []model.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		if occ[i].StartAt.Equal(occ[j].StartAt) {
			return occ[i].EventID < occ[j].EventID
		}
		return occ[i].StartAt.Before(occ[j].StartAt)
	})
}

// CacheSize reports the number of cached expansions, for logging.
func (s *Service) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}
