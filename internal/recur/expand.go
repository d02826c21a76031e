package recur

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "tribecal/internal/log"
	"tribecal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ErrInvalidRule marks a malformed recurrence rule. Use errors.Is to test
// for it on a *RuleError.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// RuleError reports that one event's recurrence rule could not be parsed.
// The event contributes zero occurrences; a malformed rule must never be
// silently downgraded to a one-off event, since that would expose the base
// instant of a pattern the owner intended to repeat (or hide the rest).
type RuleError struct {
	EventID string
	Rule    string
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("event %s: invalid recurrence rule %q: %v", e.EventID, e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

func (e *RuleError) Is(target error) bool { return target == ErrInvalidRule }

// Config controls how recurrence expansion is performed.
type Config struct {
	// WindowStart / WindowEnd define the half-open query window
	// [WindowStart, WindowEnd) that emitted occurrences must intersect.
	WindowStart time.Time
	WindowEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid extremely large
	// expansions of open-ended rules. If zero, a default is used.
	MaxOccurrencesPerEvent int
}

// Result wraps the occurrences of a multi-event expansion together with the
// per-event rule failures and truncations encountered along the way. A rule
// failure never fails the whole expansion.
type Result struct {
	Occurrences []model.Occurrence

	// RuleErrors records events whose recurrence rule failed to parse.
	RuleErrors []*RuleError

	// TruncatedEvents records event ids that hit the occurrence cap.
	TruncatedEvents []string
}

// Expand produces the concrete occurrences of a single event that intersect
// the window, ordered ascending by instance start.
//
//   - Without a rule: the single occurrence, iff the event's span intersects
//     the window.
//   - With a rule: candidate instants advance from the event's original start
//     per the rule, each keeping the original duration; generation stops at
//     the rule's UNTIL/COUNT or once candidates pass the window end.
//
// A malformed rule yields (nil, *RuleError). Output is deterministic: same
// inputs, same sequence.
func Expand(ev model.Event, cfg Config) ([]model.Occurrence, error) {
	if cfg.WindowEnd.Before(cfg.WindowStart) {
		return nil, errors.New("expand: window end is before window start")
	}

	if ev.Recurrence == "" {
		return expandSingle(ev, cfg), nil
	}

	occ, _, err := expandRecurring(ev, cfg)
	return occ, err
}

// ExpandAll expands a batch of candidate events into one window. Rule
// failures and truncations are collected into the result instead of aborting,
// so one bad event never hides the rest. The combined list is ordered
// ascending by instance start with ties broken by event id.
func ExpandAll(events []model.Event, cfg Config) Result {
	var result Result

	if cfg.WindowEnd.Before(cfg.WindowStart) {
		return result
	}

	all := make([]model.Occurrence, 0, len(events))

	for _, ev := range events {
		if ev.Recurrence == "" {
			all = append(all, expandSingle(ev, cfg)...)
			continue
		}

		occ, hitCap, err := expandRecurring(ev, cfg)
		if err != nil {
			var re *RuleError
			if errors.As(err, &re) {
				result.RuleErrors = append(result.RuleErrors, re)
			}
			continue
		}
		if hitCap {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"event_id", ev.ID,
				"cap", effectiveCap(cfg),
			)
		}
		all = append(all, occ...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartAt.Equal(all[j].StartAt) {
			return all[i].EventID < all[j].EventID
		}
		return all[i].StartAt.Before(all[j].StartAt)
	})

	result.Occurrences = all
	return result
}

func expandSingle(ev model.Event, cfg Config) []model.Occurrence {
	if !spansIntersect(ev.StartAt, ev.EndAt, cfg.WindowStart, cfg.WindowEnd) {
		return nil
	}
	return []model.Occurrence{model.NewOccurrence(ev, ev.StartAt, ev.EndAt)}
}

func expandRecurring(ev model.Event, cfg Config) ([]model.Occurrence, bool, error) {
	r, err := rrule.StrToRRule(ev.Recurrence)
	if err != nil {
		appLog.Error("expand: failed to parse rule", err, "event_id", ev.ID, "rule", ev.Recurrence)
		return nil, false, &RuleError{EventID: ev.ID, Rule: ev.Recurrence, Err: err}
	}

	r.DTStart(ev.StartAt)

	var set rrule.Set
	set.RRule(r)

	dur := ev.Duration()

	// Pull candidates from slightly before the window so instances already
	// in progress at the window start are not missed.
	searchStart := cfg.WindowStart.Add(-dur)
	if searchStart.After(cfg.WindowStart) {
		// Zero/negative duration guard.
		searchStart = cfg.WindowStart
	}

	occTimes := set.Between(searchStart.In(ev.StartAt.Location()), cfg.WindowEnd.In(ev.StartAt.Location()), true)

	hitCap := false
	if limit := effectiveCap(cfg); len(occTimes) > limit {
		occTimes = occTimes[:limit]
		hitCap = true
	}

	out := make([]model.Occurrence, 0, len(occTimes))
	seen := make(map[int64]struct{}, len(occTimes))

	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			// All-day: [date 00:00, next day 00:00) in the event's zone.
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occStart = date
			occEnd = date.Add(24 * time.Hour)
		} else {
			occEnd = occStart.Add(dur)
		}

		if !spansIntersect(occStart, occEnd, cfg.WindowStart, cfg.WindowEnd) {
			continue
		}

		// No two occurrences of one event may share a start within a window.
		key := occStart.UnixNano()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, model.NewOccurrence(ev, occStart, occEnd))
	}

	return out, hitCap, nil
}

func effectiveCap(cfg Config) int {
	if cfg.MaxOccurrencesPerEvent > 0 {
		return cfg.MaxOccurrencesPerEvent
	}
	return defaultMaxOccurrencesPerEvent
}

// spansIntersect reports whether the half-open spans [aStart, aEnd) and
// [bStart, bEnd) overlap. A zero-length span is treated as an instant.
func spansIntersect(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Equal(aStart) {
		return !aStart.Before(bStart) && aStart.Before(bEnd)
	}
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
