// Package moon computes the four primary lunar phases for a calendar year
// from the mean synodic month. The output is a pure function of (year, zone):
// no storage, no I/O, cacheable indefinitely. Accuracy is within a day or so
// of the true phases, which is all a calendar overlay needs.
package moon

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"tribecal/internal/model"
)

const (
	// synodicDays is the mean length of a lunation.
	synodicDays = 29.530588

	firstQuarterOffsetDays = 7.382647
	fullMoonOffsetDays     = 14.765294
	lastQuarterOffsetDays  = 22.147941

	// overscanDays keeps boundary-month moons from being dropped by
	// calendar-page edge effects.
	overscanDays = 2
)

// epoch is a reference new moon (2000-01-06 18:14 UTC).
var epoch = time.Date(2000, time.January, 6, 18, 14, 0, 0, time.UTC)

// Phases returns the moon-phase events whose civil date (in loc) falls
// within the year plus a small overscan, ordered ascending by date. Within a
// lunation the dates order New, First Quarter, Full, Last Quarter. Duplicate
// (phase, date) pairs inside the overscan are suppressed, first kept.
func Phases(year int, loc *time.Location) []model.MoonEvent {
	if loc == nil {
		loc = time.UTC
	}

	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	yearEnd := time.Date(year+1, time.January, 1, 0, 0, 0, 0, loc)

	lowBound := yearStart.AddDate(0, 0, -overscanDays)
	highBound := yearEnd.AddDate(0, 0, overscanDays)

	// Start one lunation before the year so a new moon late in December of
	// the prior year still contributes quarters in January.
	k := int64(math.Floor(yearStart.Sub(epoch).Hours()/24/synodicDays)) - 1

	type phaseOffset struct {
		phase model.MoonPhase
		days  float64
	}
	offsets := []phaseOffset{
		{model.MoonNew, 0},
		{model.MoonFirstQuarter, firstQuarterOffsetDays},
		{model.MoonFull, fullMoonOffsetDays},
		{model.MoonLastQuarter, lastQuarterOffsetDays},
	}

	var out []model.MoonEvent
	seen := make(map[string]struct{})

	for ; ; k++ {
		newMoon := epoch.Add(durationDays(float64(k) * synodicDays))
		if newMoon.After(highBound) {
			break
		}

		for _, off := range offsets {
			instant := newMoon.Add(durationDays(off.days))
			date := civilDate(instant, loc)
			if date.Before(lowBound) || date.After(highBound) {
				continue
			}
			key := string(off.phase) + date.Format("2006-01-02")
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.MoonEvent{Date: date, Phase: off.phase})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// AsOccurrence converts a moon event into a synthetic all-day occurrence.
// Synthetic occurrences are always public and never visibility-filtered.
func AsOccurrence(me model.MoonEvent) model.Occurrence {
	slug := strings.ToLower(strings.ReplaceAll(string(me.Phase), " ", "-"))
	end := me.Date.Add(24 * time.Hour)
	return model.Occurrence{
		EventID:     fmt.Sprintf("moon-%s-%s", slug, me.Date.Format("2006-01-02")),
		InstanceKey: me.Date.Format(time.RFC3339Nano),
		Title:       title(me.Phase),
		Visibility:  model.VisibilityPublic,
		AllDay:      true,
		StartAt:     me.Date,
		EndAt:       end,
		Synthetic:   true,
	}
}

func title(p model.MoonPhase) string {
	switch p {
	case model.MoonNew:
		return "New Moon"
	case model.MoonFirstQuarter:
		return "First Quarter Moon"
	case model.MoonFull:
		return "Full Moon"
	case model.MoonLastQuarter:
		return "Last Quarter Moon"
	}
	return string(p)
}

func durationDays(d float64) time.Duration {
	return time.Duration(d * 24 * float64(time.Hour))
}

func civilDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
