package icsimport

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "tribecal/internal/log"
	"tribecal/internal/model"
)

// ParseEvents parses one ICS payload into store-ready events. Imported
// events are public, owned by the subscription's configured owner, and keep
// their RRULE text verbatim for read-time expansion. Broken VEVENTs are
// skipped individually.
func ParseEvents(src Source, body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]model.Event, 0)

	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(src, ve)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (model.Event, error) {
	var out model.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}

	// Deterministic id so re-imports upsert the same row.
	out.ID = fmt.Sprintf("ics-%s-%s", src.ID, uidProp.Value)
	out.OwnerID = src.OwnerID
	out.Visibility = model.VisibilityPublic
	out.Kind = "imported"

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	start, _ := ve.GetStartAt()
	end, _ := ve.GetEndAt()
	if start.IsZero() {
		return out, errors.New("missing DTSTART")
	}

	// Detect all-day: VALUE=DATE or a date-only DTSTART value.
	allDay := false
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				allDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			allDay = true
		}
	}
	out.AllDay = allDay

	if allDay {
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		if end.IsZero() || !end.After(start) {
			end = start.Add(24 * time.Hour)
		}
	} else if end.IsZero() {
		end = start
	}
	if end.Before(start) {
		return out, fmt.Errorf("DTEND %s precedes DTSTART %s", end, start)
	}

	out.StartAt = start
	out.EndAt = end

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.Recurrence = rruleProp.Value
	}

	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		out.Cancelled = true
	}

	return out, nil
}
