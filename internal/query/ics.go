package query

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"tribecal/internal/model"
)

// ExportICS serializes an already-resolved occurrence list as an iCalendar
// document, one VEVENT per occurrence. The caller is responsible for having
// run visibility resolution first; this function exports exactly what it is
// given.
func ExportICS(occurrences []model.Occurrence) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//tribecal//calendar export//EN")

	for _, occ := range occurrences {
		uid := occ.EventID
		if occ.InstanceKey != "" && !occ.Synthetic {
			uid = fmt.Sprintf("%s/%s", occ.EventID, occ.InstanceKey)
		}

		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(time.Now().UTC())
		ev.SetSummary(occ.Title)
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}

		if occ.AllDay {
			ev.SetAllDayStartAt(occ.StartAt)
			ev.SetAllDayEndAt(occ.EndAt)
		} else {
			ev.SetStartAt(occ.StartAt)
			ev.SetEndAt(occ.EndAt)
		}

		if occ.Cancelled {
			ev.SetStatus(ical.ObjectStatusCancelled)
		}
	}

	return []byte(cal.Serialize()), nil
}
