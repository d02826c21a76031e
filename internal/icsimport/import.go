package icsimport

import (
	"context"

	appLog "tribecal/internal/log"
	"tribecal/internal/model"
)

// EventWriter is the store slice imports are written through.
type EventWriter interface {
	Upsert(ctx context.Context, ev *model.Event) error
}

// Importer runs the fetch → parse → upsert cycle for a set of sources.
type Importer struct {
	fetcher *Fetcher
	store   EventWriter
}

func NewImporter(fetcher *Fetcher, store EventWriter) *Importer {
	return &Importer{fetcher: fetcher, store: store}
}

// Run imports all sources. Failures are per-source; one broken feed never
// blocks the others. Returns the number of events upserted.
func (i *Importer) Run(ctx context.Context, sources []Source) int {
	imported := 0

	for _, src := range sources {
		body, fromCache, err := i.fetcher.Fetch(ctx, src)
		if err != nil {
			appLog.Error("ics import: fetch failed", err, "id", src.ID)
			continue
		}
		if fromCache {
			// Unchanged feed; previous import already stored its events.
			continue
		}

		events, err := ParseEvents(src, body)
		if err != nil {
			continue
		}

		for idx := range events {
			if err := i.store.Upsert(ctx, &events[idx]); err != nil {
				appLog.Error("ics import: upsert failed", err, "id", src.ID, "event_id", events[idx].ID)
				continue
			}
			imported++
		}
	}

	if imported > 0 {
		appLog.Info("ics import completed", "imported", imported, "sources", len(sources))
	}
	return imported
}
