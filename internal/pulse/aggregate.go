// Package pulse turns ephemeral session intervals into the rolling 24-hour
// occupancy signal shown as the "tribe pulse": coarse bucketed concurrency,
// not a precise headcount.
package pulse

import (
	"context"
	"errors"
	"time"

	appLog "tribecal/internal/log"
	"tribecal/internal/model"
)

const (
	// Window is the sliding aggregation window ending at now.
	Window = 24 * time.Hour

	// BucketWidth is the fixed bucket size. Precision finer than this is
	// not a goal; any partial overlap counts the whole bucket.
	BucketWidth = 15 * time.Minute

	// BucketCount is Window / BucketWidth.
	BucketCount = 96
)

// Stats is one recomputed pulse snapshot.
type Stats struct {
	// BucketCounts holds one occupancy count per bucket, oldest first.
	BucketCounts []int

	// CoveragePercent is the percentage of buckets with count > 0.
	CoveragePercent int

	// ConcurrentNow is the count of the most recent bucket, a
	// bucket-granular approximation of "active right now".
	ConcurrentNow int
}

// Aggregate buckets the given intervals into the 24h window ending at now.
//
// Intervals still open (zero EndedAt) are treated as running through now.
// Intervals fully outside the window are ignored outright rather than
// clipped to zero length, so they cannot produce phantom edge increments.
// Intervals with end before start are data errors and are dropped.
func Aggregate(intervals []model.SessionInterval, now time.Time) Stats {
	counts := make([]int, BucketCount)
	windowStart := now.Add(-Window)

	for _, iv := range intervals {
		a := iv.StartedAt
		b := iv.EndedAt
		if b.IsZero() {
			b = now
		}
		if b.Before(a) {
			appLog.Error("pulse: dropping interval with end before start",
				errors.New("negative interval span"),
				"interval_id", iv.ID, "subject", iv.SubjectID)
			continue
		}

		// Fully outside the window.
		if !b.After(windowStart) || !a.Before(now) {
			continue
		}

		// Clip to the window.
		if a.Before(windowStart) {
			a = windowStart
		}
		if b.After(now) {
			b = now
		}
		if !b.After(a) {
			continue
		}

		lo := int(a.Sub(windowStart) / BucketWidth)
		hi := int((b.Sub(windowStart) - time.Nanosecond) / BucketWidth)
		if lo < 0 {
			lo = 0
		}
		if hi >= BucketCount {
			hi = BucketCount - 1
		}
		for i := lo; i <= hi; i++ {
			counts[i]++
		}
	}

	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}

	return Stats{
		BucketCounts:    counts,
		CoveragePercent: nonZero * 100 / BucketCount,
		ConcurrentNow:   counts[BucketCount-1],
	}
}

// IntervalSource is the read side of the session store the aggregator needs.
type IntervalSource interface {
	IntervalsSince(ctx context.Context, since time.Time) ([]model.SessionInterval, error)
}

// Snapshot reads the last 24h of intervals and aggregates them.
func Snapshot(ctx context.Context, src IntervalSource, now time.Time) (Stats, error) {
	intervals, err := src.IntervalsSince(ctx, now.Add(-Window))
	if err != nil {
		return Stats{}, err
	}
	return Aggregate(intervals, now), nil
}
