package model

import "time"

// Visibility is the access tier of an event.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityFriends   Visibility = "friends"
	VisibilityPrivate   Visibility = "private"
	VisibilityCommunity Visibility = "community"
)

// Valid reports whether v is one of the four known tiers.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFriends, VisibilityPrivate, VisibilityCommunity:
		return true
	}
	return false
}

// Event represents a logical calendar event before recurrence expansion.
// Events are never hard-deleted on the common path; cancellation sets a flag
// plus reason so that issued occurrences stay referentially stable.
type Event struct {
	ID string

	Title       string
	Description string

	OwnerID     string
	Visibility  Visibility
	CommunityID string // required iff Visibility == VisibilityCommunity

	// Recurrence is an RFC-5545 RRULE string ("FREQ=WEEKLY;COUNT=5"), or
	// empty for a one-off event.
	Recurrence string

	// Original start/end. End must not precede Start; enforced at write time.
	StartAt time.Time
	EndAt   time.Time

	AllDay bool

	// Optional geocoordinate.
	Lat *float64
	Lng *float64

	// Kind is an optional event-kind tag ("meditation", "gathering", ...).
	Kind string

	Cancelled    bool
	CancelReason string

	CreatedAt time.Time
}

// Duration returns the span of a single instance of the event.
func (e Event) Duration() time.Duration {
	return e.EndAt.Sub(e.StartAt)
}

// Occurrence represents a single concrete instance of an event after
// recurrence expansion. It carries a copy of the parent event's display
// attributes so consumers never need a second lookup.
type Occurrence struct {
	EventID string

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the instance start time.
	InstanceKey string

	Title       string
	Description string

	OwnerID     string
	Visibility  Visibility
	CommunityID string

	AllDay bool

	StartAt time.Time
	EndAt   time.Time

	Cancelled    bool
	CancelReason string

	// Synthetic marks derived occurrences (moon overlay) that have no
	// backing event row.
	Synthetic bool
}

// NewOccurrence builds an occurrence for one instance of ev.
func NewOccurrence(ev Event, start, end time.Time) Occurrence {
	return Occurrence{
		EventID:      ev.ID,
		InstanceKey:  start.Format(time.RFC3339Nano),
		Title:        ev.Title,
		Description:  ev.Description,
		OwnerID:      ev.OwnerID,
		Visibility:   ev.Visibility,
		CommunityID:  ev.CommunityID,
		AllDay:       ev.AllDay,
		StartAt:      start,
		EndAt:        end,
		Cancelled:    ev.Cancelled,
		CancelReason: ev.CancelReason,
	}
}

// RSVPStatus is a viewer's answer for one occurrence.
type RSVPStatus string

const (
	RSVPYes        RSVPStatus = "yes"
	RSVPNo         RSVPStatus = "no"
	RSVPMaybe      RSVPStatus = "maybe"
	RSVPInterested RSVPStatus = "interested"
)

// Valid reports whether s is a known RSVP status.
func (s RSVPStatus) Valid() bool {
	switch s {
	case RSVPYes, RSVPNo, RSVPMaybe, RSVPInterested:
		return true
	}
	return false
}

// RSVP is one user's answer for one occurrence of an event. One row per
// (user, event, instance key); last write wins on status and flags.
type RSVP struct {
	EventID     string
	InstanceKey string
	UserID      string

	Status    RSVPStatus
	Pinned    bool
	Shareable bool

	UpdatedAt time.Time
}

// SessionInterval is one continuous presence window for a subject, e.g. an
// active meditation session. EndedAt is zero while the interval is open.
type SessionInterval struct {
	ID        string
	SubjectID string

	StartedAt time.Time
	EndedAt   time.Time
}

// Open reports whether the interval has not been closed yet.
func (s SessionInterval) Open() bool {
	return s.EndedAt.IsZero()
}

// MoonPhase labels the four primary lunar phases.
type MoonPhase string

const (
	MoonNew          MoonPhase = "New"
	MoonFirstQuarter MoonPhase = "First Quarter"
	MoonFull         MoonPhase = "Full"
	MoonLastQuarter  MoonPhase = "Last Quarter"
)

// MoonEvent is a derived, never-persisted moon-phase marker. Always public
// and all-day.
type MoonEvent struct {
	// Date is midnight of the civil day in the configured display zone.
	Date  time.Time
	Phase MoonPhase
}
