// Package presence reconciles RFID entry/exit scans into per-visit durations
// and a "who is inside right now" roster.
package presence

import (
	"log"
	"slices"
	"time"
)

// Action is what a scan recorded at the door.
type Action string

const (
	ActionEntry Action = "entry"
	ActionExit  Action = "exit"
)

// NoDuration is rendered when an event has no meaningful duration.
const NoDuration = "-"

// entryFallbackOffset is how far before "now" an unparseable entry is placed.
const entryFallbackOffset = time.Hour

// ScanEvent is one stored RFID scan.
type ScanEvent struct {
	ID          string `json:"id,omitempty"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	Action      Action `json:"action"`
	Timestamp   string `json:"timestamp"`
	Room        string `json:"room,omitempty"`
	Building    string `json:"building,omitempty"`
}

// AnnotatedScanEvent is a ScanEvent with its computed duration.
type AnnotatedScanEvent struct {
	ScanEvent
	Duration          string `json:"duration"`
	TimestampInvalid  bool   `json:"timestamp_invalid"`
	DurationEstimated bool   `json:"duration_estimated"`
}

// PresenceRecord is the latest known state of one student.
type PresenceRecord struct {
	StudentID        string             `json:"student_id"`
	LastEvent        AnnotatedScanEvent `json:"last_event"`
	CurrentlyPresent bool               `json:"currently_present"`
}

// Reconciler computes durations and presence from scan events. The zero value
// is not usable; build one with New.
type Reconciler struct {
	now func() time.Time
	loc *time.Location
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock replaces the wall clock used for fallbacks and the year bound.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLocation sets the zone wall-clock timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(r *Reconciler) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// New creates a Reconciler using time.Now and time.Local unless overridden.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolved is an event with its parsed instant and input position.
type resolved struct {
	idx     int
	at      time.Time
	invalid bool
}

// Annotate attaches a duration to every exit event: the time since the same
// student's closest preceding entry. Output order matches the input.
func (r *Reconciler) Annotate(events []ScanEvent) []AnnotatedScanEvent {
	now := r.now()
	out := make([]AnnotatedScanEvent, len(events))
	for i, evt := range events {
		_, ok := r.parse(evt.Timestamp, now)
		out[i] = AnnotatedScanEvent{ScanEvent: evt, Duration: NoDuration, TimestampInvalid: !ok}
		if evt.StudentID == "" {
			log.Printf("presence: skipping scan %q without student id", evt.ID)
		}
	}

	_, groups := groupByStudent(events)
	for _, idxs := range groups {
		var entries, exits []resolved
		for _, i := range idxs {
			evt := events[i]
			at, ok := r.parse(evt.Timestamp, now)
			switch evt.Action {
			case ActionEntry:
				if !ok {
					at = now.Add(-entryFallbackOffset)
					log.Printf("presence: invalid entry timestamp %q for student %s, using now-1h", evt.Timestamp, evt.StudentID)
				}
				entries = append(entries, resolved{idx: i, at: at, invalid: !ok})
			case ActionExit:
				if !ok {
					at = now
					log.Printf("presence: invalid exit timestamp %q for student %s, using now", evt.Timestamp, evt.StudentID)
				}
				exits = append(exits, resolved{idx: i, at: at, invalid: !ok})
			}
		}
		if len(exits) == 0 || len(entries) == 0 {
			continue
		}

		slices.SortStableFunc(entries, func(a, b resolved) int { return a.at.Compare(b.at) })
		for _, ex := range exits {
			// first entry not strictly before the exit; the one before it matches
			pos, _ := slices.BinarySearchFunc(entries, ex.at, func(e resolved, t time.Time) int {
				if e.at.Before(t) {
					return -1
				}
				return 1
			})
			if pos == 0 {
				continue
			}
			match := entries[pos-1]
			out[ex.idx].Duration = FormatDuration(ex.at.Sub(match.at))
			out[ex.idx].DurationEstimated = out[ex.idx].Duration != NoDuration && (ex.invalid || match.invalid)
		}
	}
	return out
}

// ClassifyPresence returns one record per student holding their latest event.
// Records are ordered by each student's first appearance in events.
func (r *Reconciler) ClassifyPresence(events []ScanEvent) []PresenceRecord {
	now := r.now()
	annotated := r.Annotate(events)

	order, groups := groupByStudent(events)
	records := make([]PresenceRecord, 0, len(order))
	for _, id := range order {
		best := -1
		var bestAt time.Time
		for _, i := range groups[id] {
			at, ok := r.parse(events[i].Timestamp, now)
			if !ok {
				at = time.Time{}
			}
			// >= so the later input index wins ties
			if best < 0 || !at.Before(bestAt) {
				best, bestAt = i, at
			}
		}
		last := annotated[best]
		records = append(records, PresenceRecord{
			StudentID:        id,
			LastEvent:        last,
			CurrentlyPresent: last.Action == ActionEntry,
		})
	}
	return records
}

// groupByStudent maps student ids to input positions. Events without an id
// are left out.
func groupByStudent(events []ScanEvent) ([]string, map[string][]int) {
	var order []string
	groups := make(map[string][]int)
	for i, evt := range events {
		if evt.StudentID == "" {
			continue
		}
		if _, ok := groups[evt.StudentID]; !ok {
			order = append(order, evt.StudentID)
		}
		groups[evt.StudentID] = append(groups[evt.StudentID], i)
	}
	return order, groups
}

// Present keeps the records of students currently inside.
func Present(records []PresenceRecord) []PresenceRecord {
	return filter(records, true)
}

// Absent keeps the records of students currently out.
func Absent(records []PresenceRecord) []PresenceRecord {
	return filter(records, false)
}

func filter(records []PresenceRecord, present bool) []PresenceRecord {
	out := make([]PresenceRecord, 0, len(records))
	for _, rec := range records {
		if rec.CurrentlyPresent == present {
			out = append(out, rec)
		}
	}
	return out
}
