package rfid

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"dormitory/internal/apperr"
	"dormitory/internal/metrics"
	"dormitory/internal/presence"
	"dormitory/internal/queue"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	UpsertDevice(ctx context.Context, deviceID string) error
	CardHolder(ctx context.Context, cardID string) (*CardHolder, error)
	RoomLocation(ctx context.Context, roomID string) (*Location, error)
	LatestEvent(ctx context.Context, studentID string) (*Event, error)
	InsertEvent(ctx context.Context, evt Event) (Event, error)
	GetEvent(ctx context.Context, id string) (*Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
	EntriesFor(ctx context.Context, studentIDs []string, from, to time.Time) ([]Event, error)
	InsertActivity(ctx context.Context, a Activity) error
}

// Publisher announces stored scans to the worker.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service handles RFID scans and the log/presence views built on them.
type Service struct {
	store      Store
	pub        Publisher
	reconciler *presence.Reconciler
	debounce   time.Duration
	loc        *time.Location
	now        func() time.Time
}

// NewService creates a service. Timestamps are written and read in loc; a
// zero debounce disables duplicate-read suppression.
func NewService(store Store, pub Publisher, debounce time.Duration, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{store: store, pub: pub, debounce: debounce, loc: loc, now: time.Now}
	s.reconciler = presence.New(presence.WithClock(s.clock), presence.WithLocation(loc))
	return s
}

func (s *Service) clock() time.Time { return s.now() }

// RegisterDevice records an RFID reader.
func (s *Service) RegisterDevice(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return apperr.Invalid("device id required")
	}
	return s.store.UpsertDevice(ctx, deviceID)
}

// Scan records a card read. The action toggles the holder's last one; a
// repeated read inside the debounce window returns the previous event.
func (s *Service) Scan(ctx context.Context, cardID, roomID, deviceID string) (ScanResult, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return ScanResult{}, apperr.Invalid("card_id is required")
	}

	holder, err := s.store.CardHolder(ctx, cardID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("resolve card: %w", err)
	}
	if holder == nil {
		return ScanResult{}, apperr.NotFound("card not registered")
	}

	now := s.now()
	last, err := s.store.LatestEvent(ctx, holder.UserID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("latest event: %w", err)
	}
	if last != nil && s.debounce > 0 && now.Sub(last.RecordedAt) < s.debounce {
		metrics.ScansDebounced.Inc()
		return ScanResult{User: *holder, Event: *last, Duplicate: true}, nil
	}

	action := presence.ActionEntry
	if last != nil && last.Action == presence.ActionEntry {
		action = presence.ActionExit
	}

	room, building := holder.Room, holder.Building
	if roomID = strings.TrimSpace(roomID); roomID != "" {
		loc, err := s.store.RoomLocation(ctx, roomID)
		if err != nil {
			return ScanResult{}, fmt.Errorf("resolve room: %w", err)
		}
		if loc == nil {
			return ScanResult{}, apperr.NotFound("room not found")
		}
		room, building = loc.Room, loc.Building
	}

	evt, err := s.store.InsertEvent(ctx, Event{
		StudentID:   holder.UserID,
		StudentName: holder.Name,
		CardID:      cardID,
		Action:      action,
		Timestamp:   now.In(s.loc).Format(presence.Layout),
		Room:        room,
		Building:    building,
		DeviceID:    deviceID,
		RecordedAt:  now.UTC(),
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("insert event: %w", err)
	}
	metrics.ScansTotal.WithLabelValues(string(action)).Inc()

	if s.pub != nil {
		if err := s.pub.Publish(ctx, queue.Scan(evt.ID)); err != nil {
			log.Printf("queue publish for scan %s failed: %v", evt.ID, err)
		}
	}
	return ScanResult{User: *holder, Event: evt}, nil
}

// ListEvents returns stored scans matching f, newest first.
func (s *Service) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	switch f.Action {
	case "", presence.ActionEntry, presence.ActionExit:
	default:
		return nil, apperr.Invalid("action must be entry or exit")
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.StudentID != "" {
		if _, err := uuid.Parse(f.StudentID); err != nil {
			return []Event{}, nil
		}
	}
	events, err := s.store.ListEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Logs returns a page of scans with durations. The exiting students' entries
// are loaded separately so exits still find a match when the entry is on an
// older page or filtered out.
func (s *Service) Logs(ctx context.Context, f EventFilter) ([]presence.AnnotatedScanEvent, error) {
	page, err := s.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return []presence.AnnotatedScanEvent{}, nil
	}

	oldest, newest := page[0].RecordedAt, page[0].RecordedAt
	seen := make(map[string]bool)
	var students []string
	for _, evt := range page {
		if evt.RecordedAt.Before(oldest) {
			oldest = evt.RecordedAt
		}
		if evt.RecordedAt.After(newest) {
			newest = evt.RecordedAt
		}
		if evt.Action == presence.ActionExit && !seen[evt.StudentID] {
			seen[evt.StudentID] = true
			students = append(students, evt.StudentID)
		}
	}
	entries, err := s.store.EntriesFor(ctx, students, oldest, newest)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	// page first; entries that duplicate page rows do not change any match
	events := make([]presence.ScanEvent, 0, len(page)+len(entries))
	for _, evt := range page {
		events = append(events, evt.ScanEvent())
	}
	for _, evt := range entries {
		events = append(events, evt.ScanEvent())
	}
	annotated := s.reconciler.Annotate(events)[:len(page)]
	countFallbacks(annotated)
	return annotated, nil
}

// Presence classifies every student seen in the most recent scans. state
// may be "in", "out" or empty for everyone.
func (s *Service) Presence(ctx context.Context, state string) ([]presence.PresenceRecord, error) {
	var keep func([]presence.PresenceRecord) []presence.PresenceRecord
	switch state {
	case "":
	case "in":
		keep = presence.Present
	case "out":
		keep = presence.Absent
	default:
		return nil, apperr.Invalid("state must be in or out")
	}

	events, err := s.store.ListEvents(ctx, EventFilter{Limit: PresenceWindow})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	// oldest first, so a same-second tie goes to the row recorded last
	scans := make([]presence.ScanEvent, len(events))
	for i, evt := range events {
		scans[len(events)-1-i] = evt.ScanEvent()
	}
	records := s.reconciler.ClassifyPresence(scans)
	if keep != nil {
		records = keep(records)
	}
	return records, nil
}

// Summary returns the in/out headcount.
func (s *Service) Summary(ctx context.Context) (presence.Summary, error) {
	records, err := s.Presence(ctx, "")
	if err != nil {
		return presence.Summary{}, err
	}
	return presence.Summarize(records), nil
}

// RecordActivity writes the activity_history entry for a stored scan. It is
// safe to call more than once for the same event.
func (s *Service) RecordActivity(ctx context.Context, eventID string) error {
	evt, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("get event %s: %w", eventID, err)
	}
	if evt == nil {
		return apperr.NotFound("event " + eventID + " not found")
	}
	return s.store.InsertActivity(ctx, Activity{
		ID:          ulid.Make().String(),
		UserID:      evt.StudentID,
		Kind:        "rfid_" + string(evt.Action),
		Description: describe(*evt),
		RefID:       evt.ID,
		OccurredAt:  evt.RecordedAt,
	})
}

func describe(evt Event) string {
	verb := "Entered"
	if evt.Action == presence.ActionExit {
		verb = "Left"
	}
	switch {
	case evt.Building != "" && evt.Room != "":
		return fmt.Sprintf("%s %s, room %s", verb, evt.Building, evt.Room)
	case evt.Building != "":
		return fmt.Sprintf("%s %s", verb, evt.Building)
	case evt.Room != "":
		return fmt.Sprintf("%s room %s", verb, evt.Room)
	default:
		return verb + " the dormitory"
	}
}

func countFallbacks(events []presence.AnnotatedScanEvent) {
	for _, evt := range events {
		if evt.TimestampInvalid {
			metrics.FallbackTimestamps.Inc()
		}
	}
}
