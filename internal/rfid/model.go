package rfid

import (
	"time"

	"dormitory/internal/presence"
)

// Event is one stored scan. Timestamp is the wall-clock string shown to
// staff; RecordedAt is when the row was written.
type Event struct {
	ID          string          `json:"id"`
	StudentID   string          `json:"student_id"`
	StudentName string          `json:"student_name"`
	CardID      string          `json:"card_id"`
	Action      presence.Action `json:"action"`
	Timestamp   string          `json:"timestamp"`
	Room        string          `json:"room,omitempty"`
	Building    string          `json:"building,omitempty"`
	DeviceID    string          `json:"device_id,omitempty"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

// ScanEvent is the reconciler's view of the event.
func (e Event) ScanEvent() presence.ScanEvent {
	return presence.ScanEvent{
		ID:          e.ID,
		StudentID:   e.StudentID,
		StudentName: e.StudentName,
		Action:      e.Action,
		Timestamp:   e.Timestamp,
		Room:        e.Room,
		Building:    e.Building,
	}
}

// CardHolder is the user an RFID card belongs to, with their assigned room.
type CardHolder struct {
	UserID   string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Room     string `json:"room,omitempty"`
	Building string `json:"building,omitempty"`
}

// Location is a room number and the dormitory building it belongs to.
type Location struct {
	Room     string
	Building string
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	StudentID string
	Action    presence.Action
	Limit     int
	Offset    int
}

// ScanResult is returned by the scan endpoint.
type ScanResult struct {
	User      CardHolder `json:"user"`
	Event     Event      `json:"event"`
	Duplicate bool       `json:"duplicate"`
}

// Activity is one activity_history entry.
type Activity struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	Description string    `json:"description"`
	RefID       string    `json:"ref_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

const (
	DefaultLimit   = 200
	MaxLimit       = 1000
	PresenceWindow = 5000
)
