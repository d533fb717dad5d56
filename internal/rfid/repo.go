package rfid

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dormitory/internal/presence"
)

// Repository persists scans in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `id, student_id, student_name, card_id, action, timestamp, room, building, device_id, recorded_at`

// UpsertDevice ensures an RFID reader record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO NOTHING
	`, deviceID)
	return err
}

// CardHolder resolves a card to its user. It returns nil, nil for unknown cards.
func (r *Repository) CardHolder(ctx context.Context, cardID string) (*CardHolder, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.role, COALESCE(rm.number, ''), COALESCE(d.name, '')
		FROM users u
		LEFT JOIN rooms rm ON rm.id = u.room_id
		LEFT JOIN dormitories d ON d.id = rm.dormitory_id
		WHERE u.rfid_card = $1
	`, cardID)
	var h CardHolder
	if err := row.Scan(&h.UserID, &h.Name, &h.Role, &h.Room, &h.Building); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

// RoomLocation returns the room number and building for a room id, or nil, nil.
func (r *Repository) RoomLocation(ctx context.Context, roomID string) (*Location, error) {
	if _, err := uuid.Parse(roomID); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT rm.number, d.name
		FROM rooms rm
		JOIN dormitories d ON d.id = rm.dormitory_id
		WHERE rm.id = $1
	`, roomID)
	var loc Location
	if err := row.Scan(&loc.Room, &loc.Building); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &loc, nil
}

// LatestEvent returns the user's most recently recorded scan, or nil, nil.
func (r *Repository) LatestEvent(ctx context.Context, studentID string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM rfid_logs
		WHERE student_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1
	`, studentID)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// InsertEvent appends a scan.
func (r *Repository) InsertEvent(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.RecordedAt.IsZero() {
		evt.RecordedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO rfid_logs (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, evt.ID, evt.StudentID, evt.StudentName, evt.CardID, string(evt.Action), evt.Timestamp,
		evt.Room, evt.Building, evt.DeviceID, evt.RecordedAt)
	if err != nil {
		return Event{}, err
	}
	return evt, nil
}

// GetEvent returns a single scan by id, or nil, nil.
func (r *Repository) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM rfid_logs WHERE id = $1`, id)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &evt, nil
}

// ListEvents returns scans newest first.
func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	var (
		clauses []string
		args    []any
	)
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		clauses = append(clauses, "student_id = $"+strconv.Itoa(len(args)))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		clauses = append(clauses, "action = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM rfid_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += " ORDER BY recorded_at DESC, id DESC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EntriesFor returns the students' entries recorded in [from, to] plus each
// student's last entry before from.
func (r *Repository) EntriesFor(ctx context.Context, studentIDs []string, from, to time.Time) ([]Event, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM rfid_logs
		WHERE student_id = ANY($1::text[]::uuid[]) AND action = $2 AND recorded_at >= $3 AND recorded_at <= $4
		UNION ALL
		(SELECT DISTINCT ON (student_id) `+eventColumns+`
		FROM rfid_logs
		WHERE student_id = ANY($1::text[]::uuid[]) AND action = $2 AND recorded_at < $3
		ORDER BY student_id, recorded_at DESC)
	`, studentIDs, string(presence.ActionEntry), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// InsertActivity writes an activity_history entry once per (kind, ref id).
func (r *Repository) InsertActivity(ctx context.Context, a Activity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_history (id, user_id, kind, description, ref_id, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT DO NOTHING
	`, a.ID, a.UserID, a.Kind, a.Description, a.RefID, a.OccurredAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var (
		evt    Event
		action string
	)
	err := row.Scan(&evt.ID, &evt.StudentID, &evt.StudentName, &evt.CardID, &action, &evt.Timestamp,
		&evt.Room, &evt.Building, &evt.DeviceID, &evt.RecordedAt)
	evt.Action = presence.Action(action)
	return evt, err
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	var res []Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
