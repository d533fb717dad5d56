package users

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicate is returned when a unique column already holds the value.
var ErrDuplicate = errors.New("duplicate user")

// ErrUnknownRoom is returned when room_id does not reference a room.
var ErrUnknownRoom = errors.New("unknown room")

// Repository persists users in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, name, email, role, rfid_card, room_id, password_hash, created_at`

// Insert stores a new user, assigning its id and creation time.
func (r *Repository) Insert(ctx context.Context, u User) (User, error) {
	if u.RoomID != nil {
		if _, err := uuid.Parse(*u.RoomID); err != nil {
			return User{}, ErrUnknownRoom
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Name, u.Email, u.Role, u.RFIDCard, u.RoomID, u.PasswordHash, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return User{}, ErrDuplicate
			case "23503":
				return User{}, ErrUnknownRoom
			}
		}
		return User{}, err
	}
	return u, nil
}

// Get returns a user by id, or nil, nil.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns a user by normalised email, or nil, nil.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (*User, error) {
	var (
		u      User
		roomID sql.NullString
		card   sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Name, &u.Email, &u.Role, &card, &roomID, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if card.Valid {
		u.RFIDCard = &card.String
	}
	if roomID.Valid {
		u.RoomID = &roomID.String
	}
	return &u, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, subject, expires_at)
		VALUES ($1, $2, $3)
	`, token, subject, expiresAt)
	return err
}

// ConsumeRefreshToken revokes a live token and reports whether it was live.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > NOW()
	`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
