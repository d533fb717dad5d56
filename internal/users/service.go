package users

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"dormitory/internal/apperr"
)

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	Insert(ctx context.Context, u User) (User, error)
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// Service manages dormitory accounts.
type Service struct {
	store Store
	cost  int
}

// NewService creates a service hashing passwords at bcrypt.DefaultCost.
func NewService(store Store) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// Create validates req and stores a new user.
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	switch {
	case req.Name == "":
		return User{}, apperr.Invalid("name is required")
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return User{}, apperr.Invalid("valid email is required")
	case len(req.Password) < minPasswordLen:
		return User{}, apperr.Invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	case !roles[req.Role]:
		return User{}, apperr.Invalid("role must be admin, manager or student")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.store.Insert(ctx, User{
		Name:         req.Name,
		Email:        req.Email,
		Role:         req.Role,
		RFIDCard:     blankToNil(req.RFIDCard),
		RoomID:       blankToNil(req.RoomID),
		PasswordHash: string(hash),
	})
	switch {
	case errors.Is(err, ErrDuplicate):
		return User{}, apperr.Conflict("email or rfid card already registered")
	case errors.Is(err, ErrUnknownRoom):
		return User{}, apperr.NotFound("room not found")
	case err != nil:
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// Get returns the user with the given id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return User{}, apperr.NotFound("user not found")
	}
	return *u, nil
}

// Authenticate checks an email/password pair. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	u, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, apperr.Unauthenticated("invalid email or password")
	}
	return *u, nil
}

// EnsureAdmin creates an admin account with the given credentials unless the
// email is already taken. Empty credentials are a no-op.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	existing, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return fmt.Errorf("lookup admin: %w", err)
	}
	if existing != nil {
		return nil
	}
	_, err = s.Create(ctx, CreateUserRequest{Name: "Administrator", Email: email, Password: password, Role: "admin"})
	if apperr.Is(err, apperr.CodeConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Printf("seeded admin account %s", normalizeEmail(email))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
