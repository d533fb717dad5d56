package users

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"dormitory/internal/apperr"
)

type fakeStore struct {
	byID      map[string]User
	insertErr error
	getErr    error
	next      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]User{}}
}

func (f *fakeStore) Insert(_ context.Context, u User) (User, error) {
	if f.insertErr != nil {
		return User{}, f.insertErr
	}
	for _, existing := range f.byID {
		if existing.Email == u.Email {
			return User{}, ErrDuplicate
		}
		if u.RFIDCard != nil && existing.RFIDCard != nil && *u.RFIDCard == *existing.RFIDCard {
			return User{}, ErrDuplicate
		}
	}
	f.next++
	u.ID = string(rune('a' + f.next))
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) GetByEmail(_ context.Context, email string) (*User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.byID {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func newTestService(store Store) *Service {
	s := NewService(store)
	s.cost = bcrypt.MinCost
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateValidation(t *testing.T) {
	valid := CreateUserRequest{Name: "Alice", Email: "alice@example.com", Password: "password1", Role: "student"}
	tests := []struct {
		name   string
		mutate func(*CreateUserRequest)
	}{
		{name: "blank name", mutate: func(r *CreateUserRequest) { r.Name = "  " }},
		{name: "bad email", mutate: func(r *CreateUserRequest) { r.Email = "alice" }},
		{name: "short password", mutate: func(r *CreateUserRequest) { r.Password = "short" }},
		{name: "unknown role", mutate: func(r *CreateUserRequest) { r.Role = "janitor" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := newTestService(newFakeStore()).Create(context.Background(), req)
			if !apperr.Is(err, apperr.CodeInvalidArgument) {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}
}

func TestCreateNormalisesAndHashes(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	u, err := svc.Create(context.Background(), CreateUserRequest{
		Name: " Alice ", Email: " Alice@Example.COM ", Password: "password1", Role: "Student",
		RFIDCard: strPtr("CARD-A"), RoomID: strPtr(" "),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Email != "alice@example.com" || u.Name != "Alice" || u.Role != "student" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.RoomID != nil {
		t.Fatalf("blank room id should be dropped, got %q", *u.RoomID)
	}
	if u.PasswordHash == "password1" {
		t.Fatal("password stored in clear text")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("password1")); err != nil {
		t.Fatalf("hash does not match: %v", err)
	}
}

func TestCreateConflicts(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateUserRequest{Name: "A", Email: "a@x.io", Password: "password1", Role: "student", RFIDCard: strPtr("C1")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cases := []CreateUserRequest{
		{Name: "B", Email: "A@x.io", Password: "password1", Role: "student"},
		{Name: "B", Email: "b@x.io", Password: "password1", Role: "student", RFIDCard: strPtr("C1")},
	}
	for _, req := range cases {
		if _, err := svc.Create(ctx, req); !apperr.Is(err, apperr.CodeConflict) {
			t.Fatalf("expected conflict for %+v, got %v", req, err)
		}
	}
}

func TestCreateUnknownRoom(t *testing.T) {
	store := newFakeStore()
	store.insertErr = ErrUnknownRoom
	_, err := newTestService(store).Create(context.Background(), CreateUserRequest{
		Name: "A", Email: "a@x.io", Password: "password1", Role: "student", RoomID: strPtr("r1"),
	})
	if !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGet(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	created, _ := svc.Create(context.Background(), CreateUserRequest{Name: "A", Email: "a@x.io", Password: "password1", Role: "manager"})

	got, err := svc.Get(context.Background(), created.ID)
	if err != nil || got.Email != "a@x.io" {
		t.Fatalf("get = %+v, %v", got, err)
	}
	if _, err := svc.Get(context.Background(), "missing"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	store.getErr = errors.New("db down")
	if _, err := svc.Get(context.Background(), created.ID); err == nil || apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	svc := newTestService(newFakeStore())
	ctx := context.Background()
	if _, err := svc.Create(ctx, CreateUserRequest{Name: "A", Email: "a@x.io", Password: "password1", Role: "student"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if u, err := svc.Authenticate(ctx, " A@X.io", "password1"); err != nil || u.Role != "student" {
		t.Fatalf("authenticate = %+v, %v", u, err)
	}
	if _, err := svc.Authenticate(ctx, "a@x.io", "wrong-pass"); !apperr.Is(err, apperr.CodeUnauthenticated) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@x.io", "password1"); !apperr.Is(err, apperr.CodeUnauthenticated) {
		t.Fatalf("unknown email: %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if err := svc.EnsureAdmin(ctx, "", ""); err != nil || len(store.byID) != 0 {
		t.Fatalf("empty credentials should be a no-op: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "Root@x.io", "password1"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if err := svc.EnsureAdmin(ctx, "root@x.io", "other-password"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(store.byID) != 1 {
		t.Fatalf("expected one admin, got %d users", len(store.byID))
	}
	u, err := svc.Authenticate(ctx, "root@x.io", "password1")
	if err != nil || u.Role != "admin" {
		t.Fatalf("admin login = %+v, %v", u, err)
	}
}
