package auth

import (
	"context"
	"fmt"
	"time"

	"dormitory/internal/apperr"
)

// TokenStore persists refresh tokens so each can be redeemed once.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error
	ConsumeRefreshToken(ctx context.Context, token string) (bool, error)
}

// Sessions issues token pairs and rotates refresh tokens.
type Sessions struct {
	issuer *Issuer
	store  TokenStore
}

// NewSessions creates a Sessions.
func NewSessions(issuer *Issuer, store TokenStore) *Sessions {
	return &Sessions{issuer: issuer, store: store}
}

// Start issues a new pair for subject and records its refresh token.
func (s *Sessions) Start(ctx context.Context, subject, role string) (TokenPair, error) {
	pair, err := s.issuer.Issue(subject, role)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue token: %w", err)
	}
	if err := s.store.SaveRefreshToken(ctx, subject, pair.RefreshToken, pair.RefreshExp); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}

// Refresh redeems a refresh token for a new pair. A token that was already
// used, revoked or never stored is rejected.
func (s *Sessions) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, apperr.Unauthenticated("invalid refresh token")
	}
	live, err := s.store.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("consume refresh token: %w", err)
	}
	if !live {
		return TokenPair{}, apperr.Unauthenticated("refresh token revoked")
	}
	return s.Start(ctx, claims.Subject, claims.Role)
}
