package repository

import (
	"context"

	"kaldor-iiot/backend/internal/session/domain"
)

// Repository defines storage for login sessions.
type Repository interface {
	// Create stores s until s.ExpiresAt, replacing any previous session of s.UserID.
	Create(ctx context.Context, s *domain.Session) error
	// Get returns the session of userID, or nil if missing or expired.
	Get(ctx context.Context, userID string) (*domain.Session, error)
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error
}

// Key returns the storage key for the session of userID.
func Key(userID string) string {
	return "session:" + userID
}
