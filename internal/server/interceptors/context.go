package interceptors

import (
	"context"

	"kaldor-iiot/backend/internal/identity/domain"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the verified identity.
// Handlers read it back via GetIdentity or GetSubjectID.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the identity from context and true if set; otherwise zero, false.
func GetIdentity(ctx context.Context) (domain.Identity, bool) {
	v, ok := ctx.Value(identityKey).(domain.Identity)
	return v, ok
}

// GetSubjectID returns the identity's subject from context and true if set; otherwise "", false.
func GetSubjectID(ctx context.Context) (string, bool) {
	id, ok := GetIdentity(ctx)
	if !ok || id.SubjectID == "" {
		return "", false
	}
	return id.SubjectID, true
}
