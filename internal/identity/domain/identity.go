package domain

import (
	"errors"
	"slices"
)

// Perimeter bounds. Lower values are more trusted.
const (
	PerimeterInner  = 1
	PerimeterMiddle = 2
	PerimeterOuter  = 3
)

// Well-known roles used by the device-control routes and the seed command.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	ErrMissingSubject   = errors.New("identity subject is required")
	ErrInvalidPerimeter = errors.New("identity perimeter must be between 1 and 3")
)

// Identity is the authenticated principal carried inside a session token.
// It is never mutated after issue; a new login produces a new Identity.
type Identity struct {
	SubjectID   string   `json:"id"`
	DisplayName string   `json:"username"`
	Roles       []string `json:"roles"`
	Perimeter   int      `json:"perimeter"`
}

// Validate reports the first reason id cannot be embedded in a token.
func (id Identity) Validate() error {
	if id.SubjectID == "" {
		return ErrMissingSubject
	}
	if id.Perimeter < PerimeterInner || id.Perimeter > PerimeterOuter {
		return ErrInvalidPerimeter
	}
	return nil
}

// HasAnyRole reports whether id holds at least one of roles.
func (id Identity) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if slices.Contains(id.Roles, r) {
			return true
		}
	}
	return false
}

// WithinPerimeter reports whether id is at least as trusted as max.
func (id Identity) WithinPerimeter(max int) bool {
	return id.Perimeter <= max
}
