package domain

import (
	"errors"
	"strings"
	"time"

	iddomain "kaldor-iiot/backend/internal/identity/domain"
)

// User is an operator account that can log in to the dashboard.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Roles        []string
	Perimeter    int
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	if u.Perimeter < iddomain.PerimeterInner || u.Perimeter > iddomain.PerimeterOuter {
		return iddomain.ErrInvalidPerimeter
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// Identity returns the token principal for u.
func (u *User) Identity() iddomain.Identity {
	return iddomain.Identity{
		SubjectID:   u.ID,
		DisplayName: u.Username,
		Roles:       append([]string(nil), u.Roles...),
		Perimeter:   u.Perimeter,
	}
}
