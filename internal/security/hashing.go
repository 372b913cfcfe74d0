package security

import (
	"errors"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned by Hash for an empty password.
var ErrEmptyPassword = errors.New("password is empty")

// Hasher hashes and checks login passwords with bcrypt.
type Hasher struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewHasher returns a Hasher with cost clamped to bcrypt's range; zero or
// negative means bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	switch {
	case cost <= 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash returns the bcrypt hash of password for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	if len(password) == 0 {
		return "", ErrEmptyPassword
	}
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare returns nil when password matches hash.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// CompareMissing spends the same bcrypt work as Compare for a user that does
// not exist, so login latency does not reveal which usernames are valid. It
// always returns bcrypt.ErrMismatchedHashAndPassword.
func (h *Hasher) CompareMissing(password []byte) error {
	h.dummyOnce.Do(func() {
		h.dummy, _ = bcrypt.GenerateFromPassword([]byte("kaldor-missing-user"), h.Cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, password)
	return bcrypt.ErrMismatchedHashAndPassword
}
