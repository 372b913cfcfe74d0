package security

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash([]byte("loom-floor-7"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("loom-floor-7")); err != nil {
		t.Errorf("Compare(correct) = %v", err)
	}
	if err := h.Compare(hash, []byte("loom-floor-8")); !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		t.Errorf("Compare(wrong) = %v", err)
	}
}

func TestHasher_EmptyPassword(t *testing.T) {
	if _, err := NewHasher(bcrypt.MinCost).Hash(nil); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("Hash(nil) = %v", err)
	}
}

func TestHasher_CompareMissing(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	for _, pw := range []string{"", "kaldor-missing-user", "anything"} {
		if err := h.CompareMissing([]byte(pw)); !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			t.Errorf("CompareMissing(%q) = %v", pw, err)
		}
	}
}

func TestNewHasher_ClampsCost(t *testing.T) {
	for _, tc := range []struct{ in, want int }{
		{0, bcrypt.DefaultCost},
		{-1, bcrypt.DefaultCost},
		{2, bcrypt.MinCost},
		{12, 12},
		{99, bcrypt.MaxCost},
	} {
		if got := NewHasher(tc.in).Cost; got != tc.want {
			t.Errorf("NewHasher(%d).Cost = %d, want %d", tc.in, got, tc.want)
		}
	}
}
