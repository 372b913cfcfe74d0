package repository

import (
	"context"
	"errors"
	"testing"

	"kaldor-iiot/backend/internal/user/domain"
)

func TestMemoryRepository(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	u := &domain.User{ID: "u1", Username: "operator", PasswordHash: "h", Roles: []string{"operator"}, Perimeter: 2}

	if err := r.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(ctx, &domain.User{ID: "u2", Username: "operator"}); !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("duplicate Create err = %v, want ErrDuplicateUsername", err)
	}

	got, err := r.GetByUsername(ctx, "operator")
	if err != nil || got == nil || got.ID != "u1" {
		t.Fatalf("GetByUsername = %+v, %v", got, err)
	}
	got.Roles[0] = "admin"
	again, _ := r.GetByID(ctx, "u1")
	if again.Roles[0] != "operator" {
		t.Error("stored roles mutated through returned user")
	}

	if missing, err := r.GetByUsername(ctx, "nobody"); missing != nil || err != nil {
		t.Errorf("GetByUsername(nobody) = %v, %v; want nil, nil", missing, err)
	}
}
