package repository

import (
	"context"
	"testing"
	"time"

	"kaldor-iiot/backend/internal/audit/domain"
)

func TestMemoryRepository_ListByResource(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"LOOM-1", "LOOM-2", "LOOM-1", "LOOM-1"} {
		_ = r.Create(ctx, &domain.AuditLog{
			ID:         string(rune('a' + i)),
			Resource:   "entity",
			ResourceID: id,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := r.ListByResource(ctx, "entity", "LOOM-1", 2)
	if err != nil {
		t.Fatalf("ListByResource: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "d" || got[1].ID != "c" {
		t.Errorf("order = %s,%s, want newest first d,c", got[0].ID, got[1].ID)
	}
}
