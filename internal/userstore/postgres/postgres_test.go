package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dua-ia/dua-credits/internal/userstore"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DUA_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("DUA_TEST_DATABASE_DSN not set")
	}
	s, err := New(dsn, 4, 2)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		t.Skipf("postgres unreachable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureRoleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	email := "pg-" + uuid.NewString()[:8] + "@dua.ia"

	u, err := s.EnsureUser(ctx, email, "PG")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	promoted, err := s.EnsureRole(ctx, email, userstore.RoleAdmin)
	if err != nil {
		t.Fatalf("EnsureRole: %v", err)
	}
	if promoted.ID != u.ID || promoted.Role != userstore.RoleAdmin {
		t.Fatalf("unexpected user %+v", promoted)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got == nil || got.Email != email {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}
	missing, err := s.FindByEmail(ctx, "missing-"+email)
	if err != nil || missing != nil {
		t.Fatalf("FindByEmail missing = %+v, %v", missing, err)
	}
}
