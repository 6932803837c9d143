package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dua-ia/dua-credits/internal/userstore"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, " Ana@Dua.IA ", "Ana")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if first.Email != "ana@dua.ia" || first.Role != userstore.RoleUser || first.ID == "" {
		t.Fatalf("unexpected user %+v", first)
	}
	if first.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to round-trip")
	}
	second, err := s.EnsureUser(ctx, "ana@dua.ia", "Other")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if second.ID != first.ID || second.DisplayName != "Ana" {
		t.Fatalf("expected the existing user, got %+v", second)
	}
	if _, err := s.EnsureUser(ctx, "  ", ""); err != userstore.ErrInvalidEmail {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestEnsureRolePromotesAndKeepsID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, "ops@dua.ia", "")
	if err != nil {
		t.Fatal(err)
	}
	promoted, err := s.EnsureRole(ctx, "ops@dua.ia", userstore.RoleAdmin)
	if err != nil {
		t.Fatalf("EnsureRole: %v", err)
	}
	if promoted.ID != u.ID || promoted.Role != userstore.RoleAdmin {
		t.Fatalf("unexpected promoted user %+v", promoted)
	}
	if !userstore.Can(promoted, userstore.CapManageCredits) {
		t.Fatalf("admin should manage credits")
	}
	if _, err := s.EnsureRole(ctx, "ops@dua.ia", userstore.Role("owner")); err == nil {
		t.Fatalf("expected error for unknown role")
	}

	root, err := s.EnsureRootAdmin(ctx, "")
	if err != nil {
		t.Fatalf("EnsureRootAdmin: %v", err)
	}
	if root.Email != "admin@local" || root.Role != userstore.RoleRootAdmin {
		t.Fatalf("unexpected root %+v", root)
	}
}

func TestLookups(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	missing, err := s.FindByEmail(ctx, "nobody@dua.ia")
	if err != nil || missing != nil {
		t.Fatalf("FindByEmail missing = %+v, %v", missing, err)
	}
	u, err := s.EnsureUser(ctx, "b@dua.ia", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.EnsureUser(ctx, "a@dua.ia", ""); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUser(ctx, u.ID)
	if err != nil || got == nil || got.Email != "b@dua.ia" {
		t.Fatalf("GetUser = %+v, %v", got, err)
	}
	none, err := s.GetUser(ctx, "does-not-exist")
	if err != nil || none != nil {
		t.Fatalf("GetUser missing = %+v, %v", none, err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Email != "a@dua.ia" {
		t.Fatalf("ListUsers = %+v", users)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
