package userstore

import (
	"context"
	"errors"
	"testing"
)

func TestCan(t *testing.T) {
	root := &User{Role: RoleRootAdmin, Status: StatusActive}
	admin := &User{Role: RoleAdmin, Status: StatusActive}
	user := &User{Role: RoleUser, Status: StatusActive}
	suspended := &User{Role: RoleRootAdmin, Status: StatusInactive}

	tests := []struct {
		name string
		user *User
		cap  Capability
		want bool
	}{
		{"root manages pricing", root, CapManagePricing, true},
		{"admin reads all", admin, CapReadAllCredits, true},
		{"admin manages credits", admin, CapManageCredits, true},
		{"admin cannot price", admin, CapManagePricing, false},
		{"user reads nothing", user, CapReadAllCredits, false},
		{"suspended root", suspended, CapManageCredits, false},
		{"nil user", nil, CapReadAllCredits, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Can(tt.user, tt.cap); got != tt.want {
				t.Fatalf("Can() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Admin "); err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole() = %q, %v", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

type recordingStore struct {
	Store
	calls []string
	fail  error
}

func (r *recordingStore) EnsureRootAdmin(_ context.Context, email string) (*User, error) {
	r.calls = append(r.calls, "root:"+email)
	return &User{Email: email, Role: RoleRootAdmin}, r.fail
}

func (r *recordingStore) EnsureRole(_ context.Context, email string, role Role) (*User, error) {
	r.calls = append(r.calls, string(role)+":"+email)
	return &User{Email: email, Role: role}, r.fail
}

func TestBootstrapAdmins(t *testing.T) {
	store := &recordingStore{}
	users, err := BootstrapAdmins(context.Background(), store, []string{"", " Owner@Dua.IA ", "ops@dua.ia"})
	if err != nil {
		t.Fatalf("BootstrapAdmins: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	want := []string{"root:owner@dua.ia", "admin:ops@dua.ia"}
	for i, c := range want {
		if store.calls[i] != c {
			t.Fatalf("call %d = %q, want %q", i, store.calls[i], c)
		}
	}

	boom := errors.New("locked")
	if _, err := BootstrapAdmins(context.Background(), &recordingStore{fail: boom}, []string{"a@b.c"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
