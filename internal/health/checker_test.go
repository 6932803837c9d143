package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func TestCheckHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{
		Databases: map[string]Pinger{"ledger_db": PingFunc(ok), "identity_db": PingFunc(ok)},
		Vendors:   map[string]string{"suno": srv.URL},
		// Generous so slow CI does not flip to degraded.
		MaxDatabaseLatency: time.Second,
	})
	status := c.Check(context.Background())
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", status)
	}
	if len(status.Components) != 3 || status.Components[0].Name != "identity_db" {
		t.Fatalf("expected sorted components, got %+v", status.Components)
	}
	if status.HTTPStatus() != http.StatusOK {
		t.Fatalf("unexpected http status %d", status.HTTPStatus())
	}
	if c.GetLastStatus().Status != StatusHealthy {
		t.Fatalf("last status not recorded")
	}
}

func TestCheckDatabaseDownIsUnhealthy(t *testing.T) {
	c := New(Config{
		Databases: map[string]Pinger{"ledger_db": PingFunc(func(context.Context) error { return errors.New("connection refused") })},
	})
	status := c.Check(context.Background())
	if status.Status != StatusUnhealthy || status.HTTPStatus() != http.StatusServiceUnavailable {
		t.Fatalf("expected unhealthy, got %+v", status)
	}
	if status.Components[0].Error == "" {
		t.Fatalf("expected error to be reported")
	}
}

func TestCheckCacheDownIsDegraded(t *testing.T) {
	c := New(Config{
		Databases:          map[string]Pinger{"ledger_db": PingFunc(ok)},
		Caches:             map[string]Pinger{"redis": PingFunc(func(context.Context) error { return errors.New("timeout") })},
		MaxDatabaseLatency: time.Second,
	})
	if status := c.Check(context.Background()); status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestCheckSlowDatabaseIsDegraded(t *testing.T) {
	slow := PingFunc(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	c := New(Config{Databases: map[string]Pinger{"ledger_db": slow}, MaxDatabaseLatency: time.Millisecond})
	if status := c.Check(context.Background()); status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", status.Status)
	}
}

func TestGetLastStatusBeforeCheck(t *testing.T) {
	if s := New(Config{}).GetLastStatus(); s.Status != StatusHealthy {
		t.Fatalf("expected healthy before first check, got %s", s.Status)
	}
}
