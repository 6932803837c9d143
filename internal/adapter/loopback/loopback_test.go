package loopback

import (
	"context"
	"strings"
	"testing"

	"github.com/dua-ia/dua-credits/internal/adapter"
)

func TestLoopbackAdapter(t *testing.T) {
	a := New()
	task := adapter.Task{Kind: adapter.KindMusic, Operation: "music_generate_v5", Model: "V5", UserID: "user-1"}
	first, err := a.Submit(context.Background(), task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.Status != "completed" || !strings.HasPrefix(first.TaskID, "loop-") {
		t.Fatalf("unexpected result %+v", first)
	}
	second, err := a.Submit(context.Background(), task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if first.TaskID == second.TaskID {
		t.Fatalf("expected distinct task ids")
	}
	if first.LedgerMetadata()["vendor"] != "loopback" {
		t.Fatalf("unexpected ledger metadata %+v", first.LedgerMetadata())
	}
}

func TestLoopbackRejectsEmptyOperation(t *testing.T) {
	if _, err := New().Submit(context.Background(), adapter.Task{}); err == nil {
		t.Fatalf("expected error for empty operation")
	}
}

func TestLoopbackHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Submit(ctx, adapter.Task{Operation: "image_fast"}); err == nil {
		t.Fatalf("expected context error")
	}
}
