package loopback

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dua-ia/dua-credits/internal/adapter"
)

// Ensure LoopbackAdapter implements TaskAdapter.
var _ adapter.TaskAdapter = (*LoopbackAdapter)(nil)

// LoopbackAdapter completes every task locally with a deterministic id.
type LoopbackAdapter struct {
	seq atomic.Int64
}

// New creates a LoopbackAdapter instance.
func New() *LoopbackAdapter {
	return &LoopbackAdapter{}
}

// Name implements adapter.TaskAdapter.
func (a *LoopbackAdapter) Name() string {
	return "loopback"
}

// Submit fabricates a completed task for exercising the billing pipeline.
func (a *LoopbackAdapter) Submit(ctx context.Context, task adapter.Task) (adapter.Result, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Result{}, err
	}
	if task.Operation == "" {
		return adapter.Result{}, errors.New("loopback: operation required")
	}
	n := a.seq.Add(1)
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", task.UserID, task.Operation, task.Model, n)))
	return adapter.Result{
		Adapter: a.Name(),
		TaskID:  "loop-" + hex.EncodeToString(sum[:6]),
		Status:  "completed",
		Output: map[string]any{
			"operation": task.Operation,
			"model":     task.Model,
		},
	}, nil
}
