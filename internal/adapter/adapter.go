package adapter

import (
	"context"
	"strings"
)

// Kind is the product area a vendor task belongs to.
type Kind string

const (
	KindMusic  Kind = "music"
	KindVideo  Kind = "video"
	KindImage  Kind = "image"
	KindDesign Kind = "design"
	KindChat   Kind = "chat"
)

// Task is a vendor-neutral generation request.
type Task struct {
	Kind      Kind           `json:"kind"`
	Operation string         `json:"operation"`
	Model     string         `json:"model,omitempty"`
	UserID    string         `json:"user_id"`
	Input     map[string]any `json:"input,omitempty"`
}

// RouteKey is what routers match patterns against, e.g. "video/gen4_turbo".
func (t Task) RouteKey() string {
	key := strings.ToLower(string(t.Kind))
	if t.Model != "" {
		key += "/" + strings.ToLower(strings.TrimSpace(t.Model))
	}
	return key
}

// Result is what a vendor returned for a task. Most vendors answer
// asynchronously with a task id that clients poll.
type Result struct {
	Adapter string         `json:"adapter"`
	TaskID  string         `json:"task_id"`
	Status  string         `json:"status"`
	Output  map[string]any `json:"output,omitempty"`
}

// LedgerMetadata records which vendor task a charge paid for.
func (r Result) LedgerMetadata() map[string]any {
	md := map[string]any{"vendor": r.Adapter}
	if r.TaskID != "" {
		md["task_id"] = r.TaskID
	}
	return md
}

// TaskAdapter submits tasks to one vendor.
type TaskAdapter interface {
	Name() string
	Submit(ctx context.Context, task Task) (Result, error)
}
