// Package httptask submits generation tasks to vendors that accept a JSON
// POST and answer with a task id to poll.
package httptask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dua-ia/dua-credits/internal/adapter"
)

// Ensure Adapter implements TaskAdapter.
var _ adapter.TaskAdapter = (*Adapter)(nil)

// Adapter posts tasks to one vendor endpoint.
type Adapter struct {
	name       string
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// Config holds configuration for one vendor.
type Config struct {
	Name           string
	APIKey         string
	BaseURL        string
	Path           string // optional, defaults to /tasks
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, errors.New("httptask: name required")
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("httptask: %s: base url required", name)
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "/tasks"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		name:       name,
		apiKey:     cfg.APIKey,
		endpoint:   baseURL + path,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Name implements adapter.TaskAdapter.
func (a *Adapter) Name() string {
	return a.name
}

// Submit sends the task and returns the vendor's task id.
func (a *Adapter) Submit(ctx context.Context, task adapter.Task) (adapter.Result, error) {
	payload := map[string]any{
		"operation": task.Operation,
		"user_id":   task.UserID,
	}
	if task.Model != "" {
		payload["model"] = task.Model
	}
	for k, v := range task.Input {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return adapter.Result{}, fmt.Errorf("%s: marshal request: %w", a.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return adapter.Result{}, fmt.Errorf("%s: create request: %w", a.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return adapter.Result{}, fmt.Errorf("%s: send request: %w", a.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return adapter.Result{}, fmt.Errorf("%s: read response: %w", a.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return adapter.Result{}, a.parseError(resp.StatusCode, respBody)
	}

	var decoded map[string]any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return adapter.Result{}, fmt.Errorf("%s: unmarshal response: %w", a.name, err)
	}
	taskID := extractTaskID(decoded)
	if taskID == "" {
		return adapter.Result{}, fmt.Errorf("%s: response carried no task id", a.name)
	}
	status, _ := decoded["status"].(string)
	if status == "" {
		status = "pending"
	}
	return adapter.Result{
		Adapter: a.name,
		TaskID:  taskID,
		Status:  strings.ToLower(status),
		Output:  decoded,
	}, nil
}

func (a *Adapter) parseError(status int, body []byte) error {
	var errResp struct {
		Error any    `json:"error"`
		Msg   string `json:"msg"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		switch e := errResp.Error.(type) {
		case string:
			if e != "" {
				return fmt.Errorf("%s: http %d: %s", a.name, status, e)
			}
		case map[string]any:
			if msg, _ := e["message"].(string); msg != "" {
				return fmt.Errorf("%s: http %d: %s", a.name, status, msg)
			}
		}
		if errResp.Msg != "" {
			return fmt.Errorf("%s: http %d: %s", a.name, status, errResp.Msg)
		}
	}
	return fmt.Errorf("%s: http %d: %s", a.name, status, strings.TrimSpace(string(body)))
}

// extractTaskID accepts the id spellings vendors use, including ids nested
// under a data envelope.
func extractTaskID(m map[string]any) string {
	for _, key := range []string{"task_id", "taskId", "id"} {
		if v, ok := m[key]; ok {
			switch id := v.(type) {
			case string:
				if id != "" {
					return id
				}
			case float64:
				return fmt.Sprintf("%.0f", id)
			}
		}
	}
	if data, ok := m["data"].(map[string]any); ok {
		return extractTaskID(data)
	}
	return ""
}
