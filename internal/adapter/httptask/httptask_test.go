package httptask

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dua-ia/dua-credits/internal/adapter"
)

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, err := New(Config{Name: "suno"}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
}

func TestSubmitParsesTaskID(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"snake", `{"task_id":"abc","status":"QUEUED"}`, "abc"},
		{"camel", `{"taskId":"def"}`, "def"},
		{"nested", `{"code":200,"data":{"taskId":"suno-42"}}`, "suno-42"},
		{"numeric", `{"id":1234}`, "1234"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/generate" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer secret" {
					t.Errorf("missing bearer token")
				}
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a, err := New(Config{Name: "suno", APIKey: "secret", BaseURL: srv.URL + "/", Path: "v1/generate"})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res, err := a.Submit(context.Background(), adapter.Task{
				Kind:      adapter.KindMusic,
				Operation: "music_generate_v5",
				Model:     "V5",
				UserID:    "user-1",
				Input:     map[string]any{"prompt": "lofi"},
			})
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if res.TaskID != tc.want || res.Adapter != "suno" {
				t.Fatalf("unexpected result %+v", res)
			}
			if got["prompt"] != "lofi" || got["model"] != "V5" {
				t.Fatalf("unexpected payload %+v", got)
			}
		})
	}
}

func TestSubmitErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"object", http.StatusBadRequest, `{"error":{"message":"bad prompt"}}`, "bad prompt"},
		{"string", http.StatusTooManyRequests, `{"error":"slow down"}`, "slow down"},
		{"msg", http.StatusInternalServerError, `{"msg":"upstream busy"}`, "upstream busy"},
		{"plain", http.StatusBadGateway, `gateway down`, "gateway down"},
		{"no id", http.StatusOK, `{"status":"ok"}`, "no task id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a, err := New(Config{Name: "runway", BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = a.Submit(context.Background(), adapter.Task{Operation: "video_gen4_5s"})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
