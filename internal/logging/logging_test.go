package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewLoggerWritesJSONAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "creditsd.log")
	logger, closer, err := NewLogger(Options{Level: "debug", File: path, Service: "creditsd", Stdout: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug().Str("operation", "image_fast").Msg("credits deducted")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("stdout is not JSON: %v (%q)", err, buf.String())
	}
	if line["service"] != "creditsd" || line["operation"] != "image_fast" {
		t.Fatalf("unexpected fields %v", line)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "creditsd-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one rotated file, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "credits deducted") {
		t.Fatalf("file sink missing entry: %q", data)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRotatingWriterRollsBySizeAndDay(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2025, 10, 26, 10, 0, 0, 0, time.UTC)
	w := &RotatingWriter{BasePath: filepath.Join(dir, "creditsd.log"), MaxBytes: 10, now: func() time.Time { return day }}
	defer w.Close()

	for _, chunk := range []string{"12345678", "abcdefgh"} {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	day = day.Add(24 * time.Hour)
	if _, err := w.Write([]byte("next day")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, name := range []string{"creditsd-2025-10-26.log", "creditsd-2025-10-26-2.log", "creditsd-2025-10-27.log"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestRotatingWriterDash(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n, err := w.Write([]byte("dropped")); err != nil || n != 7 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestRotatingWriterPrunesOldDays(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"creditsd-2025-10-01.log", "creditsd-2025-10-01-2.log", "creditsd-2025-10-20.log", "other-2025-10-01.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("old\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	day := time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC)
	w := &RotatingWriter{BasePath: filepath.Join(dir, "creditsd.log"), MaxBytes: 1 << 10, MaxDays: 7, now: func() time.Time { return day }}
	defer w.Close()
	if _, err := w.Write([]byte("today\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for name, kept := range map[string]bool{
		"creditsd-2025-10-01.log":   false,
		"creditsd-2025-10-01-2.log": false,
		"creditsd-2025-10-20.log":   true,
		"creditsd-2025-10-26.log":   true,
		"other-2025-10-01.log":      true,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		if kept != (err == nil) {
			t.Errorf("%s: kept=%v, stat err=%v", name, kept, err)
		}
	}
}
