package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes is the size at which a day's segment rolls over.
const DefaultMaxBytes int64 = 100 << 20

// DefaultMaxDays is how many days of segments are kept.
const DefaultMaxDays = 14

const dayLayout = "2006-01-02"

// RotatingWriter appends to daily segments of BasePath. logs/creditsd.log is
// written as logs/creditsd-2025-10-26.log, then logs/creditsd-2025-10-26-2.log
// once MaxBytes is reached, and so on. Days are UTC.
type RotatingWriter struct {
	BasePath string
	MaxBytes int64
	// MaxDays prunes segments from older days when a new day starts.
	// Zero keeps everything.
	MaxDays int

	now func() time.Time

	mu   sync.Mutex
	seg  segment
	file *os.File
	size int64
}

type segment struct {
	day string
	n   int
}

// NewRotatingWriter opens today's segment of basePath. "-" discards output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, MaxDays: DefaultMaxDays, now: time.Now}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.roll(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// roll switches segments when the day changes or the next write would
// overflow MaxBytes. An empty segment always accepts a write.
func (w *RotatingWriter) roll(incoming int64) error {
	clock := w.now
	if clock == nil {
		clock = time.Now
	}
	today := clock().UTC().Format(dayLayout)
	switch {
	case w.file == nil || w.seg.day != today:
		newDay := w.seg.day != today
		w.seg = segment{day: today, n: 1}
		if err := w.open(); err != nil {
			return err
		}
		if newDay {
			w.prune(clock().UTC())
		}
	case w.size > 0 && w.size+incoming > w.MaxBytes:
		w.seg.n++
		return w.open()
	}
	return nil
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir, prefix, ext := w.parts()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	name := prefix + "-" + w.seg.day
	if w.seg.n > 1 {
		name = fmt.Sprintf("%s-%d", name, w.seg.n)
	}
	f, err := os.OpenFile(filepath.Join(dir, name+ext), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.size = 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.file = f
	return nil
}

// prune removes segments whose day is MaxDays or more before now.
func (w *RotatingWriter) prune(now time.Time) {
	if w.MaxDays <= 0 {
		return
	}
	dir, prefix, ext := w.parts()
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"+ext))
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.MaxDays).Format(dayLayout)
	sort.Strings(matches)
	for _, path := range matches {
		rest := strings.TrimPrefix(filepath.Base(path), prefix+"-")
		if len(rest) < len(dayLayout) {
			continue
		}
		day := rest[:len(dayLayout)]
		if _, err := time.Parse(dayLayout, day); err != nil {
			continue
		}
		if day <= cutoff {
			_ = os.Remove(path)
		}
	}
}

func (w *RotatingWriter) parts() (dir, prefix, ext string) {
	dir, name := filepath.Split(w.BasePath)
	if dir == "" {
		dir = "."
	}
	ext = filepath.Ext(name)
	prefix = strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	return dir, prefix, ext
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
