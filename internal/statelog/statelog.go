// Package statelog appends orchestrator events to a JSON-lines file.
package statelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const DefaultPath = "data/pointers/orchestrator.log"

// Log is an append-only event sink. Each Record call opens the file with
// O_APPEND and issues a single write, so lines from concurrent processes do
// not interleave; the mutex serializes appenders within one process.
type Log struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func New(path string) *Log {
	if path == "" {
		path = DefaultPath
	}
	return &Log{path: path, now: time.Now}
}

func (l *Log) Path() string {
	return l.path
}

// Record writes {"ts": <unix seconds>, ...event} as one line. A "ts" key in
// event is overwritten.
func (l *Log) Record(event map[string]any) error {
	line := make(map[string]any, len(event)+1)
	for k, v := range event {
		line[k] = v
	}
	line["ts"] = float64(l.now().UnixNano()) / float64(time.Second)

	raw, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open state log: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("append state log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close state log: %w", err)
	}
	return nil
}

// Tail returns at most n of the most recent events, oldest first. Lines that
// are not valid JSON are skipped.
func Tail(path string, n int) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state log: %w", err)
	}
	var events []map[string]any
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i < len(raw) && raw[i] != '\n' {
			continue
		}
		if i > start {
			var ev map[string]any
			if err := json.Unmarshal(raw[start:i], &ev); err == nil {
				events = append(events, ev)
			}
		}
		start = i + 1
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}
