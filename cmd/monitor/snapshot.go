package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"velu/internal/domain"
	"velu/internal/statelog"
)

type jobLister interface {
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)
}

type snapshot struct {
	Events []map[string]any
	Jobs   []domain.Job
}

func loadSnapshot(ctx context.Context, logPath string, jobs jobLister, limit int) (snapshot, error) {
	events, err := statelog.Tail(logPath, limit)
	if err != nil {
		return snapshot{}, fmt.Errorf("read state log: %w", err)
	}
	// newest first on screen
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	list, err := jobs.ListJobs(ctx, limit)
	if err != nil {
		return snapshot{}, fmt.Errorf("list jobs: %w", err)
	}
	return snapshot{Events: events, Jobs: list}, nil
}

// watchLog signals on the returned channel whenever the state log is written
// or created. The directory is watched so the file may appear later.
func watchLog(ctx context.Context, logPath string) (<-chan struct{}, error) {
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(logPath)
	out := make(chan struct{}, 1)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}
