package reload

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
	missing bool
}

// Watcher keeps track of configuration source files and detects modifications.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher builds a watcher that tracks the provided files.
func NewWatcher(paths ...string) *Watcher {
	watcher := &Watcher{}
	watcher.Update(paths...)
	return watcher
}

// Update replaces the tracked file list and records the current state of
// every file as the new baseline.
func (w *Watcher) Update(paths ...string) {
	if w == nil {
		return
	}
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		states[path] = stat(path)
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
}

// Check reports the files that changed since the last snapshot and advances
// the baseline, so each modification is reported once.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, previous := range w.files {
		current := stat(path)
		if current.missing != previous.missing ||
			current.modTime.After(previous.modTime) ||
			current.size != previous.size {
			changed = append(changed, path)
			w.files[path] = current
		}
	}
	sort.Strings(changed)
	return changed
}

// Watch polls the tracked files every interval and invokes onChange with the
// modified paths until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context, interval time.Duration, onChange func([]string)) {
	if w == nil || onChange == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed := w.Check(); len(changed) > 0 {
				onChange(changed)
			}
		}
	}
}

func stat(path string) fileState {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileState{missing: true}
	}
	return fileState{modTime: info.ModTime(), size: info.Size()}
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
