package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"configcenter/internal/logging"
)

const DefaultPollingInterval = 2 * time.Second

type PollingOptions struct {
	Logger     *logging.Logger
	Interval   time.Duration
	MaxDepth   int
	BufferSize int
}

type fileState struct {
	modTime time.Time
	size    int64
	isDir   bool
}

// PollingSource detects changes by snapshotting the tree every Interval and
// diffing against the previous snapshot. The first diff happens one full
// interval after start.
type PollingSource struct {
	root     string
	interval time.Duration
	maxDepth int
	logger   *logging.Logger

	snapshot map[string]fileState

	events    chan Event
	errors    chan error
	done      chan struct{}
	loop      sync.WaitGroup
	closeOnce sync.Once
}

// NewPollingSource starts polling root. A missing root is not an error; its
// contents are reported once it appears.
func NewPollingSource(root string, options PollingOptions) *PollingSource {
	interval := options.Interval
	if interval <= 0 {
		interval = DefaultPollingInterval
	}
	maxDepth := options.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}
	source := &PollingSource{
		root:     filepath.Clean(root),
		interval: interval,
		maxDepth: maxDepth,
		logger:   options.Logger,
		events:   make(chan Event, bufferSize),
		errors:   make(chan error, 4),
		done:     make(chan struct{}),
	}
	snapshot, err := source.scan()
	if err != nil {
		source.reportError(err)
	}
	source.snapshot = snapshot

	source.loop.Add(1)
	go source.run()
	return source
}

func (source *PollingSource) Events() <-chan Event {
	return source.events
}

func (source *PollingSource) Errors() <-chan error {
	return source.errors
}

func (source *PollingSource) Delay() (time.Duration, bool) {
	return source.interval, true
}

func (source *PollingSource) Close() error {
	source.closeOnce.Do(func() {
		close(source.done)
		source.loop.Wait()
		close(source.events)
	})
	return nil
}

func (source *PollingSource) run() {
	defer source.loop.Done()
	ticker := time.NewTicker(source.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			source.poll()
		case <-source.done:
			return
		}
	}
}

func (source *PollingSource) poll() {
	current, err := source.scan()
	if err != nil {
		source.reportError(err)
		return
	}
	now := time.Now().UTC()
	for _, event := range diffSnapshots(source.snapshot, current, now) {
		select {
		case source.events <- event:
		case <-source.done:
			return
		}
	}
	source.snapshot = current
}

func (source *PollingSource) scan() (map[string]fileState, error) {
	snapshot := make(map[string]fileState)
	err := filepath.WalkDir(source.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == source.root && os.IsNotExist(walkErr) {
				return filepath.SkipDir
			}
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if path == source.root {
			return nil
		}
		depth := depthBelow(source.root, path)
		if entry.IsDir() && depth > source.maxDepth {
			return filepath.SkipDir
		}
		if depth > source.maxDepth+1 {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		snapshot[path] = fileState{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   entry.IsDir(),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", source.root, err)
	}
	return snapshot, nil
}

// diffSnapshots reports creations and modifications in path order followed
// by removals in path order.
func diffSnapshots(previous, current map[string]fileState, now time.Time) []Event {
	var changed []Event
	for _, path := range sortedPaths(current) {
		state := current[path]
		old, existed := previous[path]
		switch {
		case !existed:
			changed = append(changed, Event{Path: path, Op: Create, Timestamp: now})
		case state.isDir || old.isDir:
			if state.isDir != old.isDir {
				changed = append(changed, Event{Path: path, Op: Create, Timestamp: now})
			}
		case !state.modTime.Equal(old.modTime) || state.size != old.size:
			changed = append(changed, Event{Path: path, Op: Write, Timestamp: now})
		}
	}
	for _, path := range sortedPaths(previous) {
		if _, exists := current[path]; !exists {
			changed = append(changed, Event{Path: path, Op: Remove, Timestamp: now})
		}
	}
	return changed
}

func sortedPaths(snapshot map[string]fileState) []string {
	paths := make([]string, 0, len(snapshot))
	for path := range snapshot {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (source *PollingSource) reportError(err error) {
	if source.logger != nil {
		source.logger.Warn("poll scan failed", withWatcherFields(map[string]string{
			"path":  source.root,
			"error": err.Error(),
		}))
	}
	select {
	case source.errors <- err:
	default:
	}
}
