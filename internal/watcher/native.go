package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"configcenter/internal/logging"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultEventBuffer = 256
	defaultMaxDepth    = 1
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

// ErrNativeUnavailable wraps failures to initialize the OS facility itself,
// as opposed to failures registering a particular directory.
var ErrNativeUnavailable = errors.New("native file watching unavailable")

type NativeOptions struct {
	Logger *logging.Logger
	// MaxDepth bounds how many directory levels below the root are
	// registered. Zero means one level.
	MaxDepth   int
	BufferSize int
}

// NativeSource is the fsnotify-backed Source. Directories created under the
// root after start are registered as soon as their Create event arrives.
type NativeSource struct {
	root     string
	maxDepth int
	logger   *logging.Logger

	mutex   sync.Mutex
	watcher *fsnotify.Watcher
	dirs    map[string]struct{}
	closed  bool

	events     chan Event
	errors     chan error
	done       chan struct{}
	forwarders sync.WaitGroup
	closeOnce  sync.Once

	restartMutex    sync.Mutex
	restartAttempts int
	restartTimer    *time.Timer
}

// NewNativeSource watches root, creating it when missing. It fails when the
// facility is unavailable or the root cannot be registered.
func NewNativeSource(root string, options NativeOptions) (*NativeSource, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create watch root %s: %w", root, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNativeUnavailable, err)
	}

	maxDepth := options.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultEventBuffer
	}

	source := &NativeSource{
		root:     root,
		maxDepth: maxDepth,
		logger:   options.Logger,
		watcher:  fsWatcher,
		dirs:     make(map[string]struct{}),
		events:   make(chan Event, bufferSize),
		errors:   make(chan error, 4),
		done:     make(chan struct{}),
	}

	if err := fsWatcher.Add(root); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watch root %s: %w", root, err)
	}
	source.dirs[root] = struct{}{}
	for _, dir := range collectDirs(root, maxDepth) {
		if err := source.addDir(fsWatcher, dir); err != nil {
			source.logWarn("watch add failed", map[string]string{
				"path":  dir,
				"error": err.Error(),
			})
		}
	}

	source.forwarders.Add(1)
	go source.forward(fsWatcher)
	return source, nil
}

func (source *NativeSource) Events() <-chan Event {
	return source.events
}

func (source *NativeSource) Errors() <-chan error {
	return source.errors
}

func (source *NativeSource) Delay() (time.Duration, bool) {
	return 0, false
}

// WatchedDirs lists the directories currently registered, sorted.
func (source *NativeSource) WatchedDirs() []string {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	dirs := make([]string, 0, len(source.dirs))
	for dir := range source.dirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Close releases the OS registration and closes Events after the last
// in-flight event has been forwarded or discarded.
func (source *NativeSource) Close() error {
	var closeErr error
	source.closeOnce.Do(func() {
		source.mutex.Lock()
		source.closed = true
		current := source.watcher
		source.mutex.Unlock()

		source.restartMutex.Lock()
		if source.restartTimer != nil {
			source.restartTimer.Stop()
			source.restartTimer = nil
		}
		source.restartMutex.Unlock()

		close(source.done)
		if current != nil {
			closeErr = current.Close()
		}
		source.forwarders.Wait()
		close(source.events)
	})
	return closeErr
}

func (source *NativeSource) forward(fsWatcher *fsnotify.Watcher) {
	defer source.forwarders.Done()
	for {
		select {
		case raw, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			source.handle(fsWatcher, raw)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			source.handleError(err)
		case <-source.done:
			return
		}
	}
}

func (source *NativeSource) handle(fsWatcher *fsnotify.Watcher, raw fsnotify.Event) {
	op := translateOp(raw.Op)
	if op == 0 {
		return
	}
	path := filepath.Clean(raw.Name)

	if op.Has(Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			source.emit(Event{Path: path, Op: Create, Timestamp: time.Now().UTC()})
			source.registerNewDir(fsWatcher, path)
			return
		}
	}
	if op.Has(Remove) {
		source.mutex.Lock()
		delete(source.dirs, path)
		source.mutex.Unlock()
	}
	source.emit(Event{Path: path, Op: op, Timestamp: time.Now().UTC()})
}

// registerNewDir watches a directory that appeared after start and replays
// Create events for files written into it before registration took effect.
func (source *NativeSource) registerNewDir(fsWatcher *fsnotify.Watcher, dir string) {
	depth := depthBelow(source.root, dir)
	if depth < 1 || depth > source.maxDepth {
		return
	}
	if err := source.addDir(fsWatcher, dir); err != nil {
		source.logWarn("watch add failed", map[string]string{
			"path":  dir,
			"error": err.Error(),
		})
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		child := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			source.emit(Event{Path: child, Op: Create, Timestamp: time.Now().UTC()})
			source.registerNewDir(fsWatcher, child)
			continue
		}
		source.emit(Event{Path: child, Op: Create, Timestamp: time.Now().UTC()})
	}
}

func (source *NativeSource) addDir(fsWatcher *fsnotify.Watcher, dir string) error {
	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		return nil
	}
	if _, ok := source.dirs[dir]; ok {
		source.mutex.Unlock()
		return nil
	}
	source.mutex.Unlock()

	if err := fsWatcher.Add(dir); err != nil {
		return err
	}

	source.mutex.Lock()
	source.dirs[dir] = struct{}{}
	active := len(source.dirs)
	source.mutex.Unlock()
	source.logDebug("watch added", map[string]string{
		"path":           dir,
		"active_watches": strconv.Itoa(active),
	})
	return nil
}

func (source *NativeSource) emit(event Event) {
	select {
	case source.events <- event:
	case <-source.done:
	}
}

func (source *NativeSource) handleError(err error) {
	if err == nil {
		return
	}
	source.logWarn("watcher error", map[string]string{
		"error": err.Error(),
	})
	source.scheduleRestart(err)
}

func restartDelay(attempt int) time.Duration {
	return restartBaseDelay * time.Duration(1<<attempt)
}

func (source *NativeSource) scheduleRestart(err error) {
	source.restartMutex.Lock()
	if source.isClosed() || source.restartTimer != nil {
		source.restartMutex.Unlock()
		return
	}
	if source.restartAttempts >= maxRestartAttempts {
		source.restartMutex.Unlock()
		source.reportError(err)
		return
	}
	delay := restartDelay(source.restartAttempts)
	source.restartAttempts++
	source.restartTimer = time.AfterFunc(delay, source.performRestart)
	source.restartMutex.Unlock()
}

func (source *NativeSource) performRestart() {
	restartErr := source.restart()

	source.restartMutex.Lock()
	source.restartTimer = nil
	if restartErr == nil {
		source.restartAttempts = 0
		source.restartMutex.Unlock()
		return
	}
	source.restartMutex.Unlock()

	source.logWarn("watcher restart failed", map[string]string{
		"error": restartErr.Error(),
	})
	source.scheduleRestart(restartErr)
}

// restart swaps in a fresh fsnotify watcher registered on every directory
// the previous one knew about.
func (source *NativeSource) restart() error {
	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		return nil
	}
	paths := make([]string, 0, len(source.dirs))
	for path := range source.dirs {
		paths = append(paths, path)
	}
	source.mutex.Unlock()
	sort.Strings(paths)

	replacement, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := replacement.Add(source.root); err != nil {
		_ = replacement.Close()
		return err
	}
	for _, path := range paths {
		if path == source.root {
			continue
		}
		if err := replacement.Add(path); err != nil {
			source.logWarn("watcher re-add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
		}
	}

	source.mutex.Lock()
	if source.closed {
		source.mutex.Unlock()
		_ = replacement.Close()
		return nil
	}
	previous := source.watcher
	source.watcher = replacement
	source.forwarders.Add(1)
	source.mutex.Unlock()

	go source.forward(replacement)
	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (source *NativeSource) reportError(err error) {
	select {
	case source.errors <- err:
	default:
	}
}

func (source *NativeSource) isClosed() bool {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.closed
}

func (source *NativeSource) logWarn(message string, fields map[string]string) {
	if source.logger == nil {
		return
	}
	source.logger.Warn(message, withWatcherFields(fields))
}

func (source *NativeSource) logDebug(message string, fields map[string]string) {
	if source.logger == nil {
		return
	}
	source.logger.Debug(message, withWatcherFields(fields))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["configcenter.category"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}

// translateOp folds fsnotify operations onto Op. A rename is reported as a
// removal of the old name; the new name arrives as its own Create. Chmod
// alone carries no content change and is dropped.
func translateOp(op fsnotify.Op) Op {
	var result Op
	if op.Has(fsnotify.Create) {
		result |= Create
	}
	if op.Has(fsnotify.Write) {
		result |= Write
	}
	if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
		result |= Remove
	}
	return result
}

func collectDirs(root string, maxDepth int) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() || path == root {
			return nil
		}
		depth := depthBelow(root, path)
		if depth > maxDepth {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}

// depthBelow returns how many path elements child is below parent, or -1
// when child is not inside parent.
func depthBelow(parent, child string) int {
	rel, err := filepath.Rel(filepath.Clean(parent), filepath.Clean(child))
	if err != nil {
		return -1
	}
	if rel == "." {
		return 0
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return -1
	}
	return len(strings.Split(rel, string(os.PathSeparator)))
}
