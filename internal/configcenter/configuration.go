package configcenter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"configcenter/internal/event"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
	"configcenter/internal/watcher"
	"configcenter/internal/workerpool"
)

var newWatchSource = watcher.NewSource

type State int32

const (
	StateCreated State = iota
	StateWatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWatching:
		return "watching"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FileSystemConfiguration is a config center rooted at one directory. Store
// operations are safe for concurrent use and keep working after Close; only
// change notification stops.
type FileSystemConfiguration struct {
	options  Options
	store    *FileStore
	source   watcher.Source
	registry *listenerRegistry
	bus      *event.Bus[ConfigChangedEvent]
	ownsBus  bool
	logger   *logging.Logger
	metrics  *metrics.Registry

	watchEventsLoopPool *workerpool.Pool
	workersPool         *workerpool.Pool

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

func New(options Options) (*FileSystemConfiguration, error) {
	options = options.withDefaults()
	root, err := filepath.Abs(options.RootDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	options.RootDirectory = root

	store, err := NewFileStore(root, options.Encoding, options.Logger, options.Metrics)
	if err != nil {
		return nil, err
	}
	defaultDir, err := store.resolver.groupDir(DefaultGroup)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(defaultDir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}

	config := &FileSystemConfiguration{
		options: options,
		store:   store,
		logger:  options.Logger,
		metrics: options.Metrics,
		bus:     options.EventBus,
	}
	if config.bus == nil {
		config.bus = event.NewBus[ConfigChangedEvent](context.Background(), event.BusOptions{
			Name:        "config_events",
			HistorySize: defaultEventHistory,
			Registry:    options.Metrics,
			Logger:      options.Logger,
		})
		config.ownsBus = true
	}

	config.workersPool = workerpool.New(workerpool.Options{
		Name:   "config-listeners",
		Size:   options.ThreadPoolSize,
		Logger: options.Logger,
	})
	config.watchEventsLoopPool = workerpool.New(workerpool.Options{
		Name:   "config-watch-loop",
		Size:   1,
		Logger: options.Logger,
	})
	config.registry = newListenerRegistry(config.workersPool, options.Logger, options.Metrics)

	// Seeding first means an item created once the source is live is always
	// unknown to the dispatcher and reported as ADDED.
	dispatch := newDispatcher(nil, store, config.registry, config.bus, options.Logger, options.Metrics)
	dispatch.seed()

	source, err := newWatchSource(root, watcher.Options{
		Mode:     options.WatchMode,
		Interval: options.PollingInterval,
		MaxDepth: 1,
		Logger:   options.Logger,
	})
	if err != nil {
		config.shutdownPools()
		if config.ownsBus {
			config.bus.Close()
		}
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}
	config.source = source
	dispatch.source = source
	if err := config.watchEventsLoopPool.Submit(dispatch.run); err != nil {
		_ = source.Close()
		config.shutdownPools()
		return nil, err
	}
	config.state.Store(int32(StateWatching))
	config.logInfo("config center watching", map[string]string{
		"root":     root,
		"encoding": store.Encoding(),
		"polling":  fmt.Sprint(config.IsBasedPollingWatchService()),
	})
	return config, nil
}

func (c *FileSystemConfiguration) RootDirectory() string {
	return c.store.Root()
}

func (c *FileSystemConfiguration) Encoding() string {
	return c.store.Encoding()
}

func (c *FileSystemConfiguration) State() State {
	return State(c.state.Load())
}

// Store exposes the underlying file operations.
func (c *FileSystemConfiguration) Store() *FileStore {
	return c.store
}

func (c *FileSystemConfiguration) Events() *event.Bus[ConfigChangedEvent] {
	return c.bus
}

func (c *FileSystemConfiguration) WorkersPool() *workerpool.Pool {
	return c.workersPool
}

func (c *FileSystemConfiguration) WatchEventsLoopPool() *workerpool.Pool {
	return c.watchEventsLoopPool
}

// IsBasedPollingWatchService reports whether changes are detected by
// polling rather than native notifications.
func (c *FileSystemConfiguration) IsBasedPollingWatchService() bool {
	_, ok := c.source.Delay()
	return ok
}

// Delay returns the polling period in whole seconds, rounded up. ok is
// false when the native watcher is in use.
func (c *FileSystemConfiguration) Delay() (seconds int, ok bool) {
	period, ok := c.source.Delay()
	if !ok {
		return 0, false
	}
	return int(math.Ceil(period.Seconds())), true
}

func (c *FileSystemConfiguration) PollingInterval() (time.Duration, bool) {
	return c.source.Delay()
}

func (c *FileSystemConfiguration) Publish(key, group, content string) error {
	return c.store.Publish(key, group, content)
}

// PublishConfig publishes into the default group.
func (c *FileSystemConfiguration) PublishConfig(key, content string) error {
	return c.store.Publish(key, DefaultGroup, content)
}

func (c *FileSystemConfiguration) GetConfig(key, group string) (string, bool, error) {
	return c.store.Get(key, group)
}

func (c *FileSystemConfiguration) RemoveConfig(key, group string) (string, bool, error) {
	return c.store.Remove(key, group)
}

func (c *FileSystemConfiguration) ConfigKeys(group string) ([]string, error) {
	return c.store.Keys(group)
}

func (c *FileSystemConfiguration) ConfigGroups() ([]string, error) {
	return c.store.Groups()
}

func (c *FileSystemConfiguration) Configs(group string) ([]Item, error) {
	return c.store.Items(group)
}

func (c *FileSystemConfiguration) ConfigFile(key, group string) (string, error) {
	return c.store.Path(key, group)
}

// AddListener registers listener for changes of one item. The item does
// not have to exist yet.
func (c *FileSystemConfiguration) AddListener(key, group string, listener ConfigurationListener) (*Registration, error) {
	if listener == nil {
		return nil, errors.New("nil config listener")
	}
	group = normalizeGroup(group)
	if _, err := c.store.resolver.itemPath(key, group); err != nil {
		return nil, err
	}
	return c.registry.add(key, group, listener), nil
}

// RemoveListener detaches every registration of listener on the item.
// Events already queued for it are skipped.
func (c *FileSystemConfiguration) RemoveListener(key, group string, listener ConfigurationListener) bool {
	return c.registry.remove(key, normalizeGroup(group), listener)
}

func (c *FileSystemConfiguration) RemoveListenerByID(id string) bool {
	return c.registry.removeByID(id)
}

func (c *FileSystemConfiguration) ListenerCount(key, group string) int {
	return c.registry.count(key, normalizeGroup(group))
}

// Close stops change notification. It is idempotent and safe to call from a
// listener: queued callbacks are discarded and the callback pool is not
// waited on.
func (c *FileSystemConfiguration) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateStopped))
		var errs []error
		if err := c.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close watcher: %w", err))
		}
		c.watchEventsLoopPool.Shutdown()
		c.workersPool.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
		if err := c.watchEventsLoopPool.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop dispatch loop: %w", err))
		}
		cancel()
		c.registry.clear()
		if c.ownsBus {
			c.bus.Close()
		}
		c.closeErr = errors.Join(errs...)
		c.logInfo("config center stopped", map[string]string{"root": c.store.Root()})
	})
	return c.closeErr
}

func (c *FileSystemConfiguration) shutdownPools() {
	c.watchEventsLoopPool.Shutdown()
	c.workersPool.Shutdown()
}

func (c *FileSystemConfiguration) logInfo(message string, fields map[string]string) {
	if c.logger == nil {
		return
	}
	c.logger.Info(message, fields)
}
