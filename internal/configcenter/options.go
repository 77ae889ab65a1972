package configcenter

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"configcenter/internal/event"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
	"configcenter/internal/watcher"
)

const (
	DefaultThreadPoolSize = 1
	defaultCloseTimeout   = 5 * time.Second
	defaultEventHistory   = 256
)

type Options struct {
	// RootDirectory defaults to DefaultRootDirectory().
	RootDirectory string
	// Encoding names the charset of config files, UTF-8 by default.
	Encoding        string
	WatchMode       watcher.Mode
	PollingInterval time.Duration
	// ThreadPoolSize is the number of listener callback workers. With the
	// default of one, callbacks run in dispatch order.
	ThreadPoolSize int
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	// EventBus receives every dispatched event. When nil a private bus is
	// created and closed together with the configuration.
	EventBus *event.Bus[ConfigChangedEvent]
}

// DefaultRootDirectory is ~/.configcenter, or a directory under the system
// temp dir when no home directory is known.
func DefaultRootDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return filepath.Join(os.TempDir(), "configcenter")
	}
	return filepath.Join(home, ".configcenter")
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.RootDirectory) == "" {
		o.RootDirectory = DefaultRootDirectory()
	}
	if strings.TrimSpace(o.Encoding) == "" {
		o.Encoding = DefaultEncoding
	}
	if o.WatchMode == "" {
		o.WatchMode = watcher.ModeAuto
	}
	if o.PollingInterval <= 0 {
		o.PollingInterval = watcher.DefaultPollingInterval
	}
	if o.ThreadPoolSize <= 0 {
		o.ThreadPoolSize = DefaultThreadPoolSize
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}
	return o
}
