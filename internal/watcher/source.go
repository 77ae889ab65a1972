package watcher

import (
	"errors"
	"time"

	"configcenter/internal/logging"
)

type Options struct {
	Mode     Mode
	Interval time.Duration
	MaxDepth int
	Logger   *logging.Logger
}

// NewSource builds the Source selected by options.Mode. ModeAuto prefers the
// native facility and falls back to polling only when it cannot be
// initialized at all; a root that fails to register is always an error.
func NewSource(root string, options Options) (Source, error) {
	mode := options.Mode
	if mode == "" {
		mode = ModeAuto
	}
	polling := func() Source {
		return NewPollingSource(root, PollingOptions{
			Logger:   options.Logger,
			Interval: options.Interval,
			MaxDepth: options.MaxDepth,
		})
	}

	switch mode {
	case ModePolling:
		return polling(), nil
	case ModeNative, ModeAuto:
		native, err := NewNativeSource(root, NativeOptions{
			Logger:   options.Logger,
			MaxDepth: options.MaxDepth,
		})
		if err == nil {
			return native, nil
		}
		if mode == ModeAuto && errors.Is(err, ErrNativeUnavailable) {
			if options.Logger != nil {
				options.Logger.Warn("native watching unavailable, polling instead", withWatcherFields(map[string]string{
					"path":  root,
					"error": err.Error(),
				}))
			}
			return polling(), nil
		}
		return nil, err
	default:
		parsed, err := ParseMode(string(mode))
		if err != nil {
			return nil, err
		}
		options.Mode = parsed
		return NewSource(root, options)
	}
}
