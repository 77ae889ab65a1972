package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"configcenter/internal/configcenter"
	"configcenter/internal/event"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
	"configcenter/internal/settings"

	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

// App holds what every command needs.
type App struct {
	Settings settings.Settings
	Store    *configcenter.FileStore
	Logger   *logging.Logger
	Metrics  *metrics.Registry
	Out      io.Writer
	Err      io.Writer
	Output   string
}

// NewApp opens the store described by loaded. Logs go to errOut so command
// output stays parseable.
func NewApp(loaded settings.Settings, out, errOut io.Writer, output string) (*App, error) {
	logger := logging.NewLoggerWithOutput(nil, loaded.Log.Level, errOut)
	registry := &metrics.Registry{}
	root := loaded.Store.Root
	if root == "" {
		root = configcenter.DefaultRootDirectory()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, configcenter.DefaultGroup), 0o755); err != nil {
		return nil, fmt.Errorf("create root directory: %w", err)
	}
	store, err := configcenter.NewFileStore(root, loaded.Store.Encoding, logger, registry)
	if err != nil {
		return nil, err
	}
	loaded.Store.Root = store.Root()
	return &App{
		Settings: loaded,
		Store:    store,
		Logger:   logger,
		Metrics:  registry,
		Out:      out,
		Err:      errOut,
		Output:   output,
	}, nil
}

// Options returns the configuration options for a watching instance over
// the App's store.
func (app *App) Options(bus *event.Bus[configcenter.ConfigChangedEvent]) configcenter.Options {
	return configcenter.Options{
		RootDirectory:   app.Store.Root(),
		Encoding:        app.Settings.Store.Encoding,
		WatchMode:       app.Settings.Store.WatchMode,
		PollingInterval: app.Settings.Store.PollInterval,
		ThreadPoolSize:  app.Settings.Store.ThreadPoolSize,
		Logger:          app.Logger,
		Metrics:         app.Metrics,
		EventBus:        bus,
	}
}

// Open starts watching the App's root.
func (app *App) Open(bus *event.Bus[configcenter.ConfigChangedEvent]) (*configcenter.FileSystemConfiguration, error) {
	return configcenter.New(app.Options(bus))
}

// Print writes value as JSON or YAML. In text mode text is called instead.
func (app *App) Print(value any, text func(io.Writer) error) error {
	switch app.Output {
	case outputJSON:
		encoder := json.NewEncoder(app.Out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	case outputYAML:
		encoder := yaml.NewEncoder(app.Out)
		encoder.SetIndent(2)
		if err := encoder.Encode(value); err != nil {
			return err
		}
		return encoder.Close()
	default:
		if text == nil {
			return nil
		}
		return text(app.Out)
	}
}
