package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"configcenter/internal/configcenter"
	"configcenter/internal/event"
	"configcenter/internal/logging"
)

type shutdownStep struct {
	name string
	stop func(context.Context) error
}

// serveShutdown stops what serve started in dependency order: the HTTP
// server stops taking requests, the configuration center stops watching,
// then the event bus closes so websocket streams end with a going-away.
type serveShutdown struct {
	logger *logging.Logger
	steps  []shutdownStep
	once   sync.Once
	err    error
}

func newServeShutdown(logger *logging.Logger, server *http.Server, config *configcenter.FileSystemConfiguration, bus *event.Bus[configcenter.ConfigChangedEvent]) *serveShutdown {
	return &serveShutdown{
		logger: logger,
		steps: []shutdownStep{
			{name: "http", stop: func(ctx context.Context) error {
				if err := server.Shutdown(ctx); err != nil {
					// Streams still open at the deadline are cut.
					_ = server.Close()
					return err
				}
				return nil
			}},
			{name: "config-center", stop: func(context.Context) error {
				return config.Close()
			}},
			{name: "event-bus", stop: func(context.Context) error {
				bus.Close()
				return nil
			}},
		},
	}
}

// Run executes every step once, even after a failure. Later calls return
// the result of the first.
func (s *serveShutdown) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		started := time.Now()
		failed := 0
		for _, step := range s.steps {
			stepStarted := time.Now()
			if err := step.stop(ctx); err != nil {
				failed++
				s.err = errors.Join(s.err, fmt.Errorf("stop %s: %w", step.name, err))
				s.log(logging.LevelWarning, "serve shutdown step failed", map[string]string{
					"step":    step.name,
					"error":   err.Error(),
					"elapsed": time.Since(stepStarted).String(),
				})
				continue
			}
			s.log(logging.LevelDebug, "serve shutdown step done", map[string]string{
				"step":    step.name,
				"elapsed": time.Since(stepStarted).String(),
			})
		}
		s.log(logging.LevelInfo, "configcenter stopped", map[string]string{
			"elapsed": time.Since(started).String(),
			"failed":  strconv.Itoa(failed),
		})
	})
	return s.err
}

func (s *serveShutdown) log(level logging.Level, message string, fields map[string]string) {
	if s.logger == nil {
		return
	}
	switch level {
	case logging.LevelDebug:
		s.logger.Debug(message, fields)
	case logging.LevelWarning:
		s.logger.Warn(message, fields)
	default:
		s.logger.Info(message, fields)
	}
}
