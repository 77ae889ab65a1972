package configcenter

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"configcenter/internal/event"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
	"configcenter/internal/watcher"
)

// dispatcher turns raw watch events into ConfigChangedEvent values. run
// executes as the only task of the watch loop pool, so known is touched by
// a single goroutine and events leave in the order the source produced them.
type dispatcher struct {
	source   watcher.Source
	store    *FileStore
	registry *listenerRegistry
	bus      *event.Bus[ConfigChangedEvent]
	logger   *logging.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	// known holds the items believed to exist, which tells an atomic
	// replace (a create of a known item) apart from an addition.
	known map[itemID]struct{}
	warn  rate.Sometimes
}

func newDispatcher(source watcher.Source, store *FileStore, registry *listenerRegistry, bus *event.Bus[ConfigChangedEvent], logger *logging.Logger, metricsRegistry *metrics.Registry) *dispatcher {
	return &dispatcher{
		source:   source,
		store:    store,
		registry: registry,
		bus:      bus,
		logger:   logger,
		metrics:  metricsRegistry,
		now:      time.Now,
		known:    make(map[itemID]struct{}),
		warn:     rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// seed records the items present on disk before watching starts.
func (d *dispatcher) seed() {
	items, err := d.store.Items("")
	if err != nil {
		d.logWarn("initial config scan failed", map[string]string{"error": err.Error()})
		return
	}
	for _, item := range items {
		d.known[itemID{group: item.Group, key: item.Key}] = struct{}{}
	}
}

// run consumes the source until its event channel closes.
func (d *dispatcher) run() {
	events := d.source.Events()
	errs := d.source.Errors()
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				return
			}
			d.process(raw)
		case err := <-errs:
			d.metrics.IncWatcherError()
			d.logWarn("config watcher failed", map[string]string{"error": err.Error()})
		}
	}
}

func (d *dispatcher) process(raw watcher.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.metrics.IncTranslationFailure()
			d.logWarn("config event dropped", map[string]string{
				"path":  raw.Path,
				"op":    raw.Op.String(),
				"panic": fmt.Sprint(recovered),
			})
		}
	}()
	changed, ok := d.translate(raw)
	if !ok {
		return
	}
	d.metrics.IncChangeEvent(string(changed.ChangeType))
	if d.logger != nil {
		d.logger.Debug("config changed", map[string]string{
			"group":       changed.Group,
			"key":         changed.Key,
			"change_type": string(changed.ChangeType),
		})
	}
	d.registry.notify(changed)
	if d.bus != nil {
		d.bus.Publish(changed)
	}
}

func (d *dispatcher) translate(raw watcher.Event) (ConfigChangedEvent, bool) {
	group, key, ok := d.store.resolver.resolve(raw.Path)
	if !ok {
		return ConfigChangedEvent{}, false
	}
	id := itemID{group: group, key: key}
	_, wasKnown := d.known[id]
	changed := ConfigChangedEvent{Key: key, Group: group, OccurredAt: raw.Timestamp}
	if changed.OccurredAt.IsZero() {
		changed.OccurredAt = d.now()
	}

	if raw.Op == watcher.Remove {
		if !wasKnown {
			return ConfigChangedEvent{}, false
		}
		delete(d.known, id)
		changed.ChangeType = ChangeDeleted
		return changed, true
	}

	info, err := os.Stat(raw.Path)
	if err == nil && !info.Mode().IsRegular() {
		return ConfigChangedEvent{}, false
	}
	content, exists, err := d.store.read(raw.Path)
	if err != nil {
		d.metrics.IncTranslationFailure()
		d.warn.Do(func() {
			d.logWarn("config read failed", map[string]string{
				"group": group,
				"key":   key,
				"error": err.Error(),
			})
		})
		return ConfigChangedEvent{}, false
	}
	if !exists {
		// Gone before it could be read: report the deletion once.
		delete(d.known, id)
		changed.ChangeType = ChangeDeleted
		return changed, true
	}

	changed.Content = content
	if wasKnown {
		changed.ChangeType = ChangeModified
	} else {
		changed.ChangeType = ChangeAdded
		d.known[id] = struct{}{}
	}
	return changed, true
}

func (d *dispatcher) logWarn(message string, fields map[string]string) {
	if d.logger == nil {
		return
	}
	d.logger.Warn(message, fields)
}
