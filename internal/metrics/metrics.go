package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

type Registry struct {
	configsPublished    atomic.Int64
	configsRemoved      atomic.Int64
	translationFailures atomic.Int64
	listenerInvocations atomic.Int64
	listenerFailures    atomic.Int64
	watcherErrors       atomic.Int64
	changeEvents        sync.Map
	busEvents           sync.Map
	busSubscribers      sync.Map
}

type busKey struct {
	bus       string
	eventType string
}

type busStats struct {
	published atomic.Int64
	dropped   atomic.Int64
}

type subscriberCounts struct {
	filtered   atomic.Int64
	unfiltered atomic.Int64
}

var Default = &Registry{}

func (r *Registry) IncConfigPublished() {
	if r == nil {
		return
	}
	r.configsPublished.Add(1)
}

func (r *Registry) IncConfigRemoved() {
	if r == nil {
		return
	}
	r.configsRemoved.Add(1)
}

func (r *Registry) IncChangeEvent(changeType string) {
	if r == nil {
		return
	}
	if strings.TrimSpace(changeType) == "" {
		changeType = "unknown"
	}
	value, _ := r.changeEvents.LoadOrStore(changeType, &atomic.Int64{})
	value.(*atomic.Int64).Add(1)
}

func (r *Registry) IncTranslationFailure() {
	if r == nil {
		return
	}
	r.translationFailures.Add(1)
}

func (r *Registry) IncListenerInvocation() {
	if r == nil {
		return
	}
	r.listenerInvocations.Add(1)
}

func (r *Registry) IncListenerFailure() {
	if r == nil {
		return
	}
	r.listenerFailures.Add(1)
}

func (r *Registry) IncWatcherError() {
	if r == nil {
		return
	}
	r.watcherErrors.Add(1)
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busStats(bus, eventType).published.Add(1)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busStats(bus, eventType).dropped.Add(1)
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	value, _ := r.busSubscribers.LoadOrStore(bus, &subscriberCounts{})
	counts := value.(*subscriberCounts)
	counts.filtered.Store(int64(filtered))
	counts.unfiltered.Store(int64(unfiltered))
}

// Snapshot is a point-in-time copy of the scalar counters.
type Snapshot struct {
	ConfigsPublished    int64
	ConfigsRemoved      int64
	TranslationFailures int64
	ListenerInvocations int64
	ListenerFailures    int64
	WatcherErrors       int64
	ChangeEvents        map[string]int64
}

func (r *Registry) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	snapshot := Snapshot{
		ConfigsPublished:    r.configsPublished.Load(),
		ConfigsRemoved:      r.configsRemoved.Load(),
		TranslationFailures: r.translationFailures.Load(),
		ListenerInvocations: r.listenerInvocations.Load(),
		ListenerFailures:    r.listenerFailures.Load(),
		WatcherErrors:       r.watcherErrors.Load(),
		ChangeEvents:        map[string]int64{},
	}
	r.changeEvents.Range(func(key, value any) bool {
		snapshot.ChangeEvents[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return snapshot
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "configcenter_configs_published_total", "Total successful config publishes", r.configsPublished.Load())
	writeCounter(writer, "configcenter_configs_removed_total", "Total config removals that deleted an item", r.configsRemoved.Load())
	writeCounter(writer, "configcenter_translation_failures_total", "Raw watch events skipped by the translator", r.translationFailures.Load())
	writeCounter(writer, "configcenter_listener_invocations_total", "Listener callbacks executed", r.listenerInvocations.Load())
	writeCounter(writer, "configcenter_listener_failures_total", "Listener callbacks that panicked", r.listenerFailures.Load())
	writeCounter(writer, "configcenter_watcher_errors_total", "Errors reported by the watch source", r.watcherErrors.Load())

	writeHelp(writer, "configcenter_change_events_total", "Change events dispatched by type")
	fmt.Fprintln(writer, "# TYPE configcenter_change_events_total counter")
	changeTypes := sortedKeys(&r.changeEvents)
	for _, changeType := range changeTypes {
		value, _ := r.changeEvents.Load(changeType)
		fmt.Fprintf(writer, "configcenter_change_events_total{change_type=%s} %d\n", formatLabel(changeType), value.(*atomic.Int64).Load())
	}

	writeHelp(writer, "configcenter_bus_events_published_total", "Events published on an event bus")
	fmt.Fprintln(writer, "# TYPE configcenter_bus_events_published_total counter")
	writeHelp(writer, "configcenter_bus_events_dropped_total", "Events dropped by an event bus")
	fmt.Fprintln(writer, "# TYPE configcenter_bus_events_dropped_total counter")
	keys := make([]busKey, 0)
	r.busEvents.Range(func(key, value any) bool {
		keys = append(keys, key.(busKey))
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].bus != keys[j].bus {
			return keys[i].bus < keys[j].bus
		}
		return keys[i].eventType < keys[j].eventType
	})
	for _, key := range keys {
		stats := r.busStats(key.bus, key.eventType)
		labels := fmt.Sprintf("bus=%s,type=%s", formatLabel(key.bus), formatLabel(key.eventType))
		fmt.Fprintf(writer, "configcenter_bus_events_published_total{%s} %d\n", labels, stats.published.Load())
		fmt.Fprintf(writer, "configcenter_bus_events_dropped_total{%s} %d\n", labels, stats.dropped.Load())
	}

	writeHelp(writer, "configcenter_bus_subscribers", "Active event bus subscribers")
	fmt.Fprintln(writer, "# TYPE configcenter_bus_subscribers gauge")
	for _, bus := range sortedKeys(&r.busSubscribers) {
		value, _ := r.busSubscribers.Load(bus)
		counts := value.(*subscriberCounts)
		fmt.Fprintf(writer, "configcenter_bus_subscribers{bus=%s,filtered=\"true\"} %d\n", formatLabel(bus), counts.filtered.Load())
		fmt.Fprintf(writer, "configcenter_bus_subscribers{bus=%s,filtered=\"false\"} %d\n", formatLabel(bus), counts.unfiltered.Load())
	}

	return nil
}

func (r *Registry) busStats(bus, eventType string) *busStats {
	value, _ := r.busEvents.LoadOrStore(busKey{bus: bus, eventType: eventType}, &busStats{})
	return value.(*busStats)
}

func sortedKeys(values *sync.Map) []string {
	var names []string
	values.Range(func(key, value any) bool {
		if name, ok := key.(string); ok {
			names = append(names, name)
		}
		return true
	})
	sort.Strings(names)
	return names
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
