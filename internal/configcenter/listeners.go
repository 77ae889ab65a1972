package configcenter

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"configcenter/internal/logging"
	"configcenter/internal/metrics"
	"configcenter/internal/workerpool"
)

type itemID struct {
	group string
	key   string
}

// Registration identifies one AddListener call. Registering the same
// listener twice yields two registrations and two invocations per event.
type Registration struct {
	ID       string
	Key      string
	Group    string
	listener ConfigurationListener
	active   atomic.Bool
	registry *listenerRegistry
}

// Remove detaches the listener. It reports whether the registration was
// still active. Callbacks still queued for the listener are skipped; one
// already running is not waited for.
func (r *Registration) Remove() bool {
	if r == nil || r.registry == nil {
		return false
	}
	return r.registry.removeByID(r.ID)
}

type listenerRegistry struct {
	mu      sync.RWMutex
	entries map[itemID][]*Registration
	byID    map[string]*Registration
	pool    *workerpool.Pool
	logger  *logging.Logger
	metrics *metrics.Registry
}

func newListenerRegistry(pool *workerpool.Pool, logger *logging.Logger, registry *metrics.Registry) *listenerRegistry {
	return &listenerRegistry{
		entries: make(map[itemID][]*Registration),
		byID:    make(map[string]*Registration),
		pool:    pool,
		logger:  logger,
		metrics: registry,
	}
}

func (r *listenerRegistry) add(key, group string, listener ConfigurationListener) *Registration {
	registration := &Registration{
		ID:       uuid.NewString(),
		Key:      key,
		Group:    group,
		listener: listener,
		registry: r,
	}
	registration.active.Store(true)
	id := itemID{group: group, key: key}

	r.mu.Lock()
	r.entries[id] = append(r.entries[id], registration)
	r.byID[registration.ID] = registration
	r.mu.Unlock()
	return registration
}

// remove detaches every registration of listener on the item. Listeners of
// non-comparable types never match and must be removed by registration.
func (r *listenerRegistry) remove(key, group string, listener ConfigurationListener) bool {
	if listener == nil || !reflect.TypeOf(listener).Comparable() {
		return false
	}
	id := itemID{group: group, key: key}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	kept := r.entries[id][:0]
	for _, registration := range r.entries[id] {
		if reflect.TypeOf(registration.listener).Comparable() && registration.listener == listener {
			registration.active.Store(false)
			delete(r.byID, registration.ID)
			removed = true
			continue
		}
		kept = append(kept, registration)
	}
	r.storeLocked(id, kept)
	return removed
}

func (r *listenerRegistry) removeByID(registrationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	registration, ok := r.byID[registrationID]
	if !ok {
		return false
	}
	registration.active.Store(false)
	delete(r.byID, registrationID)
	id := itemID{group: registration.Group, key: registration.Key}
	kept := make([]*Registration, 0, len(r.entries[id]))
	for _, candidate := range r.entries[id] {
		if candidate != registration {
			kept = append(kept, candidate)
		}
	}
	r.storeLocked(id, kept)
	return true
}

func (r *listenerRegistry) storeLocked(id itemID, registrations []*Registration) {
	if len(registrations) == 0 {
		delete(r.entries, id)
		return
	}
	r.entries[id] = registrations
}

func (r *listenerRegistry) count(key, group string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[itemID{group: group, key: key}])
}

func (r *listenerRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, registration := range r.byID {
		registration.active.Store(false)
	}
	r.entries = make(map[itemID][]*Registration)
	r.byID = make(map[string]*Registration)
}

// notify hands the event to every listener registered for its item. Each
// invocation is a separate task so a slow or failing listener does not
// affect the others beyond sharing the pool.
func (r *listenerRegistry) notify(event ConfigChangedEvent) {
	r.mu.RLock()
	registrations := append([]*Registration(nil), r.entries[itemID{group: event.Group, key: event.Key}]...)
	r.mu.RUnlock()

	for _, registration := range registrations {
		registration := registration
		if err := r.pool.Submit(func() { r.invoke(registration, event) }); err != nil {
			r.logDebug("listener invocation skipped", map[string]string{
				"group":        event.Group,
				"key":          event.Key,
				"registration": registration.ID,
				"error":        err.Error(),
			})
			return
		}
	}
}

func (r *listenerRegistry) invoke(registration *Registration, event ConfigChangedEvent) {
	if !registration.active.Load() {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			r.metrics.IncListenerFailure()
			if r.logger != nil {
				r.logger.Warn("config listener failed", map[string]string{
					"group":        event.Group,
					"key":          event.Key,
					"change_type":  string(event.ChangeType),
					"registration": registration.ID,
					"panic":        fmt.Sprint(recovered),
				})
			}
		}
	}()
	r.metrics.IncListenerInvocation()
	registration.listener.Process(event)
}

func (r *listenerRegistry) logDebug(message string, fields map[string]string) {
	if r.logger == nil {
		return
	}
	r.logger.Debug(message, fields)
}
