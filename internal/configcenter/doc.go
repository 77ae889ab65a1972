// Package configcenter implements a dynamic configuration center backed by a
// directory tree.
//
// Every config item lives at <root>/<group>/<key> as one file holding the raw
// encoded content. Publishing replaces the file atomically; removing deletes
// it. A watch source (native OS notifications or periodic polling) observes
// the tree, a single dispatch worker turns raw filesystem events into
// ConfigChangedEvent values in a total order, and listeners registered for a
// (group, key) receive those events on a separate callback pool.
//
// Delivery is best-effort with bounded latency: publishers get no
// acknowledgment that listeners ran, events for rapid successive writes may
// be coalesced, and a listener that panics only loses its own invocation.
// Nothing is persisted between runs, so events that occur while no
// FileSystemConfiguration is watching are never delivered.
package configcenter
