// Package watcher produces raw filesystem change events for a directory tree.
//
// Two Source implementations share one event shape: NativeSource registers
// with the operating system's notification facility through fsnotify, and
// PollingSource periodically snapshots the tree and diffs it. Events are
// best-effort: callers should assume bursts of writes may be coalesced and
// re-read the file a path refers to rather than trust the operation alone.
package watcher
