package configcenter

import (
	"fmt"
	"time"
)

type ChangeType string

const (
	ChangeAdded    ChangeType = "ADDED"
	ChangeModified ChangeType = "MODIFIED"
	ChangeDeleted  ChangeType = "DELETED"
)

// ConfigChangedEvent describes one detected change of a config item.
// Content is the value read when the change was processed, which may be
// newer than the write that triggered it; it is empty for deletions.
type ConfigChangedEvent struct {
	Key        string     `json:"key"`
	Group      string     `json:"group"`
	Content    string     `json:"content"`
	ChangeType ChangeType `json:"change_type"`
	OccurredAt time.Time  `json:"timestamp"`
}

func (e ConfigChangedEvent) Type() string {
	return string(e.ChangeType)
}

func (e ConfigChangedEvent) Timestamp() time.Time {
	return e.OccurredAt
}

func (e ConfigChangedEvent) String() string {
	return fmt.Sprintf("ConfigChangedEvent{key=%q, group=%q, type=%s, content=%q}", e.Key, e.Group, e.ChangeType, e.Content)
}

// ConfigurationListener receives change events for the items it was
// registered on. Process runs on the callback pool, never on the caller's
// goroutine.
type ConfigurationListener interface {
	Process(event ConfigChangedEvent)
}

// ListenerFunc adapts a function to ConfigurationListener. Function values
// are not comparable, so remove them through their Registration.
type ListenerFunc func(event ConfigChangedEvent)

func (f ListenerFunc) Process(event ConfigChangedEvent) {
	f(event)
}

// Item is a config item together with its current content.
type Item struct {
	Group   string `json:"group" yaml:"group"`
	Key     string `json:"key" yaml:"key"`
	Content string `json:"content" yaml:"content"`
}
