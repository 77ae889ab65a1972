package watcher

import (
	"fmt"
	"strings"
	"time"
)

// Op describes what happened to a path.
type Op uint8

const (
	Create Op = 1 << iota
	Write
	Remove
)

func (op Op) Has(other Op) bool {
	return op&other == other
}

func (op Op) String() string {
	var parts []string
	if op.Has(Create) {
		parts = append(parts, "CREATE")
	}
	if op.Has(Write) {
		parts = append(parts, "WRITE")
	}
	if op.Has(Remove) {
		parts = append(parts, "REMOVE")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        Op
	Timestamp time.Time
}

func (event Event) String() string {
	return fmt.Sprintf("%s %q", event.Op, event.Path)
}

// Source is a live stream of raw events for a directory tree.
type Source interface {
	// Events is closed once the source is closed.
	Events() <-chan Event
	// Errors reports failures the source could not recover from.
	Errors() <-chan error
	// Delay reports the polling period; ok is false for native sources.
	Delay() (period time.Duration, ok bool)
	Close() error
}

// Mode selects the Source implementation.
type Mode string

const (
	ModeAuto    Mode = "auto"
	ModeNative  Mode = "native"
	ModePolling Mode = "polling"
)

func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeNative:
		return ModeNative, nil
	case ModePolling, "poll":
		return ModePolling, nil
	default:
		return "", fmt.Errorf("unknown watch mode %q", value)
	}
}
