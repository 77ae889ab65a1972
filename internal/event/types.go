package event

import "time"

// Event is implemented by values carried on a Bus that want typed metrics.
type Event interface {
	Type() string
	Timestamp() time.Time
}
