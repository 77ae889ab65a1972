package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"configcenter/internal/event"
	"configcenter/internal/logging"
)

type wsBusStreamConfig[T any] struct {
	Logger            *logging.Logger
	AuthToken         string
	AllowedOrigins    []string
	Bus               *event.Bus[T]
	Filter            func(T) bool
	Replay            int
	UnavailableReason string
	BuildPayload      func(T) (any, bool)
}

// serveWSBusStream subscribes to a bus and streams payloads to a websocket
// connection, first replaying up to Replay retained values that pass Filter.
func serveWSBusStream[T any](w http.ResponseWriter, r *http.Request, config wsBusStreamConfig[T]) {
	if !requireWSToken(w, r, config.AuthToken, config.Logger) {
		return
	}

	conn, err := upgradeWebSocket(w, r, config.AllowedOrigins)
	if err != nil {
		logWSError(config.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}

	bus := config.Bus
	if bus == nil {
		writeWSError(w, r, conn, config.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      unavailableReason(config.UnavailableReason),
			SendEnvelope: true,
		})
		return
	}

	filter := config.Filter
	if filter == nil {
		filter = func(T) bool { return true }
	}
	// Subscribing before reading history means an event published in between
	// may be delivered twice but is never lost.
	output, cancel := bus.SubscribeFiltered(filter)
	defer cancel()
	var history []T
	if config.Replay > 0 {
		history = bus.History(config.Replay)
	}

	var preWrite func(*websocket.Conn) error
	if len(history) > 0 {
		preWrite = func(conn *websocket.Conn) error {
			for _, value := range history {
				if !filter(value) {
					continue
				}
				payload, ok := buildPayloadOrIdentity(config.BuildPayload, value)
				if !ok {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return err
				}
				if err := conn.WriteJSON(payload); err != nil {
					return err
				}
			}
			return nil
		}
	}

	serveWSStream(r, wsStreamConfig[T]{
		Conn:         conn,
		Logger:       config.Logger,
		Output:       output,
		BuildPayload: config.BuildPayload,
		PreWrite:     preWrite,
	})
}

func buildPayloadOrIdentity[T any](build func(T) (any, bool), value T) (any, bool) {
	if build == nil {
		return value, true
	}
	return build(value)
}

func unavailableReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "event stream unavailable"
	}
	return reason
}
