package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"configcenter/internal/configcenter"
	"configcenter/internal/event"
	"configcenter/internal/logging"
)

const maxEventReplay = 1000

// ConfigEventsHandler streams config change events over a websocket.
// Optional group and key query parameters narrow the stream; replay=N first
// sends up to N retained events.
type ConfigEventsHandler struct {
	Bus            *event.Bus[configcenter.ConfigChangedEvent]
	AuthToken      string
	AllowedOrigins []string
	Logger         *logging.Logger
}

type configEventPayload struct {
	Type       string    `json:"type"`
	Group      string    `json:"group"`
	Key        string    `json:"key"`
	ChangeType string    `json:"change_type"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h *ConfigEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	replay := 0
	if raw := strings.TrimSpace(query.Get("replay")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid replay", http.StatusBadRequest)
			return
		}
		replay = min(parsed, maxEventReplay)
	}

	serveWSBusStream(w, r, wsBusStreamConfig[configcenter.ConfigChangedEvent]{
		Logger:            h.Logger,
		AuthToken:         h.AuthToken,
		AllowedOrigins:    h.AllowedOrigins,
		Bus:               h.Bus,
		Filter:            configEventFilter(query.Get("group"), query.Get("key")),
		Replay:            replay,
		UnavailableReason: "config events unavailable",
		BuildPayload:      buildConfigEventPayload,
	})
}

func configEventFilter(group, key string) func(configcenter.ConfigChangedEvent) bool {
	group = strings.TrimSpace(group)
	key = strings.TrimSpace(key)
	if group == "" && key == "" {
		return nil
	}
	return func(changed configcenter.ConfigChangedEvent) bool {
		if group != "" && changed.Group != group {
			return false
		}
		return key == "" || changed.Key == key
	}
}

func buildConfigEventPayload(changed configcenter.ConfigChangedEvent) (any, bool) {
	payload := configEventPayload{
		Type:       "config_changed",
		Group:      changed.Group,
		Key:        changed.Key,
		ChangeType: string(changed.ChangeType),
		Content:    changed.Content,
		Timestamp:  changed.Timestamp(),
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return payload, true
}
