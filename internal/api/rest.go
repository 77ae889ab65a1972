package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"configcenter/internal/configcenter"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
)

const maxConfigContentBytes = 1 << 20

// ConfigCenter is the subset of a configuration center the API serves.
type ConfigCenter interface {
	Publish(key, group, content string) error
	GetConfig(key, group string) (string, bool, error)
	RemoveConfig(key, group string) (string, bool, error)
	ConfigKeys(group string) ([]string, error)
	ConfigGroups() ([]string, error)
	Configs(group string) ([]configcenter.Item, error)
	RootDirectory() string
	Encoding() string
	Delay() (int, bool)
	State() configcenter.State
}

type RestHandler struct {
	Config         ConfigCenter
	Logger         *logging.Logger
	Metrics        *metrics.Registry
	PublishLimiter *rate.Limiter
}

type statusResponse struct {
	RootDirectory string `json:"root_directory"`
	Encoding      string `json:"encoding"`
	State         string `json:"state"`
	Polling       bool   `json:"polling"`
	DelaySeconds  int    `json:"delay_seconds,omitempty"`
}

type groupsResponse struct {
	Groups []string `json:"groups"`
}

type keysResponse struct {
	Group string   `json:"group"`
	Keys  []string `json:"keys"`
}

type itemsResponse struct {
	Items []configcenter.Item `json:"items"`
}

type publishRequest struct {
	Content *string `json:"content"`
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	delay, polling := h.Config.Delay()
	writeJSON(w, http.StatusOK, statusResponse{
		RootDirectory: h.Config.RootDirectory(),
		Encoding:      h.Config.Encoding(),
		State:         h.Config.State().String(),
		Polling:       polling,
		DelaySeconds:  delay,
	})
	return nil
}

func (h *RestHandler) handleGroups(w http.ResponseWriter, r *http.Request) *apiError {
	groups, err := h.Config.ConfigGroups()
	if err != nil {
		return storeError(err)
	}
	writeJSON(w, http.StatusOK, groupsResponse{Groups: groups})
	return nil
}

func (h *RestHandler) handleKeys(w http.ResponseWriter, r *http.Request) *apiError {
	group := pathParam(r, "group")
	keys, err := h.Config.ConfigKeys(group)
	if err != nil {
		return storeError(err)
	}
	writeJSON(w, http.StatusOK, keysResponse{Group: group, Keys: keys})
	return nil
}

// handleConfigs lists items with their content, across all groups unless a
// group query parameter is given.
func (h *RestHandler) handleConfigs(w http.ResponseWriter, r *http.Request) *apiError {
	items, err := h.Config.Configs(strings.TrimSpace(r.URL.Query().Get("group")))
	if err != nil {
		return storeError(err)
	}
	writeJSON(w, http.StatusOK, itemsResponse{Items: items})
	return nil
}

func (h *RestHandler) handleGetConfig(w http.ResponseWriter, r *http.Request) *apiError {
	group, key := pathParam(r, "group"), pathParam(r, "key")
	content, ok, err := h.Config.GetConfig(key, group)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "config not found"}
	}
	if wantsRaw(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, content)
		return nil
	}
	writeJSON(w, http.StatusOK, configcenter.Item{Group: group, Key: key, Content: content})
	return nil
}

// handlePublish stores the request body. A JSON body must be an object with
// a content string; any other media type is taken verbatim.
func (h *RestHandler) handlePublish(w http.ResponseWriter, r *http.Request) *apiError {
	group, key := pathParam(r, "group"), pathParam(r, "key")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigContentBytes))
	if err != nil {
		return storeError(err)
	}

	content := string(body)
	if isJSONRequest(r) {
		var request publishRequest
		if err := json.Unmarshal(body, &request); err != nil || request.Content == nil {
			return &apiError{Status: http.StatusBadRequest, Message: "expected {\"content\": \"...\"}"}
		}
		content = *request.Content
	}

	if err := h.Config.Publish(key, group, content); err != nil {
		return storeError(err)
	}
	h.logInfo("config published", map[string]string{"group": group, "key": key, "remote_addr": r.RemoteAddr})
	writeJSON(w, http.StatusOK, configcenter.Item{Group: group, Key: key, Content: content})
	return nil
}

func (h *RestHandler) handleRemove(w http.ResponseWriter, r *http.Request) *apiError {
	group, key := pathParam(r, "group"), pathParam(r, "key")
	content, ok, err := h.Config.RemoveConfig(key, group)
	if err != nil {
		return storeError(err)
	}
	if !ok {
		return &apiError{Status: http.StatusNotFound, Message: "config not found"}
	}
	h.logInfo("config removed", map[string]string{"group": group, "key": key, "remote_addr": r.RemoteAddr})
	writeJSON(w, http.StatusOK, configcenter.Item{Group: group, Key: key, Content: content})
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	registry := h.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	setSecurityHeaders(w, cacheControlNoStore)
	if err := registry.WritePrometheus(w); err != nil && h.Logger != nil {
		h.Logger.Warn("metrics write failed", map[string]string{"error": err.Error()})
	}
}

// pathParam returns a route parameter verbatim. chi matches against
// r.URL.RawPath when it is set, leaving the parameter escaped; otherwise
// the parameter comes from the already decoded r.URL.Path.
func pathParam(r *http.Request, name string) string {
	value := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

func wantsRaw(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("raw"), "true") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/plain") && !strings.Contains(accept, "application/json")
}

func isJSONRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func (h *RestHandler) logInfo(message string, fields map[string]string) {
	if h.Logger == nil {
		return
	}
	h.Logger.Info(message, fields)
}
