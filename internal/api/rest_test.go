package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"configcenter/internal/configcenter"
	"configcenter/internal/logging"
	"configcenter/internal/metrics"
	"configcenter/internal/watcher"
)

type testServer struct {
	config *configcenter.FileSystemConfiguration
	server *httptest.Server
	logger *logging.Logger
}

func newTestServer(t *testing.T, configure func(*RouterOptions)) *testServer {
	t.Helper()
	registry := &metrics.Registry{}
	logger := logging.NewLoggerWithOutput(logging.NewLogBuffer(100), logging.LevelInfo, io.Discard)
	config, err := configcenter.New(configcenter.Options{
		RootDirectory:   filepath.Join(t.TempDir(), "root"),
		WatchMode:       watcher.ModePolling,
		PollingInterval: 50 * time.Millisecond,
		Logger:          logger,
		Metrics:         registry,
	})
	if err != nil {
		t.Fatalf("new configuration: %v", err)
	}
	t.Cleanup(func() { _ = config.Close() })

	options := RouterOptions{
		Config:  config,
		Events:  config.Events(),
		Logger:  logger,
		Metrics: registry,
	}
	if configure != nil {
		configure(&options)
	}
	server := httptest.NewServer(NewRouter(options))
	t.Cleanup(server.Close)
	return &testServer{config: config, server: server, logger: logger}
}

func (s *testServer) do(t *testing.T, method, path, contentType, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var value T
	if err := json.NewDecoder(res.Body).Decode(&value); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return value
}

func TestPublishGetRemoveRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	res := s.do(t, http.MethodPut, "/api/groups/orders/configs/timeout", "text/plain", "3000")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if content, ok, _ := s.config.GetConfig("timeout", "orders"); !ok || content != "3000" {
		t.Fatalf("expected content on disk, got %q ok=%v", content, ok)
	}

	res = s.do(t, http.MethodGet, "/api/groups/orders/configs/timeout", "", "")
	item := decodeBody[configcenter.Item](t, res)
	if item.Content != "3000" || item.Group != "orders" || item.Key != "timeout" {
		t.Fatalf("unexpected item %+v", item)
	}

	res = s.do(t, http.MethodGet, "/api/groups/orders/configs/timeout?raw=true", "", "")
	raw, _ := io.ReadAll(res.Body)
	if string(raw) != "3000" || !strings.HasPrefix(res.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected raw response %q (%s)", raw, res.Header.Get("Content-Type"))
	}

	res = s.do(t, http.MethodDelete, "/api/groups/orders/configs/timeout", "", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", res.StatusCode)
	}
	if removed := decodeBody[configcenter.Item](t, res); removed.Content != "3000" {
		t.Fatalf("expected removed content, got %+v", removed)
	}

	res = s.do(t, http.MethodGet, "/api/groups/orders/configs/timeout", "", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if body := decodeBody[errorResponse](t, res); body.Code != "not_found" {
		t.Fatalf("unexpected error body %+v", body)
	}
	res = s.do(t, http.MethodDelete, "/api/groups/orders/configs/timeout", "", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", res.StatusCode)
	}
}

func TestPublishJSONBody(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.do(t, http.MethodPut, "/api/groups/g/configs/k", "application/json", `{"content":"line1\nline2"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if content, _, _ := s.config.GetConfig("k", "g"); content != "line1\nline2" {
		t.Fatalf("unexpected content %q", content)
	}

	res = s.do(t, http.MethodPut, "/api/groups/g/configs/k", "application/json", `{"value":1}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing content, got %d", res.StatusCode)
	}
}

func TestPublishRejectsInvalidNames(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.do(t, http.MethodPut, "/api/groups/g/configs/.hidden", "text/plain", "x")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
	if body := decodeBody[errorResponse](t, res); body.Code != "invalid_name" {
		t.Fatalf("unexpected error body %+v", body)
	}
	res = s.do(t, http.MethodPut, "/api/groups/g/configs/a%2Fb", "text/plain", "x")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for escaped separator, got %d", res.StatusCode)
	}
}

func TestPublishKeepsPercentSignsInNames(t *testing.T) {
	s := newTestServer(t, nil)
	cases := []struct {
		path string
		key  string
	}{
		{path: "/api/groups/g/configs/" + url.PathEscape("x%41"), key: "x%41"},
		// %42 is an unnecessary escape, so the request keeps a raw path.
		{path: "/api/groups/g/configs/y%2541%42", key: "y%41B"},
	}
	for _, tc := range cases {
		res := s.do(t, http.MethodPut, tc.path, "text/plain", "v")
		if res.StatusCode != http.StatusOK {
			t.Fatalf("PUT %s: expected 200, got %d", tc.path, res.StatusCode)
		}
		item := decodeBody[configcenter.Item](t, res)
		if item.Key != tc.key {
			t.Fatalf("PUT %s: expected key %q, got %q", tc.path, tc.key, item.Key)
		}
		res = s.do(t, http.MethodGet, tc.path+"?raw=true", "", "")
		if body, _ := io.ReadAll(res.Body); res.StatusCode != http.StatusOK || string(body) != "v" {
			t.Fatalf("GET %s: got %d %q", tc.path, res.StatusCode, body)
		}
	}

	keys, err := s.config.ConfigKeys("g")
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if strings.Join(keys, ",") != "x%41,y%41B" {
		t.Fatalf("expected verbatim keys, got %v", keys)
	}
}

func TestListingEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	for _, item := range []configcenter.Item{
		{Group: "g1", Key: "b", Content: "2"},
		{Group: "g1", Key: "a", Content: "1"},
		{Group: "g2", Key: "c", Content: "3"},
	} {
		if err := s.config.Publish(item.Key, item.Group, item.Content); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	groups := decodeBody[groupsResponse](t, s.do(t, http.MethodGet, "/api/groups", "", ""))
	if strings.Join(groups.Groups, ",") != "default,g1,g2" {
		t.Fatalf("unexpected groups %v", groups.Groups)
	}
	keys := decodeBody[keysResponse](t, s.do(t, http.MethodGet, "/api/groups/g1/configs", "", ""))
	if strings.Join(keys.Keys, ",") != "a,b" {
		t.Fatalf("unexpected keys %v", keys.Keys)
	}
	all := decodeBody[itemsResponse](t, s.do(t, http.MethodGet, "/api/configs", "", ""))
	if len(all.Items) != 3 {
		t.Fatalf("expected three items, got %+v", all.Items)
	}
	scoped := decodeBody[itemsResponse](t, s.do(t, http.MethodGet, "/api/configs?group=g2", "", ""))
	if len(scoped.Items) != 1 || scoped.Items[0].Content != "3" {
		t.Fatalf("unexpected scoped items %+v", scoped.Items)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	status := decodeBody[statusResponse](t, s.do(t, http.MethodGet, "/api/status", "", ""))
	if status.RootDirectory != s.config.RootDirectory() || status.Encoding != "UTF-8" {
		t.Fatalf("unexpected status %+v", status)
	}
	if !status.Polling || status.DelaySeconds != 1 || status.State != "watching" {
		t.Fatalf("unexpected watch status %+v", status)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	s := newTestServer(t, func(options *RouterOptions) {
		options.AuthToken = "secret"
	})
	if res := s.do(t, http.MethodGet, "/api/groups", "", ""); res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	if res := s.do(t, http.MethodGet, "/api/groups?token=secret", "", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", res.StatusCode)
	}
}

func TestPublishRateLimit(t *testing.T) {
	s := newTestServer(t, func(options *RouterOptions) {
		options.PublishRate = 0.001
		options.PublishBurst = 1
	})
	if res := s.do(t, http.MethodPut, "/api/groups/g/configs/k", "text/plain", "1"); res.StatusCode != http.StatusOK {
		t.Fatalf("expected first publish to pass, got %d", res.StatusCode)
	}
	res := s.do(t, http.MethodPut, "/api/groups/g/configs/k", "text/plain", "2")
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.StatusCode)
	}
	if res := s.do(t, http.MethodGet, "/api/groups/g/configs/k", "", ""); res.StatusCode != http.StatusOK {
		t.Fatalf("expected reads to bypass the limit, got %d", res.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPut, "/api/groups/g/configs/k", "text/plain", "v")
	res := s.do(t, http.MethodGet, "/metrics", "", "")
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), "configcenter_configs_published_total 1") {
		t.Fatalf("expected publish counter, got:\n%s", body)
	}
}

func TestLogsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPut, "/api/groups/g/configs/k", "text/plain", "v")
	entries := decodeBody[[]logging.LogEntry](t, s.do(t, http.MethodGet, "/api/logs?level=info&limit=50", "", ""))
	found := false
	for _, entry := range entries {
		if entry.Message == "config published" && entry.Context["key"] == "k" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish log entry, got %+v", entries)
	}
	if res := s.do(t, http.MethodGet, "/api/logs?limit=-1", "", ""); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", res.StatusCode)
	}
}

func TestUnknownRouteIsJSON(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.do(t, http.MethodGet, "/api/nothing", "", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if body := decodeBody[errorResponse](t, res); body.Code != "not_found" {
		t.Fatalf("unexpected error body %+v", body)
	}
}
