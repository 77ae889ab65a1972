package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"configcenter/internal/configcenter"
)

func dialEvents(t *testing.T, s *testServer, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEventPayload(t *testing.T, conn *websocket.Conn) configEventPayload {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var payload configEventPayload
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	return payload
}

func waitForSubscriber(t *testing.T, s *testServer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.config.Events().SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConfigEventsStreamFiltersByGroup(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialEvents(t, s, "?group=watched")
	waitForSubscriber(t, s)

	if err := s.config.Publish("k", "ignored", "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	res := s.do(t, http.MethodPut, "/api/groups/watched/configs/k", "text/plain", "hello")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	payload := readEventPayload(t, conn)
	if payload.Group != "watched" || payload.Key != "k" || payload.Content != "hello" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Type != "config_changed" || payload.ChangeType != string(configcenter.ChangeAdded) {
		t.Fatalf("unexpected payload type %+v", payload)
	}
}

func TestConfigEventsReplay(t *testing.T) {
	s := newTestServer(t, nil)
	if err := s.config.Publish("k", "g", "before"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(s.config.Events().History(0)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never reached the bus")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn := dialEvents(t, s, "?replay=5&key=k")
	payload := readEventPayload(t, conn)
	if payload.Content != "before" || payload.ChangeType != string(configcenter.ChangeAdded) {
		t.Fatalf("unexpected replayed payload %+v", payload)
	}
}

func TestConfigEventsRejectsBadReplay(t *testing.T) {
	s := newTestServer(t, nil)
	res := s.do(t, http.MethodGet, "/api/events?replay=nope", "", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
}

func TestConfigEventsRequiresToken(t *testing.T) {
	s := newTestServer(t, func(options *RouterOptions) {
		options.AuthToken = "secret"
	})
	wsURL := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/api/events"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without token")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", res)
	}
	conn := dialEvents(t, s, "?token=secret")
	if conn == nil {
		t.Fatal("expected authorized dial to succeed")
	}
}

func TestConfigEventsUnavailableCloses(t *testing.T) {
	s := newTestServer(t, func(options *RouterOptions) {
		options.Events = nil
	})
	conn := dialEvents(t, s, "")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var envelope wsErrorPayload
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if envelope.Type != "error" || envelope.Status != http.StatusServiceUnavailable {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %T %v", err, err)
	}
	if closeErr.Code != websocket.CloseTryAgainLater {
		t.Fatalf("expected try-again close code, got %d", closeErr.Code)
	}
}
