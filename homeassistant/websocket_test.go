package homeassistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeHA runs a minimal Home Assistant WebSocket endpoint: it performs the
// auth handshake, acknowledges subscriptions, and then pushes the given
// events.
func fakeHA(t *testing.T, wantToken string, push []BusEvent) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "auth_required"})

		var auth struct {
			Type        string `json:"type"`
			AccessToken string `json:"access_token"`
		}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		if auth.AccessToken != wantToken {
			conn.WriteJSON(map[string]string{"type": "auth_invalid"})
			return
		}
		conn.WriteJSON(map[string]string{"type": "auth_ok"})

		var sub struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"id": sub.ID, "type": "result", "success": true})

		for _, e := range push {
			conn.WriteJSON(map[string]any{"type": "event", "event": e})
		}

		// Hold the connection open until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestEventClientSubscribeAndReceive(t *testing.T) {
	data, _ := json.Marshal(StateChange{EntityID: "light.kitchen"})
	srv := fakeHA(t, "secret", []BusEvent{
		{Type: "state_changed", Data: data, TimeFired: time.Now()},
	})
	defer srv.Close()

	c := NewEventClient(srv.URL, "secret", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Subscribe(ctx, "state_changed"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case e := <-c.Events():
		if e.Type != "state_changed" {
			t.Errorf("event type = %q", e.Type)
		}
		var change StateChange
		if err := json.Unmarshal(e.Data, &change); err != nil {
			t.Fatalf("decode event data: %v", err)
		}
		if change.EntityID != "light.kitchen" {
			t.Errorf("entity = %q", change.EntityID)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestEventClientBadToken(t *testing.T) {
	srv := fakeHA(t, "secret", nil)
	defer srv.Close()

	c := NewEventClient(srv.URL, "wrong", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		c.Close()
		t.Fatal("Connect succeeded with wrong token")
	}
}

func TestEventClientSubscribeBeforeConnect(t *testing.T) {
	c := NewEventClient("http://127.0.0.1:1", "t", nil)
	if err := c.Subscribe(context.Background(), "state_changed"); err == nil {
		t.Error("Subscribe succeeded without a connection")
	}
}
