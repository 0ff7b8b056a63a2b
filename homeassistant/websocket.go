package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// EventClient subscribes to the Home Assistant event bus over WebSocket.
type EventClient struct {
	baseURL string
	token   string
	logger  *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	msgID  atomic.Int64

	pending   map[int64]chan commandResult
	pendingMu sync.Mutex

	events chan BusEvent
	done   chan struct{}
}

// BusEvent is one event from the Home Assistant bus.
type BusEvent struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChange is the payload of a state_changed event.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

type wsFrame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Event   *BusEvent       `json:"event,omitempty"`
	Error   *wsCommandError `json:"error,omitempty"`
}

type wsCommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type commandResult struct {
	success bool
	err     *wsCommandError
}

// NewEventClient creates an event client. Connect must be called before
// subscribing.
func NewEventClient(baseURL, token string, logger *slog.Logger) *EventClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventClient{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		pending: make(map[int64]chan commandResult),
		events:  make(chan BusEvent, 128),
		done:    make(chan struct{}),
	}
}

// Connect dials /api/websocket and performs the auth handshake.
func (c *EventClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.logger.Info("event socket authenticated", "url", u.String())
	go c.readLoop(conn)
	return nil
}

// authenticate runs the auth_required / auth / auth_ok exchange.
func (c *EventClient) authenticate(conn *websocket.Conn) error {
	var hello wsFrame
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read auth_required: %w", err)
	}
	if hello.Type != "auth_required" {
		return fmt.Errorf("expected auth_required, got %s", hello.Type)
	}

	auth := map[string]string{"type": "auth", "access_token": c.token}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var verdict wsFrame
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("read auth result: %w", err)
	}
	switch verdict.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return fmt.Errorf("authentication rejected")
	default:
		return fmt.Errorf("unexpected auth result: %s", verdict.Type)
	}
}

// Subscribe registers for an event type, e.g. "state_changed".
func (c *EventClient) Subscribe(ctx context.Context, eventType string) error {
	id := c.msgID.Add(1)
	reply := make(chan commandResult, 1)

	c.pendingMu.Lock()
	c.pending[id] = reply
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	msg := map[string]any{"id": id, "type": "subscribe_events", "event_type": eventType}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	select {
	case res := <-reply:
		if !res.success {
			if res.err != nil {
				return fmt.Errorf("subscribe rejected: %s (%s)", res.err.Message, res.err.Code)
			}
			return fmt.Errorf("subscribe rejected")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

// Events returns the channel of received bus events. Events arriving while
// the buffer is full are dropped.
func (c *EventClient) Events() <-chan BusEvent {
	return c.events
}

// Done is closed when the read loop exits, whether from Close or a
// connection failure.
func (c *EventClient) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection.
func (c *EventClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *EventClient) readLoop(conn *websocket.Conn) {
	defer close(c.done)
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			c.logger.Warn("event socket read failed", "error", err)
			return
		}

		switch frame.Type {
		case "result":
			c.pendingMu.Lock()
			reply, ok := c.pending[frame.ID]
			c.pendingMu.Unlock()
			if ok {
				reply <- commandResult{success: frame.Success, err: frame.Error}
			}
		case "event":
			if frame.Event == nil {
				continue
			}
			select {
			case c.events <- *frame.Event:
			default:
				c.logger.Warn("event buffer full, dropping", "event_type", frame.Event.Type)
			}
		}
	}
}
