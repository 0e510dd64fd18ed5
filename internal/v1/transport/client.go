package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentbus/broker/internal/v1/logging"
	"github.com/agentbus/broker/internal/v1/types"
)

// wsConnection is the subset of *websocket.Conn the Client needs; an
// interface so tests can substitute a fake connection, the same
// abstraction the teacher uses in transport/client.go.
type wsConnection interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
	SetPongHandler(func(string) error)
	Close() error
}

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// Client wraps one live websocket connection. Outbound frames travel over
// one of two channels: prioritySend for CRITICAL/HIGH traffic and send for
// everything else, mirroring the teacher's dual-channel non-blocking
// buffer so a slow consumer backs up BULK/LOW traffic before ever
// blocking CRITICAL delivery or the heartbeat.
type Client struct {
	conn         wsConnection
	ConnectionID types.ConnectionID
	ClientID     types.ClientID

	send         chan []byte
	prioritySend chan []byte

	heartbeatEvery time.Duration

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once

	onDeregister func()
}

func NewClient(conn wsConnection, connID types.ConnectionID, clientID types.ClientID, heartbeatEvery time.Duration, onDeregister func()) *Client {
	return &Client{
		conn:           conn,
		ConnectionID:   connID,
		ClientID:       clientID,
		send:           make(chan []byte, sendBufferSize),
		prioritySend:   make(chan []byte, sendBufferSize),
		heartbeatEvery: heartbeatEvery,
		onDeregister:   onDeregister,
	}
}

// SendFrame implements types.Sender. CRITICAL/HIGH priority frames use the
// priority channel; everything else uses the bulk channel. Both are
// non-blocking: a full buffer drops the new frame (oldest BULK/LOW is
// dropped first by the caller's backpressure policy, not here) and the
// send reports false so callers can count the drop.
func (c *Client) SendFrame(priority types.Priority, kind string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	frame := Frame{Kind: kind, Body: body}
	raw, err := json.Marshal(frame)
	if err != nil {
		return false
	}

	ch := c.send
	if priority == types.PriorityCritical || priority == types.PriorityHigh {
		ch = c.prioritySend
	}

	select {
	case ch <- raw:
		return true
	default:
		return false
	}
}

// Disconnect closes the underlying connection exactly once and invokes the
// deregistration callback.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.conn.Close()
		if c.onDeregister != nil {
			c.onDeregister()
		}
	})
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WritePump drains prioritySend ahead of send and writes a heartbeat frame
// on heartbeatEvery. Exits (and disconnects) on any write error.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.heartbeatEvery)
	defer func() {
		ticker.Stop()
		c.Disconnect()
	}()

	for {
		select {
		case raw, ok := <-c.prioritySend:
			if !ok {
				return
			}
			if !c.write(raw) {
				return
			}
		default:
		}

		select {
		case raw, ok := <-c.prioritySend:
			if !ok {
				return
			}
			if !c.write(raw) {
				return
			}
		case raw, ok := <-c.send:
			if !ok {
				return
			}
			if !c.write(raw) {
				return
			}
		case <-ticker.C:
			hb, _ := json.Marshal(Frame{Kind: "ping", Body: mustJSON(map[string]any{"server_time": time.Now().UTC()})})
			if !c.write(hb) {
				return
			}
		}
	}
}

func (c *Client) write(raw []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return false
	}
	return true
}

// ReadPump reads frames until the connection errors or the heartbeat
// deadline (2x heartbeatEvery) is missed, dispatching each to handle.
func (c *Client) ReadPump(ctx context.Context, handle func(ctx context.Context, c *Client, frame Frame)) {
	defer c.Disconnect()

	deadline := 2 * c.heartbeatEvery
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(deadline))

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logging.Warn(ctx, "transport: malformed frame")
			continue
		}
		if frame.RequestID == "" {
			frame.RequestID = uuid.NewString()
		}
		handle(ctx, c, frame)
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
