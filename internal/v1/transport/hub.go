package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agentbus/broker/internal/v1/auth"
	"github.com/agentbus/broker/internal/v1/logging"
	"github.com/agentbus/broker/internal/v1/types"
)

// TokenValidator authenticates a bearer token to a client id; the Hub does
// not call it when AUTH_ENABLED=false.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// Registry is the subset of the Session Registry the Hub needs.
type Registry interface {
	Register(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender) (*types.Session, error)
	Deregister(clientID types.ClientID, connID types.ConnectionID)
	Heartbeat(clientID types.ClientID, connID types.ConnectionID)
}

// FrameHandler processes one inbound frame after session bookkeeping
// (auth, registry lookup) has already happened; wired from cmd/broker to
// the messagecore Router and the Room Engine's room_op dispatcher.
type FrameHandler func(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender, frame Frame)

// Hub serves the bidirectional websocket endpoint; the polling send/fetch
// endpoints are served by PollingSurface against the same Registry and
// FrameHandler. Grounded on the teacher's ServeWs auth -> upgrade ->
// register flow.
type Hub struct {
	validator       TokenValidator
	authEnabled     bool
	registry        Registry
	handle          FrameHandler
	allowedOrigins  []string
	heartbeatEvery  time.Duration
}

func NewHub(validator TokenValidator, authEnabled bool, registry Registry, handle FrameHandler, allowedOrigins []string, heartbeatEvery time.Duration) *Hub {
	return &Hub{
		validator:      validator,
		authEnabled:    authEnabled,
		registry:       registry,
		handle:         handle,
		allowedOrigins: allowedOrigins,
		heartbeatEvery: heartbeatEvery,
	}
}

// ServeWs upgrades the connection after authenticating the bearer token
// (when enabled) and registering a new Session; it then runs the read/
// write pumps until the connection closes.
func (h *Hub) ServeWs(c *gin.Context) {
	ctx := c.Request.Context()

	clientID, ok := h.authenticate(c)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return auth.OriginAllowed(r.Header.Get("Origin"), h.allowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "transport: upgrade failed")
		return
	}

	connID := types.ConnectionID(newConnID())
	client := NewClient(conn, connID, types.ClientID(clientID), h.heartbeatEvery, func() {
		h.registry.Deregister(types.ClientID(clientID), connID)
	})

	if _, err := h.registry.Register(ctx, types.ClientID(clientID), connID, client); err != nil {
		errFrame, _ := NewErrorFrame("overloaded", err.Error(), "")
		_ = conn.WriteMessage(websocket.TextMessage, errFrame)
		_ = conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump(ctx, func(ctx context.Context, c *Client, frame Frame) {
		if frame.Kind == "pong" {
			h.registry.Heartbeat(c.ClientID, c.ConnectionID)
			return
		}
		h.registry.Heartbeat(c.ClientID, c.ConnectionID)
		h.handle(ctx, c.ClientID, c.ConnectionID, c, frame)
	})
}

func (h *Hub) authenticate(c *gin.Context) (string, bool) {
	if !h.authEnabled {
		return c.Query("client_id"), true
	}
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "auth_required", "message": "token not provided"})
		return "", false
	}
	clientID, err := h.validator.ValidateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "auth_invalid", "message": "invalid token"})
		return "", false
	}
	return clientID, true
}

func newConnID() string {
	return uuid.NewString()
}
