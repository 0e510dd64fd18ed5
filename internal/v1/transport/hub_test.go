package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbus/broker/internal/v1/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeValidator struct {
	clientID string
	err      error
}

func (v fakeValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v.err != nil {
		return "", v.err
	}
	return v.clientID, nil
}

type fakeRegistry struct {
	mu          sync.Mutex
	registered  []types.ClientID
	heartbeats  int
	deregisters int
	registerErr error
}

func (r *fakeRegistry) Register(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return nil, r.registerErr
	}
	r.registered = append(r.registered, clientID)
	return &types.Session{ClientID: clientID, ConnectionID: connID}, nil
}

func (r *fakeRegistry) Deregister(clientID types.ClientID, connID types.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisters++
}

func (r *fakeRegistry) Heartbeat(clientID types.ClientID, connID types.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
}

func (r *fakeRegistry) heartbeatCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

func TestHub_Authenticate_DisabledReadsClientIDFromQuery(t *testing.T) {
	h := NewHub(nil, false, &fakeRegistry{}, nil, nil, time.Second)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?client_id=alice", nil)

	id, ok := h.authenticate(c)
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
}

func TestHub_Authenticate_EnabledRejectsMissingToken(t *testing.T) {
	h := NewHub(fakeValidator{clientID: "alice"}, true, &fakeRegistry{}, nil, nil, time.Second)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws", nil)

	_, ok := h.authenticate(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHub_Authenticate_EnabledRejectsInvalidToken(t *testing.T) {
	h := NewHub(fakeValidator{err: errors.New("bad token")}, true, &fakeRegistry{}, nil, nil, time.Second)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?token=bogus", nil)

	_, ok := h.authenticate(c)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHub_Authenticate_EnabledAcceptsValidToken(t *testing.T) {
	h := NewHub(fakeValidator{clientID: "alice"}, true, &fakeRegistry{}, nil, nil, time.Second)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ws?token=good", nil)

	id, ok := h.authenticate(c)
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
}

func TestHub_ServeWs_RegistersAndDispatchesInboundFrame(t *testing.T) {
	registry := &fakeRegistry{}
	handled := make(chan Frame, 1)
	handle := func(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender, frame Frame) {
		handled <- frame
	}
	hub := NewHub(nil, false, registry, handle, nil, time.Minute)

	router := gin.New()
	router.GET("/ws", hub.ServeWs)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?client_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"send","body":{"to":"bob","type":"chat"}}`)))

	select {
	case frame := <-handled:
		assert.Equal(t, "send", frame.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	require.Eventually(t, func() bool { return registry.heartbeatCount() > 0 }, time.Second, time.Millisecond)
	registry.mu.Lock()
	assert.Equal(t, []types.ClientID{"alice"}, registry.registered)
	registry.mu.Unlock()
}

func TestHub_ServeWs_RejectsWhenRegistryOverCapacity(t *testing.T) {
	registry := &fakeRegistry{registerErr: errors.New("over capacity")}
	hub := NewHub(nil, false, registry, func(context.Context, types.ClientID, types.ConnectionID, types.Sender, Frame) {}, nil, time.Minute)

	router := gin.New()
	router.GET("/ws", hub.ServeWs)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?client_id=alice"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "overloaded")
}
