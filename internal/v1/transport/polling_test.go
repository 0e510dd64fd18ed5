package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbus/broker/internal/v1/types"
)

func runGinHandler(t *testing.T, h gin.HandlerFunc, method, path, body string, set map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	for k, v := range set {
		c.Set(k, v)
	}
	h(c)
	return w
}

func TestPollingSurface_Send_AcceptsValidBodyAndDispatches(t *testing.T) {
	registry := &fakeRegistry{}
	var gotFrame Frame
	var gotClient types.ClientID
	handle := func(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender, frame Frame) {
		gotClient = clientID
		gotFrame = frame
	}
	p := NewPollingSurface(registry, handle)

	w := runGinHandler(t, p.Send, http.MethodPost, "/v1/send",
		`{"to":"bob","type":"chat","payload":{"text":"hi"}}`,
		map[string]string{"client_id": "alice", "request_id": "req-1"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, types.ClientID("alice"), gotClient)
	assert.Equal(t, "send", gotFrame.Kind)
	assert.Equal(t, "req-1", gotFrame.RequestID)
}

func TestPollingSurface_Send_RejectsMalformedBody(t *testing.T) {
	p := NewPollingSurface(&fakeRegistry{}, func(context.Context, types.ClientID, types.ConnectionID, types.Sender, Frame) {})

	w := runGinHandler(t, p.Send, http.MethodPost, "/v1/send", `{not json`, map[string]string{"client_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPollingSurface_Fetch_ReturnsEmptyForUnknownClient(t *testing.T) {
	p := NewPollingSurface(&fakeRegistry{}, func(context.Context, types.ClientID, types.ConnectionID, types.Sender, Frame) {})

	w := runGinHandler(t, p.Fetch, http.MethodGet, "/v1/fetch?since_seq=0", "", map[string]string{"client_id": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestPollingSurface_Fetch_DrainsBacklogAfterSend(t *testing.T) {
	registry := &fakeRegistry{}
	handle := func(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender, frame Frame) {
		sender.SendFrame(types.PriorityNormal, "deliver", map[string]any{"text": "hello"})
	}
	p := NewPollingSurface(registry, handle)

	w := runGinHandler(t, p.Send, http.MethodPost, "/v1/send",
		`{"to":"bob","type":"chat","payload":{}}`, map[string]string{"client_id": "alice"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = runGinHandler(t, p.Fetch, http.MethodGet, "/v1/fetch?since_seq=0", "", map[string]string{"client_id": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")

	// A second fetch with nothing new queued returns an empty backlog.
	w = runGinHandler(t, p.Fetch, http.MethodGet, "/v1/fetch?since_seq=0", "", map[string]string{"client_id": "alice"})
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}
