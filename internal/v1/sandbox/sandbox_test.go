package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefusingSandbox_AlwaysRefusesAndIsUnhealthy(t *testing.T) {
	sb := NewRefusingSandbox()
	err := sb.Submit(context.Background(), Request{ExecID: "e1"})
	require.Error(t, err)
	assert.Equal(t, ErrDisabled, err)
	assert.False(t, sb.Healthy(context.Background()))
}

func TestHTTPSandbox_SubmitPostsRequestBody(t *testing.T) {
	var gotKind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotKind, _ = body["kind"].(string)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sb := NewHTTPSandbox(srv.URL)
	err := sb.Submit(context.Background(), Request{ExecID: "e1", Language: "python", Code: "print(1)", Timeout: 5})
	require.NoError(t, err)
	assert.Equal(t, "code_execution_requested", gotKind)
}

func TestHTTPSandbox_SubmitFailsOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sb := NewHTTPSandbox(srv.URL)
	err := sb.Submit(context.Background(), Request{ExecID: "e1"})
	require.Error(t, err)
}

func TestHTTPSandbox_HealthyReflectsEndpointStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sb := NewHTTPSandbox(srv.URL)
	assert.True(t, sb.Healthy(context.Background()))
}

func TestHTTPSandbox_UnhealthyOnUnreachableEndpoint(t *testing.T) {
	sb := NewHTTPSandbox("http://127.0.0.1:1")
	assert.False(t, sb.Healthy(context.Background()))
}
