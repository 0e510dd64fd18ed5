package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorFrame_MarshalsCodeMessageAndRequestID(t *testing.T) {
	raw, err := NewErrorFrame("validation_failed", "bad input", "req-1")
	require.NoError(t, err)

	var frame Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "error", frame.Kind)
	assert.Equal(t, "req-1", frame.RequestID)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(frame.Body, &body))
	assert.Equal(t, "validation_failed", body.Code)
	assert.Equal(t, "bad input", body.Message)
	assert.Equal(t, "req-1", body.RequestID)
}

func TestFrame_RoundTripsSendBody(t *testing.T) {
	body := SendBody{To: "bob", Type: "chat", Payload: map[string]any{"text": "hi"}, Priority: "HIGH"}
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	frame := Frame{Kind: "send", Body: raw}
	encoded, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded Frame
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	var decodedBody SendBody
	require.NoError(t, json.Unmarshal(decoded.Body, &decodedBody))
	assert.Equal(t, body, decodedBody)
}
