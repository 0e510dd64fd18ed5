package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestGetLogger_InitializesLazily(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestInfoWarnErrorDoNotPanicWithoutContextFields(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		Info(ctx, "hello")
		Warn(ctx, "careful")
		Error(ctx, "broken")
	})
}

func TestAppendContextFields_PullsCorrelationIDsOutOfContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithClientID(ctx, "alice")
	ctx = WithRoomID(ctx, "room-1")

	fields := appendContextFields(ctx, nil)
	names := make(map[string]string)
	for _, f := range fields {
		names[f.Key] = f.String
	}
	assert.Equal(t, "req-1", names["request_id"])
	assert.Equal(t, "alice", names["client_id"])
	assert.Equal(t, "room-1", names["room_id"])
}

func TestAppendContextFields_NilContextReturnsFieldsUnchanged(t *testing.T) {
	fields := appendContextFields(nil, []zap.Field{zap.String("k", "v")})
	assert.Len(t, fields, 1)
}

func TestAppendContextFields_SkipsEmptyValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	fields := appendContextFields(ctx, nil)
	assert.Empty(t, fields)
}

func TestRedactEmail_MasksLocalPartKeepingFirstCharAndDomain(t *testing.T) {
	assert.Equal(t, "a****@example.com", RedactEmail("alice@example.com"))
}

func TestRedactEmail_NoAtSignReturnsFullMask(t *testing.T) {
	assert.Equal(t, "****", RedactEmail("not-an-email"))
}

func TestRedactEmail_AtSignAtStartReturnsFullMask(t *testing.T) {
	assert.Equal(t, "****", RedactEmail("@example.com"))
}
