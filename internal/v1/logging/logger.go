// Package logging provides a package-level structured logger used across
// the broker. It mirrors the teacher's logging package: a singleton built
// once via Initialize, helpers that pull correlation fields out of a
// context.Context, and an email-redaction helper for log hygiene.
package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	ClientIDKey  contextKey = "client_id"
	RoomIDKey    contextKey = "room_id"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the package-level logger. development=true selects a
// human-readable console encoder; false selects JSON for production.
func Initialize(development bool) {
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
		}
		l, err := cfg.Build()
		if err != nil {
			// Fall back to a no-op logger rather than crash on a logging
			// misconfiguration; the broker's liveness must not depend on it.
			l = zap.NewNop()
		}
		logger = l
	})
}

// GetLogger returns the package logger, initializing a production default
// if Initialize was never called.
func GetLogger() *zap.Logger {
	if logger == nil {
		Initialize(false)
	}
	return logger
}

func appendContextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v, ok := ctx.Value(ClientIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("client_id", v))
	}
	if v, ok := ctx.Value(RoomIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("room_id", v))
	}
	return fields
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Info(msg, appendContextFields(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, appendContextFields(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Error(msg, appendContextFields(ctx, fields)...)
}

func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, appendContextFields(ctx, fields)...)
}

// WithRequestID returns a child context carrying the request id for later
// log calls made on that context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientIDKey, id)
}

func WithRoomID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RoomIDKey, id)
}

// RedactEmail masks all but the first character of the local part of an
// email address, e.g. "alice@example.com" -> "a****@example.com".
func RedactEmail(email string) string {
	at := -1
	for i, c := range email {
		if c == '@' {
			at = i
			break
		}
	}
	if at <= 0 {
		return "****"
	}
	return email[:1] + "****" + email[at:]
}
