package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/agentbus/broker/internal/v1/auth"
	"github.com/agentbus/broker/internal/v1/metrics"
)

const timeLayout = time.RFC3339Nano

func (s *Store) GetToken(ctx context.Context, token string) (*auth.Token, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT token, client_id, created_at, expires_at, revoked FROM tokens WHERE token = ?`, token)

	var t auth.Token
	var createdAt string
	var expiresAt sql.NullString
	var revoked int
	if err := row.Scan(&t.Token, &t.ClientID, &createdAt, &expiresAt, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if expiresAt.Valid {
		t.ExpiresAt, _ = time.Parse(timeLayout, expiresAt.String)
	}
	t.Revoked = revoked != 0
	return &t, nil
}

func (s *Store) PutToken(ctx context.Context, t *auth.Token) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO tokens (token, client_id, created_at, expires_at, revoked) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(token) DO UPDATE SET client_id=excluded.client_id, expires_at=excluded.expires_at, revoked=excluded.revoked`,
		t.Token, t.ClientID, t.CreatedAt.Format(timeLayout), t.ExpiresAt.Format(timeLayout), boolToInt(t.Revoked))
	metrics.PersistenceWrites.WithLabelValues("tokens", outcome(err)).Inc()
	return err
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	_, err := s.writer.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE token = ?`, token)
	metrics.PersistenceWrites.WithLabelValues("tokens", outcome(err)).Inc()
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
