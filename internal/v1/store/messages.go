package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentbus/broker/internal/v1/metrics"
	"github.com/agentbus/broker/internal/v1/types"
)

func (s *Store) PutMessage(ctx context.Context, m *types.Message) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.writer.ExecContext(ctx,
		`INSERT INTO messages (id, seq, from_client, to_target, type, priority, payload_blob, metadata_blob, created_at, ttl_seconds, reply_to, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		m.ID, m.Seq, string(m.FromClient), m.To, m.Type, string(m.Priority), payload, meta,
		m.CreatedAt.Format(timeLayout), m.TTLSeconds, m.ReplyTo, m.Status)
	metrics.PersistenceWrites.WithLabelValues("messages", outcome(err)).Inc()
	return err
}

func (s *Store) SetMessageStatus(ctx context.Context, id, status string) error {
	_, err := s.writer.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id = ?`, status, id)
	metrics.PersistenceWrites.WithLabelValues("messages", outcome(err)).Inc()
	return err
}

func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT id, seq, from_client, to_target, type, priority, payload_blob, metadata_blob, created_at, ttl_seconds, reply_to, status
		 FROM messages WHERE id = ?`, id)

	var m types.Message
	var from, priority string
	var payload, meta []byte
	var createdAt string
	var ttl sql.NullInt64
	var replyTo sql.NullString
	if err := row.Scan(&m.ID, &m.Seq, &from, &m.To, &m.Type, &priority, &payload, &meta, &createdAt, &ttl, &replyTo, &m.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.FromClient = types.ClientID(from)
	m.Priority = types.Priority(priority)
	m.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	m.TTLSeconds = int(ttl.Int64)
	m.ReplyTo = replyTo.String
	_ = json.Unmarshal(payload, &m.Payload)
	_ = json.Unmarshal(meta, &m.Metadata)
	return &m, nil
}

func (s *Store) PutPendingDelivery(ctx context.Context, d *types.PendingDelivery) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO pending_deliveries (message_id, recipient, attempts, next_attempt_at, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(message_id, recipient) DO UPDATE SET attempts=excluded.attempts, next_attempt_at=excluded.next_attempt_at`,
		d.MessageID, string(d.Recipient), d.Attempts, d.NextAttempt.Format(timeLayout), d.CreatedAt.Format(timeLayout), d.ExpiresAt.Format(timeLayout))
	metrics.PersistenceWrites.WithLabelValues("pending_deliveries", outcome(err)).Inc()
	return err
}

func (s *Store) DeletePendingDelivery(ctx context.Context, messageID string, recipient types.ClientID) error {
	_, err := s.writer.ExecContext(ctx,
		`DELETE FROM pending_deliveries WHERE message_id = ? AND recipient = ?`, messageID, string(recipient))
	metrics.PersistenceWrites.WithLabelValues("pending_deliveries", outcome(err)).Inc()
	return err
}

func (s *Store) ListDuePendingDeliveries(ctx context.Context, before time.Time) ([]*types.PendingDelivery, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT message_id, recipient, attempts, next_attempt_at, created_at, expires_at FROM pending_deliveries WHERE next_attempt_at <= ?`,
		before.Format(timeLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.PendingDelivery
	for rows.Next() {
		var d types.PendingDelivery
		var recipient, nextAttempt, createdAt, expiresAt string
		if err := rows.Scan(&d.MessageID, &recipient, &d.Attempts, &nextAttempt, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		d.Recipient = types.ClientID(recipient)
		d.NextAttempt, _ = time.Parse(timeLayout, nextAttempt)
		d.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		d.ExpiresAt, _ = time.Parse(timeLayout, expiresAt)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *Store) DeleteOldPendingDeliveries(ctx context.Context, olderThan time.Time) error {
	_, err := s.writer.ExecContext(ctx,
		`DELETE FROM pending_deliveries WHERE created_at < ?`, olderThan.Format(timeLayout))
	metrics.PersistenceWrites.WithLabelValues("pending_deliveries", outcome(err)).Inc()
	return err
}
