package messagecore

import (
	"context"
	"sync"
	"time"

	"github.com/agentbus/broker/internal/v1/metrics"
	"github.com/agentbus/broker/internal/v1/types"
)

// Default ack/retry tuning, per spec §4.4.
const (
	BaseDelay      = 5 * time.Second
	MaxBackoff     = 5 * time.Minute
	MaxAttempts    = 5
	PendingSweepTTL = 10 * time.Minute
)

// PendingStore persists Pending Delivery rows; implemented by
// internal/v1/store.
type PendingStore interface {
	PutPendingDelivery(ctx context.Context, d *types.PendingDelivery) error
	DeletePendingDelivery(ctx context.Context, messageID string, recipient types.ClientID) error
	ListDuePendingDeliveries(ctx context.Context, before time.Time) ([]*types.PendingDelivery, error)
	DeleteOldPendingDeliveries(ctx context.Context, olderThan time.Time) error
}

// PendingTracker tracks in-flight Pending Deliveries in memory, backed by
// PendingStore for crash recovery.
type PendingTracker struct {
	mu       sync.Mutex
	inflight map[string]map[types.ClientID]*types.PendingDelivery // message_id -> recipient -> delivery
	store    PendingStore
}

func NewPendingTracker(store PendingStore) *PendingTracker {
	return &PendingTracker{
		inflight: make(map[string]map[types.ClientID]*types.PendingDelivery),
		store:    store,
	}
}

// Track records a new pending delivery for (messageID, recipient).
func (t *PendingTracker) Track(ctx context.Context, messageID string, recipient types.ClientID, ttl time.Duration) {
	now := time.Now()
	d := &types.PendingDelivery{
		MessageID:   messageID,
		Recipient:   recipient,
		Attempts:    0,
		NextAttempt: now.Add(BaseDelay),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	t.mu.Lock()
	if t.inflight[messageID] == nil {
		t.inflight[messageID] = make(map[types.ClientID]*types.PendingDelivery)
	}
	t.inflight[messageID][recipient] = d
	t.mu.Unlock()

	if t.store != nil {
		_ = t.store.PutPendingDelivery(ctx, d)
	}
}

// Ack clears the Pending Delivery for (messageID, recipient); a no-op if
// none exists (duplicate or already-expired ack).
func (t *PendingTracker) Ack(ctx context.Context, messageID string, recipient types.ClientID) {
	t.mu.Lock()
	if byRecipient, ok := t.inflight[messageID]; ok {
		delete(byRecipient, recipient)
		if len(byRecipient) == 0 {
			delete(t.inflight, messageID)
		}
	}
	t.mu.Unlock()

	if t.store != nil {
		_ = t.store.DeletePendingDelivery(ctx, messageID, recipient)
	}
}

// AckAny clears the Pending Delivery for messageID regardless of which
// recipient acked (a client_id may have reconnected under a new session).
func (t *PendingTracker) AckAny(ctx context.Context, messageID string) {
	t.mu.Lock()
	recipients := t.inflight[messageID]
	delete(t.inflight, messageID)
	t.mu.Unlock()

	if t.store != nil {
		for recipient := range recipients {
			_ = t.store.DeletePendingDelivery(ctx, messageID, recipient)
		}
	}
}

// DueRetries returns every tracked delivery whose NextAttempt has passed
// and has not exceeded MaxAttempts or expired.
func (t *PendingTracker) DueRetries(now time.Time) []*types.PendingDelivery {
	t.mu.Lock()
	defer t.mu.Unlock()

	var due []*types.PendingDelivery
	for messageID, byRecipient := range t.inflight {
		for recipient, d := range byRecipient {
			if now.After(d.ExpiresAt) || d.Attempts > MaxAttempts {
				delete(byRecipient, recipient)
				continue
			}
			if !now.Before(d.NextAttempt) {
				due = append(due, d)
			}
			_ = messageID
		}
	}
	return due
}

// RecordAttempt bumps the attempt count and schedules the next attempt
// with exponential backoff, returning (exhausted=true) once MaxAttempts is
// passed so the caller can mark the delivery failed.
func (t *PendingTracker) RecordAttempt(ctx context.Context, d *types.PendingDelivery) (exhausted bool) {
	t.mu.Lock()
	d.Attempts++
	backoff := BaseDelay
	for i := 0; i < d.Attempts && backoff < MaxBackoff; i++ {
		backoff *= 2
	}
	if backoff > MaxBackoff {
		backoff = MaxBackoff
	}
	d.NextAttempt = time.Now().Add(backoff)
	exhausted = d.Attempts > MaxAttempts
	if exhausted {
		if byRecipient, ok := t.inflight[d.MessageID]; ok {
			delete(byRecipient, d.Recipient)
		}
	}
	t.mu.Unlock()

	if t.store != nil {
		if exhausted {
			_ = t.store.DeletePendingDelivery(ctx, d.MessageID, d.Recipient)
		} else {
			_ = t.store.PutPendingDelivery(ctx, d)
		}
	}
	if exhausted {
		metrics.DeliveryFailures.WithLabelValues("command").Inc()
	}
	return exhausted
}

// Sweep purges persisted deliveries created more than PendingSweepTTL ago,
// whatever their attempt count; run on a 2-minute cadence per §4.6.
func (t *PendingTracker) Sweep(ctx context.Context) {
	if t.store == nil {
		return
	}
	_ = t.store.DeleteOldPendingDeliveries(ctx, time.Now().Add(-PendingSweepTTL))
}
