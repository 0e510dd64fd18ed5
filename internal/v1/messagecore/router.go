package messagecore

import (
	"context"
	"time"

	"github.com/agentbus/broker/internal/v1/logging"
	"github.com/agentbus/broker/internal/v1/metrics"
	"github.com/agentbus/broker/internal/v1/types"
)

// MessageStore persists messages for recovery, status tracking, and
// redelivery lookups.
type MessageStore interface {
	PutMessage(ctx context.Context, m *types.Message) error
	SetMessageStatus(ctx context.Context, id, status string) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
}

// Router drains the priority queue and dispatches each message to the
// recipients resolved by a RecipientSource (the Session Registry),
// tracking Pending Deliveries for ack-requiring types and retrying on a
// timer until acked, TTL-expired, or attempts exhausted.
type Router struct {
	Queue     *PriorityQueue
	Pending   *PendingTracker
	Store     MessageStore
	Registry  types.RecipientSource
	OnFailure func(sender types.ClientID, messageID string)

	stop chan struct{}
}

func NewRouter(queue *PriorityQueue, pending *PendingTracker, store MessageStore, registry types.RecipientSource) *Router {
	return &Router{
		Queue:    queue,
		Pending:  pending,
		Store:    store,
		Registry: registry,
		stop:     make(chan struct{}),
	}
}

// Ingest validates, fingerprints, and enqueues msg. Returns the assigned
// id/seq via the mutated msg.
func (r *Router) Ingest(ctx context.Context, msg *types.Message) error {
	msg.ID = NewMessageID()
	msg.Seq = NextSeq()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if !msg.Priority.Valid() {
		msg.Priority = types.PriorityNormal
	}
	msg.Status = "pending"

	if r.Store != nil {
		if err := r.Store.PutMessage(ctx, msg); err != nil {
			return err
		}
	}
	if err := r.Queue.Enqueue(msg); err != nil {
		metrics.MessagesDropped.WithLabelValues(string(msg.Priority), "overloaded").Inc()
		return err
	}
	metrics.MessagesIn.WithLabelValues(string(msg.Priority)).Inc()
	return nil
}

// Run drains the queue on the calling goroutine until ctx is cancelled;
// callers typically run this in its own goroutine from cmd/broker.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			for {
				msg, ok := r.Queue.Dequeue()
				if !ok {
					break
				}
				r.dispatch(ctx, msg)
			}
		}
	}
}

// Stop halts Run.
func (r *Router) Stop() { close(r.stop) }

func (r *Router) dispatch(ctx context.Context, msg *types.Message) {
	var recipients []types.Recipient
	if msg.To == types.ToAll {
		recipients = r.Registry.AllExcept(msg.FromClient)
	} else {
		recipients = r.Registry.SessionsFor(types.ClientID(msg.To))
	}

	for _, rec := range recipients {
		rec.Sender.SendFrame(msg.Priority, "deliver", msg)
		metrics.MessagesOut.WithLabelValues(string(msg.Priority)).Inc()
	}

	if types.RequiresAck(msg.Type) {
		ttl := time.Duration(msg.TTLSeconds) * time.Second
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		r.Pending.Track(ctx, msg.ID, types.ClientID(msg.To), ttl)
	}
}

// Ack clears the pending delivery for messageID from the consumer's ack
// frame.
func (r *Router) Ack(ctx context.Context, messageID string) {
	r.Pending.AckAny(ctx, messageID)
	if r.Store != nil {
		_ = r.Store.SetMessageStatus(ctx, messageID, "acked")
	}
}

// RetryLoop re-emits due pending deliveries on a fixed cadence until ctx
// is cancelled; run as a background worker alongside Run.
func (r *Router) RetryLoop(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, d := range r.Pending.DueRetries(now) {
				exhausted := r.Pending.RecordAttempt(ctx, d)
				if exhausted {
					logging.Warn(ctx, "pending delivery exhausted")
					if r.OnFailure != nil && r.Store != nil {
						if msg, err := r.Store.GetMessage(ctx, d.MessageID); err == nil && msg != nil {
							r.OnFailure(msg.FromClient, d.MessageID)
						}
					}
					if r.Store != nil {
						_ = r.Store.SetMessageStatus(ctx, d.MessageID, "failed")
					}
					continue
				}
				if r.Store == nil {
					continue
				}
				msg, err := r.Store.GetMessage(ctx, d.MessageID)
				if err != nil || msg == nil {
					continue
				}
				// Recipient may have reconnected under a new session; every
				// current session for the client id gets the re-emission.
				for _, rec := range r.Registry.SessionsFor(d.Recipient) {
					rec.Sender.SendFrame(msg.Priority, "deliver", msg)
				}
			}
		}
	}
}
