package messagecore

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/agentbus/broker/internal/v1/types"
)

// TTLPolicy maps a message type to its time-to-live; unmapped types use
// DefaultTTL.
var TTLPolicy = map[string]time.Duration{
	"error":   time.Hour,
	"log":     24 * time.Hour,
	"command": 7 * 24 * time.Hour,
	"audit":   0, // never expires
}

const DefaultTTL = 24 * time.Hour

// TTLFor resolves the effective TTL for a message, honoring an explicit
// per-message override before falling back to the type policy.
func TTLFor(msgType string, overrideSeconds int) time.Duration {
	if overrideSeconds > 0 {
		return time.Duration(overrideSeconds) * time.Second
	}
	if ttl, ok := TTLPolicy[msgType]; ok {
		return ttl
	}
	return DefaultTTL
}

type heapEntry struct {
	expiresAt time.Time
	messageID string
	msgType   string
}

type expiryHeap []heapEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(heapEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ArchiveCallback is invoked with a message's id on TTL expiry, before the
// message is marked expired in the store; default is a no-op.
type ArchiveCallback func(messageID string)

// TTLSweeper maintains a min-heap of (expires_at, message_id). On expiry it
// calls the archive callback and then sets the message's status to
// "expired" in the MessageStore; the message row is not deleted.
type TTLSweeper struct {
	mu      sync.Mutex
	heap    expiryHeap
	store   MessageStore
	archive ArchiveCallback
}

func NewTTLSweeper(store MessageStore, archive ArchiveCallback) *TTLSweeper {
	if archive == nil {
		archive = func(string) {}
	}
	return &TTLSweeper{store: store, archive: archive}
}

// Track schedules msg for expiry according to its type/ttl policy. A zero
// duration (audit messages) means "never expires" and is not scheduled.
func (s *TTLSweeper) Track(msg *types.Message) {
	ttl := TTLFor(msg.Type, msg.TTLSeconds)
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	heap.Push(&s.heap, heapEntry{expiresAt: msg.CreatedAt.Add(ttl), messageID: msg.ID, msgType: msg.Type})
	s.mu.Unlock()
}

// Sweep removes and archives every entry whose expiry has passed.
func (s *TTLSweeper) Sweep(ctx context.Context) {
	now := time.Now()
	var expired []heapEntry
	s.mu.Lock()
	for s.heap.Len() > 0 && s.heap[0].expiresAt.Before(now) {
		expired = append(expired, heap.Pop(&s.heap).(heapEntry))
	}
	s.mu.Unlock()

	for _, e := range expired {
		s.archive(e.messageID)
		if s.store != nil {
			_ = s.store.SetMessageStatus(ctx, e.messageID, "expired")
		}
	}
}

// Run ticks Sweep on interval until ctx is cancelled.
func (s *TTLSweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
