package messagecore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentbus/broker/internal/v1/types"
)

type memMessageStore struct {
	mu       sync.Mutex
	statuses map[string]string
	messages map[string]*types.Message
}

func newMemMessageStore() *memMessageStore {
	return &memMessageStore{statuses: make(map[string]string), messages: make(map[string]*types.Message)}
}

func (s *memMessageStore) PutMessage(ctx context.Context, m *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[m.ID] = m.Status
	s.messages[m.ID] = m
	return nil
}

func (s *memMessageStore) SetMessageStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *memMessageStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id], nil
}

func (s *memMessageStore) statusOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func TestTTLFor_OverrideWinsOverPolicy(t *testing.T) {
	assert.Equal(t, 42*time.Second, TTLFor("command", 42))
}

func TestTTLFor_FallsBackToTypePolicy(t *testing.T) {
	assert.Equal(t, time.Hour, TTLFor("error", 0))
	assert.Equal(t, 24*time.Hour, TTLFor("log", 0))
	assert.Equal(t, 7*24*time.Hour, TTLFor("command", 0))
}

func TestTTLFor_AuditNeverExpires(t *testing.T) {
	assert.Equal(t, time.Duration(0), TTLFor("audit", 0))
}

func TestTTLFor_UnknownTypeUsesDefault(t *testing.T) {
	assert.Equal(t, DefaultTTL, TTLFor("unknown_type", 0))
}

func TestTTLSweeper_SweepsExpiredInOrderAndSkipsUnexpired(t *testing.T) {
	store := newMemMessageStore()
	var archived []string
	sweeper := NewTTLSweeper(store, func(id string) { archived = append(archived, id) })

	now := time.Now()
	sweeper.Track(&types.Message{ID: "late", Type: "error", CreatedAt: now.Add(-2 * time.Hour)})
	sweeper.Track(&types.Message{ID: "soon", Type: "error", CreatedAt: now.Add(-61 * time.Minute)})
	sweeper.Track(&types.Message{ID: "fresh", Type: "error", CreatedAt: now})

	sweeper.Sweep(context.Background())

	assert.Equal(t, []string{"late", "soon"}, archived)
	assert.Equal(t, "expired", store.statusOf("late"))
	assert.Equal(t, "expired", store.statusOf("soon"))
	assert.Empty(t, store.statusOf("fresh"))
}

func TestTTLSweeper_AuditMessageNeverScheduled(t *testing.T) {
	sweeper := NewTTLSweeper(nil, nil)
	sweeper.Track(&types.Message{ID: "m1", Type: "audit", CreatedAt: time.Now().Add(-365 * 24 * time.Hour)})
	assert.Equal(t, 0, sweeper.heap.Len())
}

func TestTTLSweeper_NilArchiveDefaultsToNoOp(t *testing.T) {
	sweeper := NewTTLSweeper(nil, nil)
	sweeper.Track(&types.Message{ID: "m1", Type: "error", CreatedAt: time.Now().Add(-2 * time.Hour)})
	assert.NotPanics(t, func() { sweeper.Sweep(context.Background()) })
}

func TestTTLSweeper_Run_StopsOnContextCancel(t *testing.T) {
	sweeper := NewTTLSweeper(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}

func TestTTLSweeper_RunSweepsOnTick(t *testing.T) {
	store := newMemMessageStore()
	sweeper := NewTTLSweeper(store, nil)
	sweeper.Track(&types.Message{ID: "m1", Type: "error", CreatedAt: time.Now().Add(-2 * time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx, time.Millisecond)

	require.Eventually(t, func() bool {
		return store.statusOf("m1") == "expired"
	}, time.Second, time.Millisecond)
}
