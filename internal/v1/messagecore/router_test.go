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

type recordingSender struct {
	mu    sync.Mutex
	kinds []string
}

func (s *recordingSender) SendFrame(priority types.Priority, kind string, payload any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
	return true
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kinds)
}

type stubRegistry struct {
	mu       sync.Mutex
	byClient map[types.ClientID]*recordingSender
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{byClient: make(map[types.ClientID]*recordingSender)}
}

func (r *stubRegistry) register(id types.ClientID) *recordingSender {
	s := &recordingSender{}
	r.mu.Lock()
	r.byClient[id] = s
	r.mu.Unlock()
	return s
}

func (r *stubRegistry) SessionsFor(id types.ClientID) []types.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byClient[id]
	if !ok {
		return nil
	}
	return []types.Recipient{{ClientID: id, ConnectionID: "c1", Sender: s}}
}

func (r *stubRegistry) AllExcept(exclude types.ClientID) []types.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Recipient
	for id, s := range r.byClient {
		if id == exclude {
			continue
		}
		out = append(out, types.Recipient{ClientID: id, ConnectionID: "c1", Sender: s})
	}
	return out
}

func newTestRouter() (*Router, *stubRegistry) {
	reg := newStubRegistry()
	router := NewRouter(NewPriorityQueue(), NewPendingTracker(nil), nil, reg)
	return router, reg
}

func TestRouter_Ingest_AssignsIDSeqAndDefaultsPriority(t *testing.T) {
	router, _ := newTestRouter()
	msg := &types.Message{FromClient: "alice", To: "bob", Type: "chat"}

	require.NoError(t, router.Ingest(context.Background(), msg))

	assert.NotEmpty(t, msg.ID)
	assert.Greater(t, msg.Seq, int64(0))
	assert.Equal(t, types.PriorityNormal, msg.Priority)
	assert.Equal(t, "pending", msg.Status)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestRouter_Ingest_RejectsWhenQueueOverloaded(t *testing.T) {
	router, _ := newTestRouter()
	router.Queue.size = QueueHardCap

	err := router.Ingest(context.Background(), &types.Message{FromClient: "alice", To: "bob", Type: "chat"})
	assert.ErrorIs(t, err, ErrOverloaded)
}

func TestRouter_DispatchToSingleRecipient(t *testing.T) {
	router, reg := newTestRouter()
	bob := reg.register("bob")

	require.NoError(t, router.Ingest(context.Background(), &types.Message{FromClient: "alice", To: "bob", Type: "chat"}))
	msg, ok := router.Queue.Dequeue()
	require.True(t, ok)
	router.dispatch(context.Background(), msg)

	assert.Equal(t, 1, bob.count())
}

func TestRouter_DispatchToAllExcludesSender(t *testing.T) {
	router, reg := newTestRouter()
	alice := reg.register("alice")
	bob := reg.register("bob")

	require.NoError(t, router.Ingest(context.Background(), &types.Message{FromClient: "alice", To: types.ToAll, Type: "chat"}))
	msg, ok := router.Queue.Dequeue()
	require.True(t, ok)
	router.dispatch(context.Background(), msg)

	assert.Equal(t, 0, alice.count())
	assert.Equal(t, 1, bob.count())
}

func TestRouter_DispatchTracksPendingForAckRequiringTypes(t *testing.T) {
	router, reg := newTestRouter()
	reg.register("bob")

	require.NoError(t, router.Ingest(context.Background(), &types.Message{FromClient: "alice", To: "bob", Type: "command"}))
	msg, ok := router.Queue.Dequeue()
	require.True(t, ok)
	router.dispatch(context.Background(), msg)

	router.Pending.mu.Lock()
	_, tracked := router.Pending.inflight[msg.ID]["bob"]
	router.Pending.mu.Unlock()
	assert.True(t, tracked)
}

func TestRouter_DispatchDoesNotTrackPendingForFireAndForgetTypes(t *testing.T) {
	router, reg := newTestRouter()
	reg.register("bob")

	require.NoError(t, router.Ingest(context.Background(), &types.Message{FromClient: "alice", To: "bob", Type: "chat"}))
	msg, ok := router.Queue.Dequeue()
	require.True(t, ok)
	router.dispatch(context.Background(), msg)

	router.Pending.mu.Lock()
	_, tracked := router.Pending.inflight[msg.ID]
	router.Pending.mu.Unlock()
	assert.False(t, tracked)
}

func TestRouter_Run_DrainsQueueUntilStopped(t *testing.T) {
	router, reg := newTestRouter()
	bob := reg.register("bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	require.NoError(t, router.Ingest(context.Background(), &types.Message{FromClient: "alice", To: "bob", Type: "chat"}))

	require.Eventually(t, func() bool {
		return bob.count() == 1
	}, time.Second, time.Millisecond)

	router.Stop()
}

func TestRouter_Ack_ClearsPendingAndMarksStoreAcked(t *testing.T) {
	store := newMemMessageStore()
	router := &Router{Queue: NewPriorityQueue(), Pending: NewPendingTracker(nil), Store: store, Registry: newStubRegistry(), stop: make(chan struct{})}
	ctx := context.Background()

	router.Pending.Track(ctx, "m1", "bob", time.Minute)
	router.Ack(ctx, "m1")

	router.Pending.mu.Lock()
	_, tracked := router.Pending.inflight["m1"]
	router.Pending.mu.Unlock()
	assert.False(t, tracked)
	assert.Equal(t, "acked", store.statusOf("m1"))
}

func TestRouter_RetryLoop_ReemitsDueDeliveryToCurrentSessions(t *testing.T) {
	store := newMemMessageStore()
	reg := newStubRegistry()
	bob := reg.register("bob")
	router := &Router{Queue: NewPriorityQueue(), Pending: NewPendingTracker(nil), Store: store, Registry: reg, stop: make(chan struct{})}
	ctx := context.Background()

	msg := &types.Message{ID: "m1", To: "bob", Type: "command", Priority: types.PriorityNormal}
	require.NoError(t, store.PutMessage(ctx, msg))
	router.Pending.Track(ctx, msg.ID, "bob", time.Hour)
	router.Pending.mu.Lock()
	router.Pending.inflight["m1"]["bob"].NextAttempt = time.Now().Add(-time.Second)
	router.Pending.mu.Unlock()

	retryCtx, cancel := context.WithCancel(ctx)
	go router.RetryLoop(retryCtx, time.Millisecond)
	defer cancel()

	require.Eventually(t, func() bool {
		return bob.count() > 0
	}, 2*time.Second, time.Millisecond)
}

func TestRouter_RetryLoop_InvokesOnFailureWhenExhausted(t *testing.T) {
	store := newMemMessageStore()
	reg := newStubRegistry()
	router := &Router{Queue: NewPriorityQueue(), Pending: NewPendingTracker(nil), Store: store, Registry: reg, stop: make(chan struct{})}
	ctx := context.Background()

	require.NoError(t, store.PutMessage(ctx, &types.Message{ID: "m1", FromClient: "alice", To: "bob", Type: "command"}))
	router.Pending.Track(ctx, "m1", "bob", time.Hour)
	router.Pending.mu.Lock()
	d := router.Pending.inflight["m1"]["bob"]
	d.Attempts = MaxAttempts
	d.NextAttempt = time.Now().Add(-time.Second)
	router.Pending.mu.Unlock()

	var failedClient types.ClientID
	var failedMsgID string
	done := make(chan struct{})
	router.OnFailure = func(sender types.ClientID, messageID string) {
		failedClient, failedMsgID = sender, messageID
		close(done)
	}

	retryCtx, cancel := context.WithCancel(ctx)
	go router.RetryLoop(retryCtx, time.Millisecond)
	defer cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailure was never invoked")
	}
	assert.Equal(t, types.ClientID("alice"), failedClient)
	assert.Equal(t, "m1", failedMsgID)
}
