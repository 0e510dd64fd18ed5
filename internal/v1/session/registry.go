// Package session implements the Session Registry: the broker's mapping
// of client_id to the set of its live connections, connection-cap
// enforcement, and heartbeat-based liveness tracking. It is grounded on
// the teacher's Hub room-registry shape (a mutex-guarded map plus a
// grace-period timer pattern) generalized from "rooms of video
// participants" to "bare connection bookkeeping," distinct from the Room
// Engine (internal/v1/room) and the raw connection handling of
// internal/v1/transport.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/agentbus/broker/internal/v1/logging"
	"github.com/agentbus/broker/internal/v1/metrics"
	"github.com/agentbus/broker/internal/v1/types"
)

// Registry maps client_id -> {connection_id -> Session} in a single map
// guarded by one RWMutex; the map is not sharded.
type Registry struct {
	maxTotal      int
	maxPerClient  int
	heartbeatEvery time.Duration

	mu    sync.RWMutex
	byClient map[types.ClientID]map[types.ConnectionID]*entry
	total    int
}

type entry struct {
	session *types.Session
	sender  types.Sender
}

func NewRegistry(maxTotal, maxPerClient int, heartbeatEvery time.Duration) *Registry {
	return &Registry{
		maxTotal:       maxTotal,
		maxPerClient:   maxPerClient,
		heartbeatEvery: heartbeatEvery,
		byClient:       make(map[types.ClientID]map[types.ConnectionID]*entry),
	}
}

// ErrOverCap is returned by Register when a connection cap is exceeded.
type ErrOverCap struct{ Reason string }

func (e *ErrOverCap) Error() string { return "session: " + e.Reason }

// Register admits a new session for clientID, rejecting if the global or
// per-client cap would be exceeded. On success a connection_opened system
// event is emitted to the newly-registered sender.
func (r *Registry) Register(ctx context.Context, clientID types.ClientID, connID types.ConnectionID, sender types.Sender) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.total >= r.maxTotal {
		metrics.ConnectionsRejected.WithLabelValues("max_total").Inc()
		return nil, &ErrOverCap{Reason: "overloaded: MAX_CONNECTIONS reached"}
	}
	perClient := r.byClient[clientID]
	if perClient != nil && len(perClient) >= r.maxPerClient {
		metrics.ConnectionsRejected.WithLabelValues("max_per_client").Inc()
		return nil, &ErrOverCap{Reason: "overloaded: MAX_CONNECTIONS_PER_CLIENT reached"}
	}

	now := time.Now().UTC()
	sess := &types.Session{
		ConnectionID:  connID,
		ClientID:      clientID,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
	if perClient == nil {
		perClient = make(map[types.ConnectionID]*entry)
		r.byClient[clientID] = perClient
	}
	perClient[connID] = &entry{session: sess, sender: sender}
	r.total++
	metrics.IncConnection(string(clientID))

	sender.SendFrame(types.PriorityHigh, "room_event", map[string]any{
		"kind":          "connection_opened",
		"connection_id": string(connID),
	})
	logging.Info(ctx, "session registered")
	return sess, nil
}

// Deregister removes exactly the session identified by (clientID, connID).
// Matching is by connection_id so a reconnect racing an old connection's
// cleanup never discards the new session. Pending deliveries for the
// client are untouched: they apply at the client_id level, not the
// connection level.
func (r *Registry) Deregister(clientID types.ClientID, connID types.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	perClient, ok := r.byClient[clientID]
	if !ok {
		return
	}
	if _, ok := perClient[connID]; !ok {
		return
	}
	delete(perClient, connID)
	r.total--
	metrics.DecConnection(string(clientID))
	if len(perClient) == 0 {
		delete(r.byClient, clientID)
	}
}

// Heartbeat records that connID is still alive.
func (r *Registry) Heartbeat(clientID types.ClientID, connID types.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if perClient, ok := r.byClient[clientID]; ok {
		if e, ok := perClient[connID]; ok {
			e.session.LastHeartbeat = time.Now().UTC()
		}
	}
}

// SessionsFor implements types.RecipientSource: every live session for a
// specific client id.
func (r *Registry) SessionsFor(id types.ClientID) []types.Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perClient := r.byClient[id]
	out := make([]types.Recipient, 0, len(perClient))
	for connID, e := range perClient {
		out = append(out, types.Recipient{ClientID: id, ConnectionID: connID, Sender: e.sender})
	}
	return out
}

// AllExcept implements types.RecipientSource: every live session of every
// client other than excludeClient.
func (r *Registry) AllExcept(excludeClient types.ClientID) []types.Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Recipient
	for clientID, perClient := range r.byClient {
		if clientID == excludeClient {
			continue
		}
		for connID, e := range perClient {
			out = append(out, types.Recipient{ClientID: clientID, ConnectionID: connID, Sender: e.sender})
		}
	}
	return out
}

// TotalConnections reports the live connection count, for invariant checks
// and admin inspection.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// ConnectionsForClient reports the live connection count for one client id.
func (r *Registry) ConnectionsForClient(id types.ClientID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient[id])
}

// SweepDeadConnections closes and deregisters any session whose last
// heartbeat is older than 2x the heartbeat interval, per the transport
// liveness contract. closeFn receives the dead recipient's Sender so the
// caller can tear down the underlying connection (e.g. the websocket);
// the registry entry is deregistered regardless of what closeFn does.
func (r *Registry) SweepDeadConnections(closeFn func(types.Recipient)) {
	deadline := time.Now().Add(-2 * r.heartbeatEvery)
	r.mu.RLock()
	var dead []types.Recipient
	for clientID, perClient := range r.byClient {
		for connID, e := range perClient {
			if e.session.LastHeartbeat.Before(deadline) {
				dead = append(dead, types.Recipient{ClientID: clientID, ConnectionID: connID, Sender: e.sender})
			}
		}
	}
	r.mu.RUnlock()

	for _, d := range dead {
		closeFn(d)
		r.Deregister(d.ClientID, d.ConnectionID)
	}
}
