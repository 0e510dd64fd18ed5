// Package room implements the Room Engine (see types.go for the full
// domain model). Engine is the room_id -> *Room registry and the single
// entry point the transport layer calls into for every `room_op` frame,
// playing the role the teacher's Hub plays for video rooms: own the
// registry, resolve the target room, and dispatch.
package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentbus/broker/internal/v1/metrics"
	"github.com/agentbus/broker/internal/v1/sandbox"
	"github.com/agentbus/broker/internal/v1/types"
)

// Engine owns every live room and wires each new room's fan-out lane to the
// shared Session Registry so room broadcasts reach live connections without
// the room package importing session directly.
type Engine struct {
	store    Store
	sandbox  sandbox.Sandbox
	sessions types.RecipientSource

	// OnBroadcast, when set, is invoked alongside local session delivery
	// for every room event, so a caller (cmd/broker) can publish it to the
	// cross-instance bus without this package depending on bus directly.
	OnBroadcast func(roomID, kind string, payload map[string]any)

	// OnRoomReady, when set, is invoked once a room becomes live (created
	// or recovered at startup) so a caller can subscribe to that room's
	// cross-instance bus channel and feed events back in via DeliverLocal.
	OnRoomReady func(roomID string)

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewEngine(store Store, sb sandbox.Sandbox, sessions types.RecipientSource) *Engine {
	return &Engine{store: store, sandbox: sb, sessions: sessions, rooms: make(map[string]*Room)}
}

// DeliverLocal fans a remotely-originated event (received over the
// cross-instance bus) out to this instance's live sessions for roomID's
// members, without re-publishing it back to the bus.
func (e *Engine) DeliverLocal(roomID, kind string, payload map[string]any) {
	r, ok := e.Get(roomID)
	if !ok {
		return
	}
	r.mu.Lock()
	members := snapshotMembersLocked(r.members)
	r.mu.Unlock()
	for _, m := range members {
		if !m.Active {
			continue
		}
		for _, rec := range e.sessions.SessionsFor(types.ClientID(m.ClientID)) {
			rec.Sender.SendFrame(types.PriorityNormal, kind, payload)
		}
	}
}

// LoadFromStore reconstructs every room persisted at startup, per the
// recovery contract: rooms, not connections, survive a restart.
func (e *Engine) LoadFromStore(ctx context.Context) error {
	rooms, err := e.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rooms {
		e.wireBroadcast(r)
		e.rooms[r.RoomID] = r
		metrics.ActiveRooms.Inc()
		if e.OnRoomReady != nil {
			e.OnRoomReady(r.RoomID)
		}
	}
	return nil
}

// wireBroadcast sets r's fan-out lane to deliver room_event frames to every
// active member's live sessions, resolved fresh on each event so a member
// who joined after the room was created still receives broadcasts.
func (e *Engine) wireBroadcast(r *Room) {
	r.fanout.SetBroadcaster(func(ev fanoutEvent) {
		r.mu.Lock()
		members := snapshotMembersLocked(r.members)
		r.mu.Unlock()

		payload := make(map[string]any, len(ev.payload))
		for k, v := range ev.payload {
			payload[k] = v
		}
		for _, m := range members {
			if !m.Active {
				continue
			}
			for _, rec := range e.sessions.SessionsFor(types.ClientID(m.ClientID)) {
				rec.Sender.SendFrame(types.PriorityNormal, "room_event", payload)
			}
		}
		if e.OnBroadcast != nil {
			e.OnBroadcast(r.RoomID, ev.kind, payload)
		}
	})
}

// CreateRoom creates a new room, or returns the existing one idempotently
// if roomID already exists with a matching password; a mismatched password
// on an existing room_id is a conflict.
func (e *Engine) CreateRoom(ctx context.Context, roomID, topic, password string, cfg Config) (*Room, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.rooms[roomID]; ok {
		if !passwordMatches(existing.PasswordHash, password) {
			return nil, ErrDuplicateRoom
		}
		return existing, nil
	}

	r := NewRoom(roomID, topic, hashPassword(password), cfg)
	if err := e.store.PutRoom(ctx, r); err != nil {
		r.Shutdown()
		return nil, err
	}
	e.wireBroadcast(r)
	e.rooms[roomID] = r
	metrics.ActiveRooms.Inc()
	if e.OnRoomReady != nil {
		e.OnRoomReady(roomID)
	}
	return r, nil
}

// CloseRoom transitions a room closed and leaves it in the registry for
// reads (history, decisions) but refuses further writes.
func (e *Engine) CloseRoom(ctx context.Context, roomID string) error {
	r, ok := e.Get(roomID)
	if !ok {
		return ErrRoomNotFound
	}
	return r.Close(ctx, e.store)
}

func (e *Engine) Get(roomID string) (*Room, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rooms[roomID]
	return r, ok
}

// Shutdown flushes every room's fan-out lane; called during graceful
// server shutdown.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rooms {
		r.Shutdown()
	}
}

// SweepTimedOutExecutions runs CodeExecution timeout detection across every
// live room; intended to be called periodically alongside the TTL sweeper.
func (e *Engine) SweepTimedOutExecutions(ctx context.Context) {
	e.mu.RLock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.RUnlock()
	for _, r := range rooms {
		r.SweepTimedOutExecutions(ctx, e.store)
	}
}

// Dispatch executes one room_op action and returns its response payload.
// This is the full action set named for the `room_op` frame: create_room,
// join, leave, create_channel, post_message, critique, propose_decision,
// propose_alternative, propose_amendment, accept_amendment, add_argument,
// vote, upload_file, download_file, execute_code, close_room,
// get_room_summary, get_decision, get_debate_summary.
func (e *Engine) Dispatch(ctx context.Context, actor string, action string, f map[string]any) (any, error) {
	switch action {
	case "create_room":
		cfg := DefaultConfig()
		r, err := e.CreateRoom(ctx, str(f, "room_id"), str(f, "topic"), str(f, "password"), cfg)
		if err != nil {
			return nil, err
		}
		return r.GetRoomSummary(), nil

	case "close_room":
		if err := e.CloseRoom(ctx, str(f, "room_id")); err != nil {
			return nil, err
		}
		return map[string]any{"room_id": str(f, "room_id"), "status": "closed"}, nil

	case "join":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		role := Role(str(f, "role"))
		if role == "" {
			role = RoleMember
		}
		weight, _ := f["vote_weight"].(float64)
		m, err := r.Join(ctx, e.store, actor, role, weight, str(f, "password"))
		if err != nil {
			return nil, err
		}
		return m, nil

	case "leave":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return nil, r.Leave(ctx, e.store, actor)

	case "create_channel":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.CreateChannel(ctx, e.store, str(f, "channel_id"), str(f, "name"), str(f, "topic"), actor)

	case "post_message":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.PostMessage(ctx, e.store, str(f, "message_id"), str(f, "channel_id"), actor, str(f, "text"), str(f, "reply_to"))

	case "critique":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.Critique(ctx, e.store, str(f, "critique_id"), str(f, "target_message_id"), actor, str(f, "text"), Severity(str(f, "severity")))

	case "propose_decision":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		required, _ := f["required_votes"].(float64)
		return r.ProposeDecision(ctx, e.store, str(f, "decision_id"), str(f, "channel_id"), actor, str(f, "text"), VoteType(str(f, "vote_type")), int(required))

	case "propose_alternative":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.ProposeAlternative(ctx, e.store, str(f, "decision_id"), str(f, "parent_decision_id"), actor, str(f, "text"), VoteType(str(f, "vote_type")))

	case "propose_amendment":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.ProposeAmendment(ctx, e.store, str(f, "amendment_id"), str(f, "decision_id"), actor, str(f, "text"))

	case "accept_amendment":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.AcceptAmendment(ctx, e.store, str(f, "decision_id"), str(f, "amendment_id"), actor)

	case "add_argument":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		evidence := toStringSlice(f["evidence"])
		return r.AddArgument(ctx, e.store, str(f, "argument_id"), str(f, "decision_id"), actor, Position(str(f, "position")), str(f, "text"), evidence)

	case "vote":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		approve, _ := f["approve"].(bool)
		veto, _ := f["veto"].(bool)
		return r.Vote(ctx, e.store, str(f, "decision_id"), actor, approve, veto)

	case "upload_file":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		content, _ := f["content"].(string)
		return r.UploadFile(ctx, e.store, str(f, "file_id"), str(f, "channel_id"), str(f, "filename"), str(f, "content_type"), []byte(content), actor)

	case "download_file":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.DownloadFile(ctx, str(f, "file_id"), str(f, "password"))

	case "execute_code":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.ExecuteCode(ctx, e.store, e.sandbox, str(f, "exec_id"), str(f, "channel_id"), actor, ExecLanguage(str(f, "language")), str(f, "code"))

	case "get_room_summary":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.GetRoomSummary(), nil

	case "get_decision":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.GetDecision(str(f, "decision_id"))

	case "get_debate_summary":
		r, err := e.require(f)
		if err != nil {
			return nil, err
		}
		return r.GetDebateSummary(str(f, "decision_id"))

	default:
		return nil, newErr(CodeValidationFailed, fmt.Sprintf("unknown room_op action %q", action))
	}
}

func (e *Engine) require(f map[string]any) (*Room, error) {
	r, ok := e.Get(str(f, "room_id"))
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

func str(f map[string]any, key string) string {
	v, _ := f[key].(string)
	return v
}

func toStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
