package room

import (
	"container/list"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"
)

// Room holds the entire think-tank domain state for one room_id behind a
// single exclusive lock. Fine-grained locking inside a room is disallowed
// by design: the room is the unit of contention, matching the teacher's
// per-room RWMutex-guards-everything discipline.
type Room struct {
	mu sync.Mutex

	RoomID          string
	Topic           string
	PasswordHash    string
	State           RoomState
	TotalFileBytes  int64
	Config          Config
	CreatedAt       time.Time

	members  map[string]*Member            // client_id -> Member
	channels map[string]*Channel           // channel_id -> Channel
	history  map[string]*list.List         // channel_id -> ring buffer of *RoomMessage
	decisions map[string]*Decision         // decision_id -> Decision
	files     map[string]*SharedFile       // file_id -> SharedFile
	fileOrder *list.List                   // LRU order, oldest-first, of file ids
	execs     map[string]*CodeExecution    // exec_id -> CodeExecution

	fanout *fanoutLane
}

func NewRoom(roomID, topic, passwordHash string, cfg Config) *Room {
	r := &Room{
		RoomID:       roomID,
		Topic:        topic,
		PasswordHash: passwordHash,
		State:        RoomActive,
		Config:       cfg,
		CreatedAt:    time.Now().UTC(),
		members:      make(map[string]*Member),
		channels:     make(map[string]*Channel),
		history:      make(map[string]*list.List),
		decisions:    make(map[string]*Decision),
		files:        make(map[string]*SharedFile),
		fileOrder:    list.New(),
		execs:        make(map[string]*CodeExecution),
	}
	r.fanout = newFanoutLane()
	r.channels[MainChannelID] = &Channel{
		RoomID: roomID, ChannelID: MainChannelID, Name: MainChannelID, CreatedAt: r.CreatedAt, CreatedBy: "",
	}
	r.history[MainChannelID] = list.New()
	return r
}

func hashPassword(password string) string {
	if password == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(password))
	return string(sum[:])
}

func passwordMatches(hash, candidate string) bool {
	if hash == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(hashPassword(candidate))) == 1
}

// isRoomEmptyLocked reports whether the room has no active members; caller
// must hold r.mu.
func (r *Room) isRoomEmptyLocked() bool {
	for _, m := range r.members {
		if m.Active {
			return false
		}
	}
	return true
}

func (r *Room) activeMemberCountLocked() int {
	n := 0
	for _, m := range r.members {
		if m.Active {
			n++
		}
	}
	return n
}

func (r *Room) isMemberActiveLocked(clientID string) bool {
	m, ok := r.members[clientID]
	return ok && m.Active
}

// Close transitions the room to closed: no new messages/decisions/votes
// accepted, but reads remain valid.
func (r *Room) Close(ctx context.Context, store Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State == RoomClosed {
		return nil
	}
	r.State = RoomClosed
	if err := store.PutRoom(ctx, r); err != nil {
		return err
	}
	r.broadcastLocked("room_event", map[string]any{"kind": "room_closed", "room_id": r.RoomID})
	return nil
}

func (r *Room) broadcastLocked(kind string, payload map[string]any) {
	r.fanout.Enqueue(fanoutEvent{kind: kind, payload: payload})
}

// Shutdown flushes the fan-out lane, used during graceful server shutdown.
func (r *Room) Shutdown() {
	r.fanout.Stop()
}

func snapshotMembersLocked(members map[string]*Member) []*Member {
	out := make([]*Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	return out
}
