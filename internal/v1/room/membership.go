package room

import (
	"container/list"
	"context"
	"time"

	"github.com/agentbus/broker/internal/v1/metrics"
)

// Join adds or reactivates a member. Duplicate joins are idempotent: role
// and weight are overwritten on the existing row. If the room has a
// password set, the supplied password must match via constant-time
// compare.
func (r *Room) Join(ctx context.Context, store Store, clientID string, role Role, voteWeight float64, password string) (*Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	if !passwordMatches(r.PasswordHash, password) {
		return nil, ErrWrongPassword
	}

	if role == "" {
		role = RoleMember
	}
	if voteWeight <= 0 {
		voteWeight = DefaultVoteWeight(role)
	}

	m, existed := r.members[clientID]
	if !existed {
		m = &Member{RoomID: r.RoomID, ClientID: clientID, JoinedAt: time.Now().UTC()}
	}
	m.Role = role
	m.VoteWeight = voteWeight
	m.Active = true

	if err := store.PutMember(ctx, m); err != nil {
		return nil, err
	}
	r.members[clientID] = m
	metrics.RoomMembers.WithLabelValues(r.RoomID).Set(float64(r.activeMemberCountLocked()))

	r.broadcastLocked("room_event", map[string]any{
		"kind": "member_joined", "room_id": r.RoomID, "client_id": clientID, "role": string(role),
	})
	return m, nil
}

// Leave marks a member inactive, preserving history. It is not an error to
// leave a room one is not a member of; it is simply a no-op.
func (r *Room) Leave(ctx context.Context, store Store, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[clientID]
	if !ok || !m.Active {
		return nil
	}
	m.Active = false
	if err := store.PutMember(ctx, m); err != nil {
		return err
	}
	metrics.RoomMembers.WithLabelValues(r.RoomID).Set(float64(r.activeMemberCountLocked()))

	r.broadcastLocked("room_event", map[string]any{
		"kind": "member_left", "room_id": r.RoomID, "client_id": clientID,
	})
	return nil
}

// CreateChannel creates a new named channel; name must be unique within
// the room and the creator must be an active member.
func (r *Room) CreateChannel(ctx context.Context, store Store, channelID, name, topic, creator string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	if !r.isMemberActiveLocked(creator) {
		return nil, ErrNotMember
	}
	for _, c := range r.channels {
		if c.Name == name {
			return nil, ErrDuplicateChannel
		}
	}

	ch := &Channel{
		RoomID: r.RoomID, ChannelID: channelID, Name: name, Topic: topic,
		CreatedAt: time.Now().UTC(), CreatedBy: creator,
	}
	if err := store.PutChannel(ctx, ch); err != nil {
		return nil, err
	}
	r.channels[channelID] = ch
	r.history[channelID] = list.New()

	r.broadcastLocked("room_event", map[string]any{
		"kind": "channel_created", "room_id": r.RoomID, "channel_id": channelID, "name": name,
	})
	return ch, nil
}
