package room

import (
	"container/list"
	"context"
	"time"

	"github.com/agentbus/broker/internal/v1/auth"
)

// appendHistoryLocked appends msg to its channel's bounded ring buffer,
// evicting the oldest entry once HistoryLimit is exceeded. Full history
// remains queryable from persistence.
func (r *Room) appendHistoryLocked(msg *RoomMessage) {
	buf := r.history[msg.ChannelID]
	if buf == nil {
		buf = list.New()
		r.history[msg.ChannelID] = buf
	}
	buf.PushBack(msg)
	if buf.Len() > HistoryLimit {
		buf.Remove(buf.Front())
	}
}

// PostMessage validates the channel exists and the sender is an active
// member, persists, appends to history, then fans out to every active
// member's live sessions. reply_to (if set) must reference an existing
// message anywhere in the room, not necessarily the same channel.
func (r *Room) PostMessage(ctx context.Context, store Store, id, channelID, from, text, replyTo string) (*RoomMessage, error) {
	if !auth.ValidMessageText(text) {
		return nil, newErr(CodeValidationFailed, "message text invalid or too long")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	if _, ok := r.channels[channelID]; !ok {
		return nil, ErrChannelNotFound
	}
	if !r.isMemberActiveLocked(from) {
		return nil, ErrNotMember
	}
	if replyTo != "" && !r.messageExistsLocked(replyTo) {
		return nil, newErr(CodeValidationFailed, "reply_to does not reference an existing message in this room")
	}

	msg := &RoomMessage{
		ID: id, RoomID: r.RoomID, ChannelID: channelID, FromClient: from,
		Text: text, Kind: KindMessage, ReplyTo: replyTo, CreatedAt: time.Now().UTC(),
	}
	if err := store.PutRoomMessage(ctx, msg); err != nil {
		return nil, err
	}
	r.appendHistoryLocked(msg)

	r.broadcastLocked("room_event", map[string]any{
		"kind": "room_message", "room_id": r.RoomID, "channel_id": channelID,
		"message_id": id, "from_client": from, "text": text, "reply_to": replyTo,
	})
	return msg, nil
}

func (r *Room) messageExistsLocked(id string) bool {
	for _, buf := range r.history {
		for e := buf.Front(); e != nil; e = e.Next() {
			if e.Value.(*RoomMessage).ID == id {
				return true
			}
		}
	}
	return false
}

// Critique records a severity-tagged comment on any RoomMessage in the
// room and is itself recorded as a RoomMessage of kind critique so it
// appears in channel history. The broker never auto-blocks on severity;
// it only surfaces blocking critiques in derived Decision state for
// clients to act on.
func (r *Room) Critique(ctx context.Context, store Store, id, targetMessageID, from, text string, severity Severity) (*Critique, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	if !r.isMemberActiveLocked(from) {
		return nil, ErrNotMember
	}
	if !r.messageExistsLocked(targetMessageID) {
		return nil, ErrMessageNotFound
	}

	crit := &Critique{
		ID: id, TargetMessageID: targetMessageID, FromClient: from,
		Text: text, Severity: severity, CreatedAt: time.Now().UTC(),
	}
	if err := store.PutCritique(ctx, crit); err != nil {
		return nil, err
	}

	channelID := r.channelForMessageLocked(targetMessageID)
	asMsg := &RoomMessage{
		ID: id, RoomID: r.RoomID, ChannelID: channelID, FromClient: from,
		Text: text, Kind: KindCritique, ReplyTo: targetMessageID, CreatedAt: crit.CreatedAt,
		Meta: map[string]any{"severity": string(severity)},
	}
	if err := store.PutRoomMessage(ctx, asMsg); err != nil {
		return nil, err
	}
	r.appendHistoryLocked(asMsg)

	if severity == SeverityBlocking {
		r.markBlockingCritiqueLocked(targetMessageID, crit.ID)
	}

	r.broadcastLocked("room_event", map[string]any{
		"kind": "critique_posted", "room_id": r.RoomID, "critique_id": id,
		"target_message_id": targetMessageID, "severity": string(severity),
	})
	return crit, nil
}

func (r *Room) channelForMessageLocked(messageID string) string {
	for channelID, buf := range r.history {
		for e := buf.Front(); e != nil; e = e.Next() {
			if e.Value.(*RoomMessage).ID == messageID {
				return channelID
			}
		}
	}
	return MainChannelID
}

// markBlockingCritiqueLocked records that a blocking critique landed on a
// decision's proposal message, surfaced via get_decision as derived state.
// It never itself blocks approval; tallying clients decide what to do with it.
func (r *Room) markBlockingCritiqueLocked(targetMessageID, critiqueID string) {
	if d, ok := r.decisions[targetMessageID]; ok {
		d.BlockingCritiques = append(d.BlockingCritiques, critiqueID)
	}
}
