package room

import (
	"context"
	"time"
)

// ProposeDecision opens a new decision for a vote. requiredVotes is only
// meaningful for VoteQuorum (minimum number of ballots cast, any mix of
// approve/reject, before the decision can close); it is ignored otherwise.
// A system RoomMessage is posted with the same ID as the decision so later
// critiques can target the proposal itself.
func (r *Room) ProposeDecision(ctx context.Context, store Store, id, channelID, proposedBy, text string, vt VoteType, requiredVotes int) (*Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	if _, ok := r.channels[channelID]; !ok {
		return nil, ErrChannelNotFound
	}
	if !r.isMemberActiveLocked(proposedBy) {
		return nil, ErrNotMember
	}

	d := &Decision{
		ID: id, RoomID: r.RoomID, ChannelID: channelID, ProposedBy: proposedBy,
		Text: text, OriginalText: text, VoteType: vt, RequiredVotes: requiredVotes,
		Status: DecisionOpen, CreatedAt: time.Now().UTC(), Votes: make(map[string]Vote),
	}
	if err := store.PutDecision(ctx, d); err != nil {
		return nil, err
	}
	r.decisions[id] = d
	r.postSystemMessageLocked(id, channelID, proposedBy, text, KindMessage)

	r.broadcastLocked("room_event", map[string]any{
		"kind": "decision_proposed", "room_id": r.RoomID, "decision_id": id,
		"proposed_by": proposedBy, "vote_type": string(vt),
	})
	return d, nil
}

// ProposeAlternative creates a new child Decision linked into the parent's
// Alternatives list, inheriting the parent's vote type unless overridden.
// Refuses to create a cycle: an alternative can never (transitively) name
// an ancestor of its own parent as its parent.
func (r *Room) ProposeAlternative(ctx context.Context, store Store, id, parentID, proposedBy, text string, vt VoteType) (*Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	parent, ok := r.decisions[parentID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	if !r.isMemberActiveLocked(proposedBy) {
		return nil, ErrNotMember
	}
	if id == parentID || r.isAncestorLocked(id, parentID) {
		return nil, ErrCyclicAlternative
	}
	if vt == "" {
		vt = parent.VoteType
	}

	alt := &Decision{
		ID: id, RoomID: r.RoomID, ChannelID: parent.ChannelID, ProposedBy: proposedBy,
		Text: text, OriginalText: text, VoteType: vt, ParentDecisionID: parentID,
		Status: DecisionOpen, CreatedAt: time.Now().UTC(), Votes: make(map[string]Vote),
	}
	if err := store.PutDecision(ctx, alt); err != nil {
		return nil, err
	}
	r.decisions[id] = alt
	parent.Alternatives = append(parent.Alternatives, id)
	if err := store.PutDecision(ctx, parent); err != nil {
		return nil, err
	}
	r.postSystemMessageLocked(id, parent.ChannelID, proposedBy, text, KindMessage)

	r.broadcastLocked("room_event", map[string]any{
		"kind": "alternative_proposed", "room_id": r.RoomID, "decision_id": id, "parent_decision_id": parentID,
	})
	return alt, nil
}

// isAncestorLocked reports whether candidateID is already reachable by
// walking ParentDecisionID links upward from startID, which would make
// startID a descendant of candidateID; caller must hold r.mu.
func (r *Room) isAncestorLocked(candidateID, startID string) bool {
	seen := map[string]bool{}
	cur := startID
	for cur != "" {
		if seen[cur] {
			return false // already-cyclic parent chain; don't loop forever
		}
		seen[cur] = true
		if cur == candidateID {
			return true
		}
		d, ok := r.decisions[cur]
		if !ok {
			return false
		}
		cur = d.ParentDecisionID
	}
	return false
}

// ProposeAmendment proposes replacement text for an open decision.
func (r *Room) ProposeAmendment(ctx context.Context, store Store, id, decisionID, proposedBy, text string) (*Amendment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[decisionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	if d.Status != DecisionOpen {
		return nil, ErrDecisionClosed
	}
	if !r.isMemberActiveLocked(proposedBy) {
		return nil, ErrNotMember
	}

	a := Amendment{ID: id, DecisionID: decisionID, ProposedBy: proposedBy, Text: text, CreatedAt: time.Now().UTC()}
	if err := store.PutAmendment(ctx, decisionID, &a); err != nil {
		return nil, err
	}
	d.Amendments = append(d.Amendments, a)

	asMsg := &RoomMessage{
		ID: id, RoomID: r.RoomID, ChannelID: d.ChannelID, FromClient: proposedBy,
		Text: text, Kind: KindAmendment, ReplyTo: decisionID, CreatedAt: a.CreatedAt,
	}
	if err := store.PutRoomMessage(ctx, asMsg); err != nil {
		return nil, err
	}
	r.appendHistoryLocked(asMsg)

	r.broadcastLocked("room_event", map[string]any{
		"kind": "amendment_proposed", "room_id": r.RoomID, "decision_id": decisionID, "amendment_id": id,
	})
	return &a, nil
}

// AcceptAmendment overwrites the decision's Text with the amendment's text.
// Only the original proposer of the decision or a coordinator may accept.
// Idempotent: accepting an already-accepted amendment is a no-op success,
// not an error.
func (r *Room) AcceptAmendment(ctx context.Context, store Store, decisionID, amendmentID, actor string) (*Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[decisionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	if d.Status != DecisionOpen {
		return nil, ErrDecisionClosed
	}
	m, ok := r.members[actor]
	if !ok || !m.Active {
		return nil, ErrNotMember
	}
	if actor != d.ProposedBy && m.Role != RoleCoordinator {
		return nil, ErrNotCoordinator
	}

	for i := range d.Amendments {
		if d.Amendments[i].ID == amendmentID {
			if d.Amendments[i].Accepted {
				return d, nil // idempotent re-accept
			}
			now := time.Now().UTC()
			d.Amendments[i].Accepted = true
			d.Amendments[i].AcceptedAt = &now
			d.Text = d.Amendments[i].Text
			if err := store.PutAmendment(ctx, decisionID, &d.Amendments[i]); err != nil {
				return nil, err
			}
			if err := store.PutDecision(ctx, d); err != nil {
				return nil, err
			}
			r.broadcastLocked("room_event", map[string]any{
				"kind": "amendment_accepted", "room_id": r.RoomID, "decision_id": decisionID, "amendment_id": amendmentID,
			})
			return d, nil
		}
	}
	return nil, newErr(CodeNotFound, "amendment not found on this decision")
}

// AddArgument appends a pro or con debate argument; no ordering constraint
// between pro and con, and arguments may be added after closing for the
// record.
func (r *Room) AddArgument(ctx context.Context, store Store, id, decisionID, from string, pos Position, text string, evidence []string) (*DebateArgument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[decisionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	if !r.isMemberActiveLocked(from) {
		return nil, ErrNotMember
	}

	arg := &DebateArgument{
		ID: id, DecisionID: decisionID, FromClient: from, Position: pos,
		Text: text, Evidence: evidence, CreatedAt: time.Now().UTC(),
	}
	if err := store.PutDebateArgument(ctx, arg); err != nil {
		return nil, err
	}
	if pos == PositionPro {
		d.ProArgs = append(d.ProArgs, *arg)
	} else {
		d.ConArgs = append(d.ConArgs, *arg)
	}

	asMsg := &RoomMessage{
		ID: id, RoomID: r.RoomID, ChannelID: d.ChannelID, FromClient: from,
		Text: text, Kind: KindArgument, ReplyTo: decisionID, CreatedAt: arg.CreatedAt,
		Meta: map[string]any{"position": string(pos), "evidence": evidence},
	}
	if err := store.PutRoomMessage(ctx, asMsg); err != nil {
		return nil, err
	}
	r.appendHistoryLocked(asMsg)

	r.broadcastLocked("room_event", map[string]any{
		"kind": "argument_added", "room_id": r.RoomID, "decision_id": decisionID,
		"argument_id": id, "position": string(pos),
	})
	return arg, nil
}

// Vote casts or overwrites a ballot for an open decision and re-tallies.
// Vote weight is snapshotted from the member's current vote_weight at cast
// time, not re-evaluated retroactively if the member's role later changes.
func (r *Room) Vote(ctx context.Context, store Store, decisionID, voter string, approve, veto bool) (*Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[decisionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	if d.Status != DecisionOpen {
		return nil, ErrDecisionClosed
	}
	m, ok := r.members[voter]
	if !ok || !m.Active {
		return nil, ErrNotMember
	}

	v := Vote{DecisionID: decisionID, Voter: voter, Approve: approve, Veto: veto, Weight: m.VoteWeight, CreatedAt: time.Now().UTC()}
	if err := store.PutVote(ctx, &v); err != nil {
		return nil, err
	}
	d.Votes[voter] = v

	r.broadcastLocked("room_event", map[string]any{
		"kind": "vote_cast", "room_id": r.RoomID, "decision_id": decisionID, "voter": voter,
		"approve": approve, "veto": veto,
	})

	if veto && d.VoteType == VoteConsensus && m.Role == RoleReviewer {
		if err := r.closeDecisionLocked(ctx, store, d, DecisionVetoed); err != nil {
			return nil, err
		}
		return d, nil
	}

	if closed, status := tally(d, r.activeMemberCountLocked()); closed {
		if err := r.closeDecisionLocked(ctx, store, d, status); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// tally applies the decision's VoteType to its current ballots and reports
// whether the decision can close now, and with what terminal status.
func tally(d *Decision, activeMembers int) (closed bool, status DecisionStatus) {
	total := len(d.Votes)
	if total == 0 {
		return false, ""
	}

	var approveWeight, totalWeight float64
	var approveCount int
	for _, v := range d.Votes {
		totalWeight += v.Weight
		if v.Approve {
			approveWeight += v.Weight
			approveCount++
		}
	}

	switch d.VoteType {
	case VoteSimpleMajority:
		if total < activeMembers {
			return false, ""
		}
		if approveWeight*2 > totalWeight {
			return true, DecisionApproved
		}
		return true, DecisionRejected

	case VoteConsensus:
		if total < activeMembers {
			return false, ""
		}
		if approveCount == total {
			return true, DecisionApproved
		}
		return true, DecisionRejected

	case VoteQuorum:
		if total < d.RequiredVotes {
			return false, ""
		}
		if approveWeight*2 > totalWeight {
			return true, DecisionApproved
		}
		return true, DecisionRejected

	case VoteWeighted:
		if total < activeMembers {
			return false, ""
		}
		if approveWeight*2 > totalWeight {
			return true, DecisionApproved
		}
		return true, DecisionRejected

	default:
		return false, ""
	}
}

func (r *Room) closeDecisionLocked(ctx context.Context, store Store, d *Decision, status DecisionStatus) error {
	now := time.Now().UTC()
	d.Status = status
	d.ClosedAt = &now
	if err := store.PutDecision(ctx, d); err != nil {
		return err
	}
	r.broadcastLocked("room_event", map[string]any{
		"kind": "decision_closed", "room_id": r.RoomID, "decision_id": d.ID, "status": string(status),
	})
	return nil
}

func (r *Room) postSystemMessageLocked(id, channelID, from, text string, kind MessageKind) {
	msg := &RoomMessage{ID: id, RoomID: r.RoomID, ChannelID: channelID, FromClient: from, Text: text, Kind: kind, CreatedAt: time.Now().UTC()}
	r.appendHistoryLocked(msg)
}
