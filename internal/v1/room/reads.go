package room

import "time"

// Summary is a snapshot of a room's current shape, used for the
// get_room_summary operation.
type Summary struct {
	RoomID        string   `json:"room_id"`
	Topic         string   `json:"topic"`
	State         RoomState `json:"state"`
	MemberCount   int      `json:"member_count"`
	ChannelCount  int      `json:"channel_count"`
	OpenDecisions []string `json:"open_decision_ids"`
	TotalFileBytes int64   `json:"total_file_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r *Room) GetRoomSummary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []string
	for id, d := range r.decisions {
		if d.Status == DecisionOpen {
			open = append(open, id)
		}
	}
	return Summary{
		RoomID: r.RoomID, Topic: r.Topic, State: r.State,
		MemberCount: r.activeMemberCountLocked(), ChannelCount: len(r.channels),
		OpenDecisions: open, TotalFileBytes: r.TotalFileBytes, CreatedAt: r.CreatedAt,
	}
}

// GetDecision returns the full Decision aggregate, including resolved
// amendment text, debate arguments, and a computed vote tally so clients
// don't need to re-derive it client-side.
type DecisionView struct {
	*Decision
	ApproveCount int     `json:"approve_count"`
	RejectCount  int     `json:"reject_count"`
	ApproveWeight float64 `json:"approve_weight"`
	TotalWeight   float64 `json:"total_weight"`
}

func (r *Room) GetDecision(decisionID string) (*DecisionView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[decisionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	view := &DecisionView{Decision: d}
	for _, v := range d.Votes {
		view.TotalWeight += v.Weight
		if v.Approve {
			view.ApproveCount++
			view.ApproveWeight += v.Weight
		} else {
			view.RejectCount++
		}
	}
	return view, nil
}

// DebateSummary counts and lists pro/con arguments for a decision.
type DebateSummary struct {
	DecisionID string           `json:"decision_id"`
	ProCount   int              `json:"pro_count"`
	ConCount   int              `json:"con_count"`
	Pro        []DebateArgument `json:"pro"`
	Con        []DebateArgument `json:"con"`
}

func (r *Room) GetDebateSummary(decisionID string) (*DebateSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.decisions[decisionID]
	if !ok {
		return nil, ErrDecisionNotFound
	}
	return &DebateSummary{
		DecisionID: decisionID, ProCount: len(d.ProArgs), ConCount: len(d.ConArgs),
		Pro: d.ProArgs, Con: d.ConArgs,
	}, nil
}
