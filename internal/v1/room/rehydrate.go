package room

import (
	"container/list"
	"time"
)

// Snapshot is the fully-denormalized shape of one room as loaded from
// persistence at startup; Store.LoadAll assembles one of these per room_id
// and FromSnapshot turns it into a live *Room with its fan-out lane
// started. Only rooms (not connections) survive a restart: no Session or
// websocket state is carried here.
type Snapshot struct {
	RoomID         string
	Topic          string
	PasswordHash   string
	State          RoomState
	TotalFileBytes int64
	Config         Config
	CreatedAt      time.Time

	Members  []*Member
	Channels []*Channel
	// Messages is every RoomMessage in the room, any channel, ordered
	// oldest-first; FromSnapshot buckets them by channel and trims each
	// bucket to HistoryLimit.
	Messages  []*RoomMessage
	Decisions []*Decision
	// Files must already be in LRU order, oldest-first.
	Files []*SharedFile
	Execs []*CodeExecution
}

func FromSnapshot(s Snapshot) *Room {
	r := &Room{
		RoomID: s.RoomID, Topic: s.Topic, PasswordHash: s.PasswordHash,
		State: s.State, TotalFileBytes: s.TotalFileBytes, Config: s.Config, CreatedAt: s.CreatedAt,
		members:   make(map[string]*Member),
		channels:  make(map[string]*Channel),
		history:   make(map[string]*list.List),
		decisions: make(map[string]*Decision),
		files:     make(map[string]*SharedFile),
		fileOrder: list.New(),
		execs:     make(map[string]*CodeExecution),
	}
	r.fanout = newFanoutLane()

	if len(s.Channels) == 0 {
		r.channels[MainChannelID] = &Channel{RoomID: s.RoomID, ChannelID: MainChannelID, Name: MainChannelID, CreatedAt: s.CreatedAt}
		r.history[MainChannelID] = list.New()
	}
	for _, c := range s.Channels {
		r.channels[c.ChannelID] = c
		r.history[c.ChannelID] = list.New()
	}
	for _, m := range s.Members {
		r.members[m.ClientID] = m
	}
	for _, msg := range s.Messages {
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
	for _, d := range s.Decisions {
		if d.Votes == nil {
			d.Votes = make(map[string]Vote)
		}
		r.decisions[d.ID] = d
	}
	for _, f := range s.Files {
		r.files[f.ID] = f
		r.fileOrder.PushBack(f.ID)
	}
	for _, e := range s.Execs {
		r.execs[e.ID] = e
	}
	return r
}
