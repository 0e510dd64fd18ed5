package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSnapshot_DefaultsMainChannelWhenNoneStored(t *testing.T) {
	r := FromSnapshot(Snapshot{RoomID: "r1", Topic: "t", Config: DefaultConfig()})
	defer r.Shutdown()

	_, ok := r.channels[MainChannelID]
	assert.True(t, ok)
	_, ok = r.history[MainChannelID]
	assert.True(t, ok)
}

func TestFromSnapshot_BucketsMessagesByChannelAndTrimsToHistoryLimit(t *testing.T) {
	now := time.Now().UTC()
	var msgs []*RoomMessage
	for i := 0; i < HistoryLimit+10; i++ {
		msgs = append(msgs, &RoomMessage{
			ID: "m", RoomID: "r1", ChannelID: MainChannelID, FromClient: "alice",
			Text: "hi", Kind: KindMessage, CreatedAt: now,
		})
	}
	snap := Snapshot{
		RoomID: "r1", Topic: "t", Config: DefaultConfig(),
		Channels: []*Channel{{RoomID: "r1", ChannelID: MainChannelID, Name: MainChannelID, CreatedAt: now}},
		Messages: msgs,
	}
	r := FromSnapshot(snap)
	defer r.Shutdown()

	buf, ok := r.history[MainChannelID]
	require.True(t, ok)
	assert.Equal(t, HistoryLimit, buf.Len(), "history ring buffer must trim to HistoryLimit on rehydrate")
}

func TestFromSnapshot_DecisionVotesMapNilGuard(t *testing.T) {
	snap := Snapshot{
		RoomID: "r1", Topic: "t", Config: DefaultConfig(),
		Decisions: []*Decision{{ID: "d1", RoomID: "r1", Status: DecisionOpen, VoteType: VoteSimpleMajority}},
	}
	r := FromSnapshot(snap)
	defer r.Shutdown()

	d, ok := r.decisions["d1"]
	require.True(t, ok)
	require.NotNil(t, d.Votes, "Votes map must be non-nil after rehydrate so Vote() can write into it directly")
	assert.Empty(t, d.Votes)
}

func TestFromSnapshot_PreservesFileLRUOrder(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		RoomID: "r1", Topic: "t", Config: DefaultConfig(),
		Files: []*SharedFile{
			{ID: "f1", RoomID: "r1", Filename: "a.bin", SizeBytes: 10, UploadedAt: now},
			{ID: "f2", RoomID: "r1", Filename: "b.bin", SizeBytes: 10, UploadedAt: now},
		},
		TotalFileBytes: 20,
	}
	r := FromSnapshot(snap)
	defer r.Shutdown()

	require.Equal(t, 2, r.fileOrder.Len())
	front := r.fileOrder.Front().Value.(string)
	assert.Equal(t, "f1", front, "oldest-first order from the snapshot must be preserved as LRU order")
}

func TestFromSnapshot_MembersAndTotalsCarryThroughToSummary(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		RoomID: "r1", Topic: "topic", Config: DefaultConfig(), CreatedAt: now,
		State:          RoomActive,
		TotalFileBytes: 42,
		Members: []*Member{
			{RoomID: "r1", ClientID: "alice", Role: RoleMember, Active: true, JoinedAt: now},
			{RoomID: "r1", ClientID: "bob", Role: RoleMember, Active: false, JoinedAt: now},
		},
	}
	r := FromSnapshot(snap)
	defer r.Shutdown()

	summary := r.GetRoomSummary()
	assert.Equal(t, 1, summary.MemberCount, "only active members count")
	assert.Equal(t, int64(42), summary.TotalFileBytes)
	assert.Equal(t, RoomActive, summary.State)
}
