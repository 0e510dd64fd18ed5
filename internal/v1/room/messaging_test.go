package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostMessage_RejectsUnknownChannel(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()
	_, _ = r.Join(ctx, store, "alice", RoleMember, 0, "")

	_, err := r.PostMessage(ctx, store, "m1", "missing-channel", "alice", "hi", "")
	require.Error(t, err)
	assert.Equal(t, ErrChannelNotFound, err)
}

func TestPostMessage_ReplyToMustExist(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()
	_, _ = r.Join(ctx, store, "alice", RoleMember, 0, "")

	_, err := r.PostMessage(ctx, store, "m1", MainChannelID, "alice", "hi", "does-not-exist")
	require.Error(t, err)

	first, err := r.PostMessage(ctx, store, "m2", MainChannelID, "alice", "hello", "")
	require.NoError(t, err)

	reply, err := r.PostMessage(ctx, store, "m3", MainChannelID, "alice", "reply", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reply.ReplyTo)
}

func TestPostMessage_NonMemberRejected(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()

	_, err := r.PostMessage(context.Background(), store, "m1", MainChannelID, "ghost", "hi", "")
	require.Error(t, err)
	assert.Equal(t, ErrNotMember, err)
}

func TestCritique_OnUnknownMessageFails(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()
	_, _ = r.Join(ctx, store, "alice", RoleMember, 0, "")

	_, err := r.Critique(ctx, store, "crit1", "nonexistent", "alice", "needs work", SeverityMinor)
	require.Error(t, err)
	assert.Equal(t, ErrMessageNotFound, err)
}

func TestCritique_BlockingSurfacesOnDecision(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()
	_, _ = r.Join(ctx, store, "alice", RoleMember, 0, "")

	d, err := r.ProposeDecision(ctx, store, "d1", MainChannelID, "alice", "ship it", VoteSimpleMajority, 0)
	require.NoError(t, err)

	crit, err := r.Critique(ctx, store, "crit1", d.ID, "alice", "this will break prod", SeverityBlocking)
	require.NoError(t, err)

	require.Len(t, d.BlockingCritiques, 1)
	assert.Equal(t, crit.ID, d.BlockingCritiques[0])
}

func TestCritique_NonBlockingDoesNotSurface(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()
	_, _ = r.Join(ctx, store, "alice", RoleMember, 0, "")

	d, err := r.ProposeDecision(ctx, store, "d1", MainChannelID, "alice", "ship it", VoteSimpleMajority, 0)
	require.NoError(t, err)

	_, err = r.Critique(ctx, store, "crit1", d.ID, "alice", "minor nit", SeverityMinor)
	require.NoError(t, err)
	assert.Empty(t, d.BlockingCritiques)
}
