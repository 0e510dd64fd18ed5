package room

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_DefaultsRoleAndWeight(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()

	m, err := r.Join(context.Background(), store, "alice", "", 0, "")
	require.NoError(t, err)
	assert.Equal(t, RoleMember, m.Role)
	assert.Equal(t, DefaultVoteWeight(RoleMember), m.VoteWeight)
	assert.True(t, m.Active)
}

func TestJoin_WrongPassword(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", hashPassword("secret"), DefaultConfig())
	defer r.Shutdown()

	_, err := r.Join(context.Background(), store, "alice", RoleMember, 0, "nope")
	require.Error(t, err)
	assert.Equal(t, ErrWrongPassword, err)
}

func TestJoin_Idempotent_OverwritesRoleAndWeight(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()

	_, err := r.Join(context.Background(), store, "alice", RoleMember, 0, "")
	require.NoError(t, err)
	m, err := r.Join(context.Background(), store, "alice", RoleCoordinator, 5, "")
	require.NoError(t, err)
	assert.Equal(t, RoleCoordinator, m.Role)
	assert.Equal(t, 5.0, m.VoteWeight)
	assert.Equal(t, 1, r.activeMemberCountLocked())
}

func TestLeave_NotAMember_IsNoop(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()

	err := r.Leave(context.Background(), store, "ghost")
	require.NoError(t, err)
}

func TestLeave_MarksInactive(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()

	_, err := r.Join(ctx, store, "alice", RoleMember, 0, "")
	require.NoError(t, err)
	require.NoError(t, r.Leave(ctx, store, "alice"))
	assert.False(t, r.isMemberActiveLocked("alice"))
	assert.Equal(t, 0, r.activeMemberCountLocked())
}

func TestCreateChannel_DuplicateNameRejected(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()
	ctx := context.Background()
	_, _ = r.Join(ctx, store, "alice", RoleMember, 0, "")

	_, err := r.CreateChannel(ctx, store, "c1", "design", "", "alice")
	require.NoError(t, err)

	_, err = r.CreateChannel(ctx, store, "c2", "design", "", "alice")
	require.Error(t, err)
	assert.Equal(t, ErrDuplicateChannel, err)
}

func TestCreateChannel_RequiresActiveMember(t *testing.T) {
	store := newMemStore()
	r := NewRoom("r1", "topic", "", DefaultConfig())
	defer r.Shutdown()

	_, err := r.CreateChannel(context.Background(), store, "c1", "design", "", "nobody")
	require.Error(t, err)
	assert.Equal(t, ErrNotMember, err)
}
