package room

import "context"

// Store is the persistence contract the Room Engine needs; implemented by
// internal/v1/store. Every write that is "observable by a client" commits
// here before the in-memory Room state is mutated, per the broker's
// commit-persistence-then-memory failure policy.
type Store interface {
	PutRoom(ctx context.Context, r *Room) error
	PutMember(ctx context.Context, m *Member) error
	PutChannel(ctx context.Context, c *Channel) error
	PutRoomMessage(ctx context.Context, m *RoomMessage) error
	PutCritique(ctx context.Context, c *Critique) error
	PutDecision(ctx context.Context, d *Decision) error
	PutAmendment(ctx context.Context, decisionID string, a *Amendment) error
	PutDebateArgument(ctx context.Context, a *DebateArgument) error
	PutVote(ctx context.Context, v *Vote) error
	PutFile(ctx context.Context, f *SharedFile) error
	DeleteFile(ctx context.Context, fileID string) error
	PutCodeExecution(ctx context.Context, e *CodeExecution) error
	UpdateRoomFileBytes(ctx context.Context, roomID string, total int64) error

	// LoadAll reconstructs every persisted room on startup, closed rooms
	// included, per the §4.5 recovery contract.
	LoadAll(ctx context.Context) ([]*Room, error)
}
