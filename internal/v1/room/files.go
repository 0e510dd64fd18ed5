package room

import (
	"context"
	"time"

	"github.com/agentbus/broker/internal/v1/auth"
)

// UploadFile stores a shared file, evicting the least-recently-uploaded
// files (oldest-first) until the room's total file budget is respected. A
// single file larger than MaxFileBytes, or than MaxTotalFileBytes outright,
// is rejected rather than triggering eviction of everything else.
func (r *Room) UploadFile(ctx context.Context, store Store, id, channelID, filename, contentType string, content []byte, uploadedBy string) (*SharedFile, error) {
	if int64(len(content)) > r.Config.MaxFileBytes {
		return nil, ErrTooLarge
	}
	filename = auth.SanitizeFilename(filename)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.State == RoomClosed {
		return nil, ErrRoomClosed
	}
	if _, ok := r.channels[channelID]; !ok {
		return nil, ErrChannelNotFound
	}
	if !r.isMemberActiveLocked(uploadedBy) {
		return nil, ErrNotMember
	}

	size := int64(len(content))
	if size > r.Config.MaxTotalFileBytes {
		return nil, ErrTooLarge
	}

	var evicted []string
	for r.TotalFileBytes+size > r.Config.MaxTotalFileBytes && r.fileOrder.Len() > 0 {
		oldestEl := r.fileOrder.Front()
		oldestID := oldestEl.Value.(string)
		if f, ok := r.files[oldestID]; ok {
			r.TotalFileBytes -= f.SizeBytes
			delete(r.files, oldestID)
			if err := store.DeleteFile(ctx, oldestID); err != nil {
				return nil, err
			}
			evicted = append(evicted, oldestID)
		}
		r.fileOrder.Remove(oldestEl)
	}

	f := &SharedFile{
		ID: id, RoomID: r.RoomID, ChannelID: channelID, Filename: filename,
		ContentType: contentType, SizeBytes: size, UploadedBy: uploadedBy,
		UploadedAt: time.Now().UTC(), Content: content,
	}
	if err := store.PutFile(ctx, f); err != nil {
		return nil, err
	}
	r.TotalFileBytes += size
	if err := store.UpdateRoomFileBytes(ctx, r.RoomID, r.TotalFileBytes); err != nil {
		return nil, err
	}
	r.files[id] = f
	r.fileOrder.PushBack(id)

	for _, evictedID := range evicted {
		r.broadcastLocked("room_event", map[string]any{
			"kind": "file_evicted", "room_id": r.RoomID, "file_id": evictedID,
		})
	}
	r.broadcastLocked("room_event", map[string]any{
		"kind": "file_uploaded", "room_id": r.RoomID, "file_id": id,
		"filename": filename, "size_bytes": size, "uploaded_by": uploadedBy,
	})
	return f, nil
}

// DownloadFile does not require room membership, but if the room has a
// password set, the caller must still present it (a room password gates
// all room content, not just live membership).
func (r *Room) DownloadFile(ctx context.Context, fileID, password string) (*SharedFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !passwordMatches(r.PasswordHash, password) {
		return nil, ErrWrongPassword
	}
	f, ok := r.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	return f, nil
}
