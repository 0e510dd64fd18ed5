package room

import (
	"context"
	"time"

	"github.com/agentbus/broker/internal/v1/sandbox"
)

// ExecuteCode queues a code execution with the external sandbox. Refuses
// immediately, without ever contacting the sandbox, if code execution is
// disabled for this room.
func (r *Room) ExecuteCode(ctx context.Context, store Store, sb sandbox.Sandbox, id, channelID, requestedBy string, lang ExecLanguage, code string) (*CodeExecution, error) {
	r.mu.Lock()
	if r.State == RoomClosed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	if !r.Config.CodeExecEnabled {
		r.mu.Unlock()
		return nil, ErrCodeExecDisabled
	}
	if _, ok := r.channels[channelID]; !ok {
		r.mu.Unlock()
		return nil, ErrChannelNotFound
	}
	if !r.isMemberActiveLocked(requestedBy) {
		r.mu.Unlock()
		return nil, ErrNotMember
	}

	exec := &CodeExecution{
		ID: id, RoomID: r.RoomID, ChannelID: channelID, RequestedBy: requestedBy,
		Language: lang, Code: code, Status: ExecQueued,
	}
	if err := store.PutCodeExecution(ctx, exec); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.execs[id] = exec
	r.broadcastLocked("room_event", map[string]any{
		"kind": "code_execution_queued", "room_id": r.RoomID, "exec_id": id, "language": string(lang),
	})
	r.mu.Unlock()

	timeout := time.Duration(r.Config.CodeExecTimeoutSeconds) * time.Second
	submitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := sandbox.Request{ExecID: id, Language: string(lang), Code: code, Timeout: r.Config.CodeExecTimeoutSeconds}
	if err := sb.Submit(submitCtx, req); err != nil {
		r.mu.Lock()
		now := time.Now().UTC()
		exec.FinishedAt = &now
		exec.Status = ExecFailed
		exec.Stderr = err.Error()
		_ = store.PutCodeExecution(ctx, exec)
		r.broadcastLocked("room_event", map[string]any{
			"kind": "code_execution_completed", "room_id": r.RoomID, "exec_id": id, "status": string(ExecFailed), "reason": err.Error(),
		})
		r.mu.Unlock()
		return exec, nil
	}

	r.mu.Lock()
	now := time.Now().UTC()
	exec.StartedAt = &now
	exec.Status = ExecRunning
	if err := store.PutCodeExecution(ctx, exec); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.broadcastLocked("room_event", map[string]any{
		"kind": "code_execution_started", "room_id": r.RoomID, "exec_id": id,
	})
	r.mu.Unlock()
	return exec, nil
}

// CompleteExecution is invoked when the external sandbox's
// code_execution_completed callback arrives, transitioning the named
// execution to a terminal status and posting a code_result RoomMessage. A
// callback for an unknown or already-terminal exec id is ignored, since the
// sweep below may have already timed it out.
func (r *Room) CompleteExecution(ctx context.Context, store Store, res sandbox.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec, ok := r.execs[res.ExecID]
	if !ok || isTerminal(exec.Status) {
		return nil
	}

	now := time.Now().UTC()
	exec.FinishedAt = &now
	exec.ExitCode = res.ExitCode
	exec.Stdout = res.Stdout
	exec.Stderr = res.Stderr
	exec.ElapsedMs = res.ElapsedMs
	switch res.Status {
	case "succeeded":
		exec.Status = ExecSucceeded
	case "failed":
		exec.Status = ExecFailed
	case "timed_out":
		exec.Status = ExecTimedOut
	default:
		exec.Status = ExecFailed
	}
	if err := store.PutCodeExecution(ctx, exec); err != nil {
		return err
	}

	msg := &RoomMessage{
		ID: res.ExecID + "-result", RoomID: r.RoomID, ChannelID: exec.ChannelID,
		FromClient: exec.RequestedBy, Text: exec.Stdout, Kind: KindCodeResult, CreatedAt: now,
		Meta: map[string]any{"exit_code": exec.ExitCode, "status": string(exec.Status), "stderr": exec.Stderr},
	}
	if err := store.PutRoomMessage(ctx, msg); err != nil {
		return err
	}
	r.appendHistoryLocked(msg)

	r.broadcastLocked("room_event", map[string]any{
		"kind": "code_execution_completed", "room_id": r.RoomID, "exec_id": res.ExecID,
		"status": string(exec.Status), "exit_code": exec.ExitCode,
	})
	return nil
}

// SweepTimedOutExecutions transitions any execution still running past its
// room's configured timeout to timed_out; called periodically by the
// Engine alongside the TTL sweeper.
func (r *Room) SweepTimedOutExecutions(ctx context.Context, store Store) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Duration(r.Config.CodeExecTimeoutSeconds) * time.Second
	now := time.Now().UTC()
	for _, exec := range r.execs {
		if exec.Status != ExecRunning || exec.StartedAt == nil {
			continue
		}
		if now.Sub(*exec.StartedAt) <= deadline {
			continue
		}
		exec.FinishedAt = &now
		exec.Status = ExecTimedOut
		_ = store.PutCodeExecution(ctx, exec)
		r.broadcastLocked("room_event", map[string]any{
			"kind": "code_execution_completed", "room_id": r.RoomID, "exec_id": exec.ID, "status": string(ExecTimedOut),
		})
	}
}

func isTerminal(s ExecStatus) bool {
	switch s {
	case ExecSucceeded, ExecFailed, ExecTimedOut, ExecRefused:
		return true
	default:
		return false
	}
}
