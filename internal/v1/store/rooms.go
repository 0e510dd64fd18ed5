package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agentbus/broker/internal/v1/metrics"
	"github.com/agentbus/broker/internal/v1/room"
)

func (s *Store) PutRoom(ctx context.Context, r *room.Room) error {
	cfg, err := json.Marshal(r.Config)
	if err != nil {
		return err
	}
	_, err = s.writer.ExecContext(ctx,
		`INSERT INTO rooms (room_id, topic, password_hash, state, total_file_bytes, config_blob, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET topic=excluded.topic, state=excluded.state, total_file_bytes=excluded.total_file_bytes`,
		r.RoomID, r.Topic, r.PasswordHash, string(r.State), r.TotalFileBytes, cfg, r.CreatedAt.Format(timeLayout))
	metrics.PersistenceWrites.WithLabelValues("rooms", outcome(err)).Inc()
	return err
}

func (s *Store) PutMember(ctx context.Context, m *room.Member) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO members (room_id, client_id, role, vote_weight, joined_at, active)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(room_id, client_id) DO UPDATE SET role=excluded.role, vote_weight=excluded.vote_weight, active=excluded.active`,
		m.RoomID, m.ClientID, string(m.Role), m.VoteWeight, m.JoinedAt.Format(timeLayout), boolToInt(m.Active))
	metrics.PersistenceWrites.WithLabelValues("members", outcome(err)).Inc()
	return err
}

func (s *Store) PutChannel(ctx context.Context, c *room.Channel) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO channels (room_id, channel_id, name, topic, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(room_id, channel_id) DO NOTHING`,
		c.RoomID, c.ChannelID, c.Name, c.Topic, c.CreatedAt.Format(timeLayout), c.CreatedBy)
	metrics.PersistenceWrites.WithLabelValues("channels", outcome(err)).Inc()
	return err
}

func (s *Store) PutRoomMessage(ctx context.Context, m *room.RoomMessage) error {
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return err
	}
	_, err = s.writer.ExecContext(ctx,
		`INSERT INTO room_messages (id, room_id, channel_id, from_client, kind, text, reply_to, created_at, meta_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		m.ID, m.RoomID, m.ChannelID, m.FromClient, string(m.Kind), m.Text, m.ReplyTo, m.CreatedAt.Format(timeLayout), meta)
	metrics.PersistenceWrites.WithLabelValues("room_messages", outcome(err)).Inc()
	return err
}

func (s *Store) PutCritique(ctx context.Context, c *room.Critique) error {
	var resolvedAt sql.NullString
	if c.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: c.ResolvedAt.Format(timeLayout), Valid: true}
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO critiques (id, target_message_id, from_client, text, severity, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET resolved_at=excluded.resolved_at`,
		c.ID, c.TargetMessageID, c.FromClient, c.Text, string(c.Severity), c.CreatedAt.Format(timeLayout), resolvedAt)
	metrics.PersistenceWrites.WithLabelValues("critiques", outcome(err)).Inc()
	return err
}

func (s *Store) PutDecision(ctx context.Context, d *room.Decision) error {
	var closedAt, parentID sql.NullString
	if d.ClosedAt != nil {
		closedAt = sql.NullString{String: d.ClosedAt.Format(timeLayout), Valid: true}
	}
	if d.ParentDecisionID != "" {
		parentID = sql.NullString{String: d.ParentDecisionID, Valid: true}
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO decisions (id, room_id, channel_id, proposed_by, text, original_text, vote_type, required_votes, status, parent_decision_id, created_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET text=excluded.text, status=excluded.status, closed_at=excluded.closed_at`,
		d.ID, d.RoomID, d.ChannelID, d.ProposedBy, d.Text, d.OriginalText, string(d.VoteType),
		d.RequiredVotes, string(d.Status), parentID, d.CreatedAt.Format(timeLayout), closedAt)
	metrics.PersistenceWrites.WithLabelValues("decisions", outcome(err)).Inc()
	if err != nil {
		return err
	}

	if d.ParentDecisionID != "" {
		_, err = s.writer.ExecContext(ctx,
			`INSERT INTO alternatives (decision_id, alternative_id, ordinal) VALUES (?, ?, 0)
			 ON CONFLICT(decision_id, alternative_id) DO NOTHING`,
			d.ParentDecisionID, d.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) PutAmendment(ctx context.Context, decisionID string, a *room.Amendment) error {
	var acceptedAt sql.NullString
	if a.AcceptedAt != nil {
		acceptedAt = sql.NullString{String: a.AcceptedAt.Format(timeLayout), Valid: true}
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO amendments (id, decision_id, proposed_by, text, accepted, created_at, accepted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET accepted=excluded.accepted, accepted_at=excluded.accepted_at`,
		a.ID, decisionID, a.ProposedBy, a.Text, boolToInt(a.Accepted), a.CreatedAt.Format(timeLayout), acceptedAt)
	metrics.PersistenceWrites.WithLabelValues("amendments", outcome(err)).Inc()
	return err
}

func (s *Store) PutDebateArgument(ctx context.Context, a *room.DebateArgument) error {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return err
	}
	_, err = s.writer.ExecContext(ctx,
		`INSERT INTO debate_args (id, decision_id, from_client, position, text, evidence_blob, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		a.ID, a.DecisionID, a.FromClient, string(a.Position), a.Text, evidence, a.CreatedAt.Format(timeLayout))
	metrics.PersistenceWrites.WithLabelValues("debate_args", outcome(err)).Inc()
	return err
}

func (s *Store) PutVote(ctx context.Context, v *room.Vote) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO votes (decision_id, voter, approve, veto, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(decision_id, voter) DO UPDATE SET approve=excluded.approve, veto=excluded.veto, weight=excluded.weight, created_at=excluded.created_at`,
		v.DecisionID, v.Voter, boolToInt(v.Approve), boolToInt(v.Veto), v.Weight, v.CreatedAt.Format(timeLayout))
	metrics.PersistenceWrites.WithLabelValues("votes", outcome(err)).Inc()
	return err
}

func (s *Store) PutFile(ctx context.Context, f *room.SharedFile) error {
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO files (id, room_id, channel_id, filename, content_type, size_bytes, uploaded_by, uploaded_at, content_blob)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		f.ID, f.RoomID, f.ChannelID, f.Filename, f.ContentType, f.SizeBytes, f.UploadedBy, f.UploadedAt.Format(timeLayout), f.Content)
	metrics.PersistenceWrites.WithLabelValues("files", outcome(err)).Inc()
	return err
}

func (s *Store) DeleteFile(ctx context.Context, fileID string) error {
	_, err := s.writer.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID)
	metrics.PersistenceWrites.WithLabelValues("files", outcome(err)).Inc()
	return err
}

func (s *Store) PutCodeExecution(ctx context.Context, e *room.CodeExecution) error {
	var startedAt, finishedAt sql.NullString
	if e.StartedAt != nil {
		startedAt = sql.NullString{String: e.StartedAt.Format(timeLayout), Valid: true}
	}
	if e.FinishedAt != nil {
		finishedAt = sql.NullString{String: e.FinishedAt.Format(timeLayout), Valid: true}
	}
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO code_execs (id, room_id, channel_id, requested_by, language, code, status, exit_code, stdout, stderr, elapsed_ms, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, exit_code=excluded.exit_code, stdout=excluded.stdout,
			stderr=excluded.stderr, elapsed_ms=excluded.elapsed_ms, started_at=excluded.started_at, finished_at=excluded.finished_at`,
		e.ID, e.RoomID, e.ChannelID, e.RequestedBy, string(e.Language), e.Code, string(e.Status),
		e.ExitCode, e.Stdout, e.Stderr, e.ElapsedMs, startedAt, finishedAt)
	metrics.PersistenceWrites.WithLabelValues("code_execs", outcome(err)).Inc()
	return err
}

func (s *Store) UpdateRoomFileBytes(ctx context.Context, roomID string, total int64) error {
	_, err := s.writer.ExecContext(ctx, `UPDATE rooms SET total_file_bytes = ? WHERE room_id = ?`, total, roomID)
	metrics.PersistenceWrites.WithLabelValues("rooms", outcome(err)).Inc()
	return err
}

// LoadAll reconstructs every room from persistence at startup. It issues
// one query per table and assembles each room.Snapshot in memory rather
// than joining in SQL, trading a larger result set for simpler Go-side
// bucketing across rooms, decisions, and channels.
func (s *Store) LoadAll(ctx context.Context) ([]*room.Room, error) {
	snapshots := make(map[string]*room.Snapshot)
	order := []string{}

	roomRows, err := s.reader.QueryContext(ctx,
		`SELECT room_id, topic, password_hash, state, total_file_bytes, config_blob, created_at FROM rooms`)
	if err != nil {
		return nil, err
	}
	defer roomRows.Close()
	for roomRows.Next() {
		var roomID, topic, state, createdAt string
		var passwordHash sql.NullString
		var totalBytes int64
		var cfgBlob []byte
		if err := roomRows.Scan(&roomID, &topic, &passwordHash, &state, &totalBytes, &cfgBlob, &createdAt); err != nil {
			return nil, err
		}
		var cfg room.Config
		_ = json.Unmarshal(cfgBlob, &cfg)
		created, _ := time.Parse(timeLayout, createdAt)
		snapshots[roomID] = &room.Snapshot{
			RoomID: roomID, Topic: topic, PasswordHash: passwordHash.String,
			State: room.RoomState(state), TotalFileBytes: totalBytes, Config: cfg, CreatedAt: created,
		}
		order = append(order, roomID)
	}
	if err := roomRows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadMembers(ctx, snapshots); err != nil {
		return nil, err
	}
	if err := s.loadChannels(ctx, snapshots); err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, snapshots); err != nil {
		return nil, err
	}
	if err := s.loadDecisions(ctx, snapshots); err != nil {
		return nil, err
	}
	if err := s.loadFiles(ctx, snapshots); err != nil {
		return nil, err
	}
	if err := s.loadExecs(ctx, snapshots); err != nil {
		return nil, err
	}

	out := make([]*room.Room, 0, len(order))
	for _, id := range order {
		out = append(out, room.FromSnapshot(*snapshots[id]))
	}
	return out, nil
}

func (s *Store) loadMembers(ctx context.Context, snapshots map[string]*room.Snapshot) error {
	rows, err := s.reader.QueryContext(ctx, `SELECT room_id, client_id, role, vote_weight, joined_at, active FROM members`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roomID, clientID, role, joinedAt string
		var weight float64
		var active int
		if err := rows.Scan(&roomID, &clientID, &role, &weight, &joinedAt, &active); err != nil {
			return err
		}
		snap, ok := snapshots[roomID]
		if !ok {
			continue
		}
		joined, _ := time.Parse(timeLayout, joinedAt)
		snap.Members = append(snap.Members, &room.Member{
			RoomID: roomID, ClientID: clientID, Role: room.Role(role), VoteWeight: weight, JoinedAt: joined, Active: active != 0,
		})
	}
	return rows.Err()
}

func (s *Store) loadChannels(ctx context.Context, snapshots map[string]*room.Snapshot) error {
	rows, err := s.reader.QueryContext(ctx, `SELECT room_id, channel_id, name, topic, created_at, created_by FROM channels`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var roomID, channelID, name, createdAt, createdBy string
		var topic sql.NullString
		if err := rows.Scan(&roomID, &channelID, &name, &topic, &createdAt, &createdBy); err != nil {
			return err
		}
		snap, ok := snapshots[roomID]
		if !ok {
			continue
		}
		created, _ := time.Parse(timeLayout, createdAt)
		snap.Channels = append(snap.Channels, &room.Channel{
			RoomID: roomID, ChannelID: channelID, Name: name, Topic: topic.String, CreatedAt: created, CreatedBy: createdBy,
		})
	}
	return rows.Err()
}

func (s *Store) loadMessages(ctx context.Context, snapshots map[string]*room.Snapshot) error {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, room_id, channel_id, from_client, kind, text, reply_to, created_at, meta_blob FROM room_messages ORDER BY created_at ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, roomID, channelID, from, kind, text, createdAt string
		var replyTo sql.NullString
		var metaBlob []byte
		if err := rows.Scan(&id, &roomID, &channelID, &from, &kind, &text, &replyTo, &createdAt, &metaBlob); err != nil {
			return err
		}
		snap, ok := snapshots[roomID]
		if !ok {
			continue
		}
		created, _ := time.Parse(timeLayout, createdAt)
		var meta map[string]any
		_ = json.Unmarshal(metaBlob, &meta)
		snap.Messages = append(snap.Messages, &room.RoomMessage{
			ID: id, RoomID: roomID, ChannelID: channelID, FromClient: from,
			Text: text, Kind: room.MessageKind(kind), ReplyTo: replyTo.String, CreatedAt: created, Meta: meta,
		})
	}
	return rows.Err()
}

func (s *Store) loadDecisions(ctx context.Context, snapshots map[string]*room.Snapshot) error {
	decisions := make(map[string]*room.Decision)

	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, room_id, channel_id, proposed_by, text, original_text, vote_type, required_votes, status, parent_decision_id, created_at, closed_at FROM decisions`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, roomID, channelID, proposedBy, text, originalText, voteType, status, createdAt string
		var requiredVotes sql.NullInt64
		var parentID, closedAt sql.NullString
		if err := rows.Scan(&id, &roomID, &channelID, &proposedBy, &text, &originalText, &voteType, &requiredVotes, &status, &parentID, &createdAt, &closedAt); err != nil {
			return err
		}
		created, _ := time.Parse(timeLayout, createdAt)
		d := &room.Decision{
			ID: id, RoomID: roomID, ChannelID: channelID, ProposedBy: proposedBy,
			Text: text, OriginalText: originalText, VoteType: room.VoteType(voteType),
			RequiredVotes: int(requiredVotes.Int64), Status: room.DecisionStatus(status),
			ParentDecisionID: parentID.String, CreatedAt: created, Votes: make(map[string]room.Vote),
		}
		if closedAt.Valid {
			t, _ := time.Parse(timeLayout, closedAt.String)
			d.ClosedAt = &t
		}
		decisions[id] = d
		if snap, ok := snapshots[roomID]; ok {
			snap.Decisions = append(snap.Decisions, d)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	altRows, err := s.reader.QueryContext(ctx, `SELECT decision_id, alternative_id FROM alternatives ORDER BY ordinal ASC`)
	if err != nil {
		return err
	}
	defer altRows.Close()
	for altRows.Next() {
		var parentID, altID string
		if err := altRows.Scan(&parentID, &altID); err != nil {
			return err
		}
		if d, ok := decisions[parentID]; ok {
			d.Alternatives = append(d.Alternatives, altID)
		}
	}
	if err := altRows.Err(); err != nil {
		return err
	}

	amendRows, err := s.reader.QueryContext(ctx,
		`SELECT id, decision_id, proposed_by, text, accepted, created_at, accepted_at FROM amendments ORDER BY created_at ASC`)
	if err != nil {
		return err
	}
	defer amendRows.Close()
	for amendRows.Next() {
		var id, decisionID, proposedBy, text, createdAt string
		var accepted int
		var acceptedAt sql.NullString
		if err := amendRows.Scan(&id, &decisionID, &proposedBy, &text, &accepted, &createdAt, &acceptedAt); err != nil {
			return err
		}
		d, ok := decisions[decisionID]
		if !ok {
			continue
		}
		created, _ := time.Parse(timeLayout, createdAt)
		a := room.Amendment{ID: id, DecisionID: decisionID, ProposedBy: proposedBy, Text: text, Accepted: accepted != 0, CreatedAt: created}
		if acceptedAt.Valid {
			t, _ := time.Parse(timeLayout, acceptedAt.String)
			a.AcceptedAt = &t
		}
		d.Amendments = append(d.Amendments, a)
	}
	if err := amendRows.Err(); err != nil {
		return err
	}

	argRows, err := s.reader.QueryContext(ctx,
		`SELECT id, decision_id, from_client, position, text, evidence_blob, created_at FROM debate_args ORDER BY created_at ASC`)
	if err != nil {
		return err
	}
	defer argRows.Close()
	for argRows.Next() {
		var id, decisionID, from, position, text, createdAt string
		var evidenceBlob []byte
		if err := argRows.Scan(&id, &decisionID, &from, &position, &text, &evidenceBlob, &createdAt); err != nil {
			return err
		}
		d, ok := decisions[decisionID]
		if !ok {
			continue
		}
		created, _ := time.Parse(timeLayout, createdAt)
		var evidence []string
		_ = json.Unmarshal(evidenceBlob, &evidence)
		arg := room.DebateArgument{ID: id, DecisionID: decisionID, FromClient: from, Position: room.Position(position), Text: text, Evidence: evidence, CreatedAt: created}
		if arg.Position == room.PositionPro {
			d.ProArgs = append(d.ProArgs, arg)
		} else {
			d.ConArgs = append(d.ConArgs, arg)
		}
	}
	if err := argRows.Err(); err != nil {
		return err
	}

	voteRows, err := s.reader.QueryContext(ctx, `SELECT decision_id, voter, approve, veto, weight, created_at FROM votes`)
	if err != nil {
		return err
	}
	defer voteRows.Close()
	for voteRows.Next() {
		var decisionID, voter, createdAt string
		var approve, veto int
		var weight float64
		if err := voteRows.Scan(&decisionID, &voter, &approve, &veto, &weight, &createdAt); err != nil {
			return err
		}
		d, ok := decisions[decisionID]
		if !ok {
			continue
		}
		created, _ := time.Parse(timeLayout, createdAt)
		d.Votes[voter] = room.Vote{DecisionID: decisionID, Voter: voter, Approve: approve != 0, Veto: veto != 0, Weight: weight, CreatedAt: created}
	}
	return voteRows.Err()
}

func (s *Store) loadFiles(ctx context.Context, snapshots map[string]*room.Snapshot) error {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, room_id, channel_id, filename, content_type, size_bytes, uploaded_by, uploaded_at, content_blob FROM files ORDER BY uploaded_at ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, roomID, channelID, filename, uploadedBy, uploadedAt string
		var contentType sql.NullString
		var size int64
		var content []byte
		if err := rows.Scan(&id, &roomID, &channelID, &filename, &contentType, &size, &uploadedBy, &uploadedAt, &content); err != nil {
			return err
		}
		snap, ok := snapshots[roomID]
		if !ok {
			continue
		}
		uploaded, _ := time.Parse(timeLayout, uploadedAt)
		snap.Files = append(snap.Files, &room.SharedFile{
			ID: id, RoomID: roomID, ChannelID: channelID, Filename: filename, ContentType: contentType.String,
			SizeBytes: size, UploadedBy: uploadedBy, UploadedAt: uploaded, Content: content,
		})
	}
	return rows.Err()
}

func (s *Store) loadExecs(ctx context.Context, snapshots map[string]*room.Snapshot) error {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT id, room_id, channel_id, requested_by, language, code, status, exit_code, stdout, stderr, elapsed_ms, started_at, finished_at FROM code_execs`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, roomID, channelID, requestedBy, language, code, status string
		var exitCode sql.NullInt64
		var stdout, stderr sql.NullString
		var elapsedMs sql.NullInt64
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&id, &roomID, &channelID, &requestedBy, &language, &code, &status, &exitCode, &stdout, &stderr, &elapsedMs, &startedAt, &finishedAt); err != nil {
			return err
		}
		snap, ok := snapshots[roomID]
		if !ok {
			continue
		}
		e := &room.CodeExecution{
			ID: id, RoomID: roomID, ChannelID: channelID, RequestedBy: requestedBy,
			Language: room.ExecLanguage(language), Code: code, Status: room.ExecStatus(status),
			ExitCode: int(exitCode.Int64), Stdout: stdout.String, Stderr: stderr.String, ElapsedMs: elapsedMs.Int64,
		}
		if startedAt.Valid {
			t, _ := time.Parse(timeLayout, startedAt.String)
			e.StartedAt = &t
		}
		if finishedAt.Valid {
			t, _ := time.Parse(timeLayout, finishedAt.String)
			e.FinishedAt = &t
		}
		snap.Execs = append(snap.Execs, e)
	}
	return rows.Err()
}
