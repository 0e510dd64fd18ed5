package store

// schemaVersion is the version this binary expects. The broker refuses to
// start against a database with a higher on-disk version.
const schemaVersion = 1

// ddl lists CREATE TABLE / CREATE INDEX statements as separate entries.
// Index-inline-in-table declarations are deliberately avoided here: that
// shortcut is a known source of broken schema init in this system's
// history, so every index gets its own statement.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		version INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		from_client TEXT NOT NULL,
		to_target TEXT NOT NULL,
		type TEXT NOT NULL,
		priority TEXT NOT NULL,
		payload_blob BLOB,
		metadata_blob BLOB,
		created_at TEXT NOT NULL,
		ttl_seconds INTEGER,
		reply_to TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status)`,

	`CREATE TABLE IF NOT EXISTS pending_deliveries (
		message_id TEXT NOT NULL,
		recipient TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		PRIMARY KEY (message_id, recipient)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_next_attempt ON pending_deliveries(next_attempt_at)`,

	`CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		revoked INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_client ON tokens(client_id)`,

	`CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		password_hash TEXT,
		state TEXT NOT NULL DEFAULT 'active',
		total_file_bytes INTEGER NOT NULL DEFAULT 0,
		config_blob BLOB,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS members (
		room_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		role TEXT NOT NULL,
		vote_weight REAL NOT NULL,
		joined_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (room_id, client_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_members_room ON members(room_id)`,

	`CREATE TABLE IF NOT EXISTS channels (
		room_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		name TEXT NOT NULL,
		topic TEXT,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		PRIMARY KEY (room_id, channel_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_channels_room ON channels(room_id)`,

	`CREATE TABLE IF NOT EXISTS room_messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		from_client TEXT NOT NULL,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		reply_to TEXT,
		created_at TEXT NOT NULL,
		meta_blob BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_room_messages_channel ON room_messages(room_id, channel_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS critiques (
		id TEXT PRIMARY KEY,
		target_message_id TEXT NOT NULL,
		from_client TEXT NOT NULL,
		text TEXT NOT NULL,
		severity TEXT NOT NULL,
		created_at TEXT NOT NULL,
		resolved_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_critiques_target ON critiques(target_message_id)`,

	`CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		proposed_by TEXT NOT NULL,
		text TEXT NOT NULL,
		original_text TEXT NOT NULL,
		vote_type TEXT NOT NULL,
		required_votes INTEGER,
		status TEXT NOT NULL DEFAULT 'open',
		parent_decision_id TEXT,
		created_at TEXT NOT NULL,
		closed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_room ON decisions(room_id)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_parent ON decisions(parent_decision_id)`,

	`CREATE TABLE IF NOT EXISTS alternatives (
		decision_id TEXT NOT NULL,
		alternative_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		PRIMARY KEY (decision_id, alternative_id)
	)`,

	`CREATE TABLE IF NOT EXISTS amendments (
		id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL,
		proposed_by TEXT NOT NULL,
		text TEXT NOT NULL,
		accepted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		accepted_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_amendments_decision ON amendments(decision_id)`,

	`CREATE TABLE IF NOT EXISTS debate_args (
		id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL,
		from_client TEXT NOT NULL,
		position TEXT NOT NULL,
		text TEXT NOT NULL,
		evidence_blob BLOB,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_debate_args_decision ON debate_args(decision_id)`,

	`CREATE TABLE IF NOT EXISTS votes (
		decision_id TEXT NOT NULL,
		voter TEXT NOT NULL,
		approve INTEGER NOT NULL,
		veto INTEGER NOT NULL DEFAULT 0,
		weight REAL NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (decision_id, voter)
	)`,

	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		content_type TEXT,
		size_bytes INTEGER NOT NULL,
		uploaded_by TEXT NOT NULL,
		uploaded_at TEXT NOT NULL,
		content_blob BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_room ON files(room_id, uploaded_at)`,

	`CREATE TABLE IF NOT EXISTS code_execs (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		requested_by TEXT NOT NULL,
		language TEXT NOT NULL,
		code TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		stdout TEXT,
		stderr TEXT,
		elapsed_ms INTEGER,
		started_at TEXT,
		finished_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_code_execs_room ON code_execs(room_id)`,
}
