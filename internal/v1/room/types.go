// Package room implements the Room Engine: the think-tank domain model
// (rooms, members, channels, messages, critiques, decisions with
// alternatives/amendments/debate, vote tallying, files with LRU eviction,
// and code-execution handoff) plus its per-room serial broadcast
// fan-out lane. Grounded on the teacher's room/{room,methods,handlers}.go
// single-room-lock model: "Room has a single logical lock protecting its
// entire domain state" is kept verbatim in spirit, generalized from video
// room membership to the full think-tank state machine.
package room

import "time"

type RoomState string

const (
	RoomActive RoomState = "active"
	RoomClosed RoomState = "closed"
)

type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleResearcher  Role = "researcher"
	RoleCoder       Role = "coder"
	RoleReviewer    Role = "reviewer"
	RoleTester      Role = "tester"
	RoleMember      Role = "member"
)

// DefaultVoteWeight returns the default vote_weight for a role; callers may
// override it at join time.
func DefaultVoteWeight(r Role) float64 {
	switch r {
	case RoleCoordinator:
		return 2.0
	case RoleResearcher:
		return 1.5
	default:
		return 1.0
	}
}

type Config struct {
	MaxTotalFileBytes       int64 `json:"max_total_file_bytes"`
	MaxFileBytes            int64 `json:"max_file_bytes"`
	CodeExecEnabled         bool  `json:"code_exec_enabled"`
	CodeExecTimeoutSeconds  int   `json:"code_exec_timeout"`
	SummarizeAfterMessages  int   `json:"summarize_after_messages"`
}

// DefaultConfig mirrors the spec's per-room defaults: 100 MiB room cap,
// 10 MiB per-file cap, code execution disabled, 30s sandbox timeout.
func DefaultConfig() Config {
	return Config{
		MaxTotalFileBytes:      100 * 1024 * 1024,
		MaxFileBytes:           10 * 1024 * 1024,
		CodeExecEnabled:        false,
		CodeExecTimeoutSeconds: 30,
	}
}

const MainChannelID = "main"

type Member struct {
	RoomID     string
	ClientID   string
	Role       Role
	VoteWeight float64
	JoinedAt   time.Time
	Active     bool
}

type Channel struct {
	RoomID    string
	ChannelID string
	Name      string
	Topic     string
	CreatedAt time.Time
	CreatedBy string
}

type MessageKind string

const (
	KindMessage    MessageKind = "message"
	KindSystem     MessageKind = "system"
	KindCritique   MessageKind = "critique"
	KindArgument   MessageKind = "argument"
	KindAmendment  MessageKind = "amendment"
	KindCodeResult MessageKind = "code_result"
)

// HistoryLimit bounds the per-channel in-memory ring buffer; older entries
// remain in persisted history.
const HistoryLimit = 1000

type RoomMessage struct {
	ID         string
	RoomID     string
	ChannelID  string
	FromClient string
	Text       string
	Kind       MessageKind
	ReplyTo    string
	CreatedAt  time.Time
	Meta       map[string]any
}

type Severity string

const (
	SeverityBlocking   Severity = "blocking"
	SeverityMajor      Severity = "major"
	SeverityMinor      Severity = "minor"
	SeveritySuggestion Severity = "suggestion"
)

type Critique struct {
	ID              string
	TargetMessageID string
	FromClient      string
	Text            string
	Severity        Severity
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

type VoteType string

const (
	VoteSimpleMajority VoteType = "simple_majority"
	VoteConsensus      VoteType = "consensus"
	VoteQuorum         VoteType = "quorum"
	VoteWeighted       VoteType = "weighted"
)

type DecisionStatus string

const (
	DecisionOpen       DecisionStatus = "open"
	DecisionApproved   DecisionStatus = "approved"
	DecisionRejected   DecisionStatus = "rejected"
	DecisionVetoed     DecisionStatus = "vetoed"
	DecisionWithdrawn  DecisionStatus = "withdrawn"
	DecisionSuperseded DecisionStatus = "superseded"
)

type Amendment struct {
	ID         string
	DecisionID string
	ProposedBy string
	Text       string
	Accepted   bool
	CreatedAt  time.Time
	AcceptedAt *time.Time
}

type Position string

const (
	PositionPro Position = "pro"
	PositionCon Position = "con"
)

type DebateArgument struct {
	ID         string
	DecisionID string
	FromClient string
	Position   Position
	Text       string
	Evidence   []string
	CreatedAt  time.Time
}

type Vote struct {
	DecisionID string
	Voter      string
	Approve    bool
	Veto       bool
	Weight     float64
	CreatedAt  time.Time
}

type Decision struct {
	ID               string
	RoomID           string
	ChannelID        string
	ProposedBy       string
	Text             string
	OriginalText     string
	VoteType         VoteType
	RequiredVotes    int
	Status           DecisionStatus
	ParentDecisionID string
	CreatedAt        time.Time
	ClosedAt         *time.Time

	Alternatives      []string
	Amendments        []Amendment
	ProArgs           []DebateArgument
	ConArgs           []DebateArgument
	Votes             map[string]Vote // voter -> vote
	BlockingCritiques []string        // critique ids with severity=blocking, surfaced but never auto-enforced
}

type SharedFile struct {
	ID          string
	RoomID      string
	ChannelID   string
	Filename    string
	ContentType string
	SizeBytes   int64
	UploadedBy  string
	UploadedAt  time.Time
	Content     []byte
}

type ExecLanguage string

const (
	LangPython     ExecLanguage = "python"
	LangJavaScript ExecLanguage = "javascript"
	LangBash       ExecLanguage = "bash"
)

type ExecStatus string

const (
	ExecQueued    ExecStatus = "queued"
	ExecRunning   ExecStatus = "running"
	ExecSucceeded ExecStatus = "succeeded"
	ExecFailed    ExecStatus = "failed"
	ExecTimedOut  ExecStatus = "timed_out"
	ExecRefused   ExecStatus = "refused"
)

type CodeExecution struct {
	ID          string
	RoomID      string
	ChannelID   string
	RequestedBy string
	Language    ExecLanguage
	Code        string
	StartedAt   *time.Time
	FinishedAt  *time.Time
	ExitCode    int
	Stdout      string
	Stderr      string
	ElapsedMs   int64
	Status      ExecStatus
}
