// Package domain defines the gitswarm entity model (spec.md §3): agents,
// repositories, access grants, streams, reviews, tasks, councils,
// proposals, and activity events, along with their enums and Validate()
// checks. Entities are plain structs; lifecycle rules live in the
// component packages that own them (access, consensus, streamtracker,
// taskmarket, council, stage).
package domain

import "fmt"

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentSuspended AgentStatus = "suspended"
	AgentBanned    AgentStatus = "banned"
)

// Agent is a registered identity able to act against repositories.
type Agent struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Bio         string      `json:"bio,omitempty"`
	KeyHash     string      `json:"-"`
	Karma       int         `json:"karma"`
	Status      AgentStatus `json:"status"`
	CreatedAtMs int64       `json:"created_at_ms"`
	LastSeenAtMs int64      `json:"last_seen_at_ms,omitempty"`
}

func (a AgentStatus) Validate() error {
	switch a {
	case AgentActive, AgentSuspended, AgentBanned:
		return nil
	default:
		return fmt.Errorf("unknown agent status: %q", a)
	}
}

// OwnershipModel selects which rule family Consensus uses to interpret reviews.
type OwnershipModel string

const (
	OwnershipSolo  OwnershipModel = "solo"
	OwnershipGuild OwnershipModel = "guild"
	OwnershipOpen  OwnershipModel = "open"
)

// MergeMode controls when a stream's commits get queued for buffer merge.
type MergeMode string

const (
	MergeModeSwarm  MergeMode = "swarm"
	MergeModeReview MergeMode = "review"
	MergeModeGated  MergeMode = "gated"
)

// AgentAccessPolicy is the repository-wide default access rule.
type AgentAccessPolicy string

const (
	AccessPublic        AgentAccessPolicy = "public"
	AccessKarmaThreshold AgentAccessPolicy = "karma_threshold"
	AccessAllowlist     AgentAccessPolicy = "allowlist"
)

// ConsensusAuthority says which site is authoritative for consensus checks.
type ConsensusAuthority string

const (
	AuthorityLocal  ConsensusAuthority = "local"
	AuthorityServer ConsensusAuthority = "server"
)

// RepositoryStage is the lifecycle tier driving default policy (spec.md §4.I).
type RepositoryStage string

const (
	StageSeed        RepositoryStage = "seed"
	StageGrowth      RepositoryStage = "growth"
	StageEstablished RepositoryStage = "established"
	StageMature      RepositoryStage = "mature"
)

// Repository is the coordination unit: one governed codebase.
type Repository struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	Stage              RepositoryStage    `json:"stage"`
	OwnershipModel     OwnershipModel     `json:"ownership_model"`
	MergeMode          MergeMode          `json:"merge_mode"`
	AgentAccess        AgentAccessPolicy  `json:"agent_access"`
	MinKarma           int                `json:"min_karma"`
	ConsensusThreshold float64            `json:"consensus_threshold"`
	MinReviews         int                `json:"min_reviews"`
	HumanReviewWeight  float64            `json:"human_review_weight"`
	BufferBranch       string             `json:"buffer_branch"`
	PromoteTarget      string             `json:"promote_target"`
	StabilizeCommand   string             `json:"stabilize_command"`
	StabilizeTimeoutS  int                `json:"stabilize_timeout_seconds"`
	StabilizeInContainer bool             `json:"stabilize_in_container,omitempty"`
	AutoPromoteOnGreen bool               `json:"auto_promote_on_green"`
	AutoRevertOnRed    bool               `json:"auto_revert_on_red"`
	ConsensusAuthority ConsensusAuthority `json:"consensus_authority"`
	ContributorCount   int                `json:"contributor_count"`
	PatchCount         int                `json:"patch_count"`
	CreatedAtMs        int64              `json:"created_at_ms"`
}

// AccessLevel is an ordered permission tier: read < write < maintain < admin.
type AccessLevel string

const (
	AccessNone     AccessLevel = "none"
	AccessRead     AccessLevel = "read"
	AccessWrite    AccessLevel = "write"
	AccessMaintain AccessLevel = "maintain"
	AccessAdmin    AccessLevel = "admin"
)

var accessRank = map[AccessLevel]int{
	AccessNone:     0,
	AccessRead:     1,
	AccessWrite:    2,
	AccessMaintain: 3,
	AccessAdmin:    4,
}

// AtLeast reports whether level meets or exceeds min.
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	return accessRank[l] >= accessRank[min]
}

// AccessGrant is an explicit (repo, agent) -> level override.
type AccessGrant struct {
	RepoID      string      `json:"repo_id"`
	AgentID     string      `json:"agent_id"`
	Level       AccessLevel `json:"level"`
	ExpiresAtMs int64       `json:"expires_at_ms,omitempty"`
}

// MaintainerRole distinguishes repository owners from ordinary maintainers.
type MaintainerRole string

const (
	RoleOwner      MaintainerRole = "owner"
	RoleMaintainer MaintainerRole = "maintainer"
)

// Maintainer records a (repo, agent) maintainer-role membership.
type Maintainer struct {
	RepoID  string         `json:"repo_id"`
	AgentID string         `json:"agent_id"`
	Role    MaintainerRole `json:"role"`
}

// DirectPushPolicy controls who may push directly to a matching branch.
type DirectPushPolicy string

const (
	DirectPushNone        DirectPushPolicy = "none"
	DirectPushMaintainers DirectPushPolicy = "maintainers"
	DirectPushAll         DirectPushPolicy = "all"
)

// BranchRule is a path-prefix policy, evaluated in descending Priority order.
type BranchRule struct {
	ID               string           `json:"id"`
	RepoID           string           `json:"repo_id"`
	PathPrefix       string           `json:"path_prefix"`
	Priority         int              `json:"priority"`
	DirectPush       DirectPushPolicy `json:"direct_push"`
	RequiredApprovals int             `json:"required_approvals"`
	RequireTestsPass bool             `json:"require_tests_pass"`
}

// StreamStatus is the monotonic lifecycle state of a Stream.
type StreamStatus string

const (
	StreamActive    StreamStatus = "active"
	StreamInReview  StreamStatus = "in_review"
	StreamMerged    StreamStatus = "merged"
	StreamAbandoned StreamStatus = "abandoned"
	StreamReverted  StreamStatus = "reverted"
)

// ReviewStatus summarizes the aggregate review state of a Stream.
type ReviewStatus string

const (
	ReviewPending          ReviewStatus = "pending"
	ReviewInReview         ReviewStatus = "in_review"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
)

// Stream is a named feature branch tied to an agent, carrying governance metadata.
type Stream struct {
	ID             string       `json:"id"`
	RepoID         string       `json:"repo_id"`
	AgentID        string       `json:"agent_id"`
	Name           string       `json:"name"`
	BranchRef      string       `json:"branch_ref"`
	BaseBranch     string       `json:"base_branch"`
	ParentStreamID string       `json:"parent_stream_id,omitempty"`
	TaskID         string       `json:"task_id,omitempty"`
	Status         StreamStatus `json:"status"`
	ReviewStatus   ReviewStatus `json:"review_status"`
	CreatedAtMs    int64        `json:"created_at_ms"`
	UpdatedAtMs    int64        `json:"updated_at_ms"`
}

// terminal reports whether a stream status can never transition again.
func (s StreamStatus) Terminal() bool {
	switch s {
	case StreamMerged, StreamAbandoned, StreamReverted:
		return true
	default:
		return false
	}
}

// CanTransitionTo enforces the monotonic lifecycle invariant of spec.md §3:
// a stream never moves back to active once merged/abandoned/reverted.
func (s StreamStatus) CanTransitionTo(next StreamStatus) bool {
	if s.Terminal() {
		return false
	}
	return true
}

// ReviewVerdict is an individual reviewer's verdict on a stream.
type ReviewVerdict string

const (
	VerdictApprove        ReviewVerdict = "approve"
	VerdictRequestChanges ReviewVerdict = "request_changes"
	VerdictComment        ReviewVerdict = "comment"
)

// Review is a (stream, reviewer) unique verdict row; a new submission by the
// same reviewer overwrites the previous row (spec.md §3 Review).
type Review struct {
	StreamID     string        `json:"stream_id"`
	ReviewerID   string        `json:"reviewer_id"`
	Verdict      ReviewVerdict `json:"verdict"`
	Feedback     string        `json:"feedback,omitempty"`
	Tested       bool          `json:"tested"`
	IsHuman      bool          `json:"is_human"`
	IsMaintainer bool          `json:"is_maintainer"`
	ReviewedAtMs int64         `json:"reviewed_at_ms"`
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskClaimed   TaskStatus = "claimed"
	TaskSubmitted TaskStatus = "submitted"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
	TaskExpired   TaskStatus = "expired"
)

// TaskPriority ranks a Task's urgency.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Task is a unit of requested work, optionally carrying a karma bounty.
type Task struct {
	ID          string       `json:"id"`
	RepoID      string       `json:"repo_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Amount      int          `json:"amount"`
	CreatorID   string       `json:"creator_id,omitempty"`
	CreatedAtMs int64        `json:"created_at_ms"`
}

// ClaimStatus is the lifecycle state of a Claim on a Task.
type ClaimStatus string

const (
	ClaimActive    ClaimStatus = "active"
	ClaimSubmitted ClaimStatus = "submitted"
	ClaimApproved  ClaimStatus = "approved"
	ClaimRejected  ClaimStatus = "rejected"
	ClaimAbandoned ClaimStatus = "abandoned"
)

// Terminal reports whether the claim status is final (no longer blocks a
// fresh claim on the same task by the same agent).
func (c ClaimStatus) Terminal() bool {
	switch c {
	case ClaimApproved, ClaimRejected, ClaimAbandoned:
		return true
	default:
		return false
	}
}

// Claim represents one agent's attempt to deliver a Task.
type Claim struct {
	ID           string      `json:"id"`
	TaskID       string      `json:"task_id"`
	AgentID      string      `json:"agent_id"`
	StreamID     string      `json:"stream_id,omitempty"`
	Status       ClaimStatus `json:"status"`
	Notes        string      `json:"notes,omitempty"`
	ClaimedAtMs  int64       `json:"claimed_at_ms"`
	SubmittedAtMs int64      `json:"submitted_at_ms,omitempty"`
	ReviewedAtMs int64       `json:"reviewed_at_ms,omitempty"`
}

// Council is the proposal/vote governance body for one repository.
type Council struct {
	ID              string `json:"id"`
	RepoID          string `json:"repo_id"`
	MaxMembers      int    `json:"max_members"`
	MinMembers      int    `json:"min_members"`
	StandardQuorum  int    `json:"standard_quorum"`
	CriticalQuorum  int    `json:"critical_quorum"`
	TermLengthDays  int    `json:"term_length_days"`
	Status          string `json:"status"` // forming | active
}

// CouncilMemberRole distinguishes the chair from ordinary members.
type CouncilMemberRole string

const (
	CouncilChair  CouncilMemberRole = "chair"
	CouncilMember CouncilMemberRole = "member"
)

// CouncilMembership is a (council, agent) row.
type CouncilMembership struct {
	CouncilID      string            `json:"council_id"`
	AgentID        string            `json:"agent_id"`
	Role           CouncilMemberRole `json:"role"`
	TermExpiresAtMs int64            `json:"term_expires_at_ms,omitempty"`
}

// ProposalType is the sum type of council actions (spec.md §4.H).
type ProposalType string

const (
	ProposalAddMaintainer    ProposalType = "add_maintainer"
	ProposalRemoveMaintainer ProposalType = "remove_maintainer"
	ProposalModifyAccess     ProposalType = "modify_access"
	ProposalChangeSettings   ProposalType = "change_settings"
	ProposalChangeThreshold  ProposalType = "change_threshold"
	ProposalChangeStage      ProposalType = "change_stage"
	ProposalMergeStream      ProposalType = "merge_stream"
)

// ProposalStatus is the lifecycle state of a Proposal.
type ProposalStatus string

const (
	ProposalOpen     ProposalStatus = "open"
	ProposalPassed   ProposalStatus = "passed"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

// Proposal is a council vote on a typed action.
type Proposal struct {
	ID             string         `json:"id"`
	CouncilID      string         `json:"council_id"`
	ProposerID     string         `json:"proposer_id"`
	Title          string         `json:"title"`
	Type           ProposalType   `json:"proposal_type"`
	ActionData     map[string]any `json:"action_data"`
	Status         ProposalStatus `json:"status"`
	Resolution     string         `json:"resolution,omitempty"` // e.g. "tie"
	VotesFor       int            `json:"votes_for"`
	VotesAgainst   int            `json:"votes_against"`
	VotesAbstain   int            `json:"votes_abstain"`
	QuorumRequired int            `json:"quorum_required"`
	ExpiresAtMs    int64          `json:"expires_at_ms"`
	Executed       bool           `json:"executed"`
	ExecutionResult string        `json:"execution_result,omitempty"`
}

// VoteChoice is a council member's vote on a Proposal.
type VoteChoice string

const (
	VoteFor     VoteChoice = "for"
	VoteAgainst VoteChoice = "against"
	VoteAbstain VoteChoice = "abstain"
)

// CouncilVote is a (proposal, agent) unique, updatable vote row.
type CouncilVote struct {
	ProposalID string     `json:"proposal_id"`
	AgentID    string     `json:"agent_id"`
	Vote       VoteChoice `json:"vote"`
	VotedAtMs  int64      `json:"voted_at_ms"`
}

// MergeQueueStatus is the lifecycle state of a MergeQueueEntry.
type MergeQueueStatus string

const (
	MergePending    MergeQueueStatus = "pending"
	MergeProcessing MergeQueueStatus = "processing"
	MergeMerged     MergeQueueStatus = "merged"
	MergeFailed     MergeQueueStatus = "failed"
	MergeCancelled  MergeQueueStatus = "cancelled"
)

// MergeQueueEntry is one FIFO entry in a repository's merge queue.
type MergeQueueEntry struct {
	ID             string           `json:"id"`
	RepoID         string           `json:"repo_id"`
	StreamID       string           `json:"stream_id"`
	RequesterID    string           `json:"requester_id"`
	Status         MergeQueueStatus `json:"status"`
	CouncilAuthorised bool          `json:"council_authorised,omitempty"`
	EnqueuedAtMs   int64            `json:"enqueued_at_ms"`
	Attempts       int              `json:"attempts"`
	LastError      string           `json:"last_error,omitempty"`
	MergeSHA       string           `json:"merge_sha,omitempty"`
}

// ActivityEvent is an append-only record of something that happened.
type ActivityEvent struct {
	ID         string         `json:"id"`
	RepoID     string         `json:"repo_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	EventType  string         `json:"event_type"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Sequence   int64          `json:"sequence"`
	CreatedAtMs int64         `json:"created_at_ms"`
}

// SyncQueueItem is a client-local, FIFO-consumed outbound sync record.
type SyncQueueItem struct {
	LocalID     int64          `json:"local_id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	Attempts    int            `json:"attempts"`
	LastError   string         `json:"last_error,omitempty"`
	EnqueuedAtMs int64         `json:"enqueued_at_ms"`
}
