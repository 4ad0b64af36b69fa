// Package coordinator is the thin layer over the domain packages: its
// public operations load the acting agent, check access where the
// operation is access-gated, perform the domain action, and emit an
// activity event; task claims and submissions also record a sync-queue
// entry. Each store write is its own call; no operation runs inside a
// store transaction. It is the only
// component that knows about both the stream tracker and the governance
// services (consensus, council, stage, karma).
//
// Grounded on dyluth-holt/internal/orchestrator/engine.go's Engine type,
// which plays the identical "owns every subsystem, exposes one method per
// public action" role for the teacher's workflow engine.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/access"
	"github.com/dyluth/gitswarm/internal/consensus"
	"github.com/dyluth/gitswarm/internal/council"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/internal/karma"
	"github.com/dyluth/gitswarm/internal/stage"
	"github.com/dyluth/gitswarm/internal/streamtracker"
	"github.com/dyluth/gitswarm/internal/activity"
	gwsync "github.com/dyluth/gitswarm/internal/sync"
	"github.com/dyluth/gitswarm/internal/taskmarket"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/ids"
	"github.com/dyluth/gitswarm/pkg/store"
)

// Coordinator binds persistence, the git backend, and every domain-logic
// package behind one surface. cmd/gitswarm (embedded, talking straight to
// an sqlite-backed Coordinator) and cmd/gitswarmd (server, talking to a
// postgres-backed Coordinator behind gin handlers) are its only two
// importers.
type Coordinator struct {
	DB    store.Store
	Rows  *SQLStore
	Git   gitbackend.Backend
	NewID streamtracker.NewID
	NowMs streamtracker.NowMs
	Log   zerolog.Logger

	Tracker *streamtracker.Tracker
	Council *council.Council
	Karma   *karma.Limiter
	Queue   *gwsync.Queue
	Auth    *gwsync.Authenticator

	mu      sync.Mutex
	workers map[string]*streamtracker.Worker
}

// New wires a Coordinator against db (already migrated) and an optional
// rdb (nil disables karma rate-limiting and cross-process activity
// fan-out — the embedded single-agent deployment has no need of either).
func New(db store.Store, git gitbackend.Backend, rdb *redis.Client, log zerolog.Logger, newID streamtracker.NewID, nowMs streamtracker.NowMs) *Coordinator {
	rows := &SQLStore{DB: db}
	activityWriter := activity.NewWriter(rdb, log)

	onEvent := func(eventType, targetType, targetID string, meta map[string]any) {
		activityWriter.Append(context.Background(), rows.InsertActivityEvent, domain.ActivityEvent{
			ID:          newID(),
			EventType:   eventType,
			TargetType:  targetType,
			TargetID:    targetID,
			Metadata:    meta,
			CreatedAtMs: nowMs(),
		})
	}

	tracker := &streamtracker.Tracker{Store: rows, Git: git, NewID: newID, NowMs: nowMs, OnEvent: onEvent}
	councilSvc := &council.Council{Store: rows, NewID: newID, NowMs: nowMs, OnEvent: onEvent}

	var limiter *karma.Limiter
	if rdb != nil {
		limiter = karma.NewLimiter(rdb)
	}

	return &Coordinator{
		DB:      db,
		Rows:    rows,
		Git:     git,
		NewID:   newID,
		NowMs:   nowMs,
		Log:     log,
		Tracker: tracker,
		Council: councilSvc,
		Karma:   limiter,
		Queue:   &gwsync.Queue{Store: rows, NowMs: nowMs},
		Auth:    &gwsync.Authenticator{Lookup: rows},
		workers: make(map[string]*streamtracker.Worker),
	}
}

func (c *Coordinator) emit(eventType, targetType, targetID string, meta map[string]any) {
	c.Tracker.OnEvent(eventType, targetType, targetID, meta)
}

// SetContainerRunner wires a ContainerRunner for repositories stabilized
// inside disposable containers (spec.md §4.E). The embedded, single-agent
// CLI deployment never calls this — only gitswarmd, when a stabilize image
// is configured and a docker daemon is reachable.
func (c *Coordinator) SetContainerRunner(r streamtracker.ContainerRunner) {
	c.Tracker.Containers = r
}

// defaultRateLimitMax/Window are applied to every karma-gated action that
// checkRateLimit guards. They are fixed here; ServerConfig's rate-limit
// settings feed gitswarmd's router middleware, not these checks.
const (
	defaultRateLimitMax          = 100
	defaultRateLimitWindowSecs   = 3600
)

// checkRateLimit enforces spec.md §4.J's per-agent, karma-tiered sliding
// window against limitType. A nil Karma (the embedded single-agent
// deployment has no Redis) always allows — rate limiting is a server-side
// concern only.
func (c *Coordinator) checkRateLimit(ctx context.Context, limitType, agentID string, karmaScore int) error {
	if c.Karma == nil {
		return nil
	}
	decision, err := c.Karma.Allow(ctx, limitType, agentID, karmaScore, defaultRateLimitMax, defaultRateLimitWindowSecs*time.Second)
	if err != nil {
		return gwerrors.Unavailable("rate limiter", err)
	}
	if !decision.Allowed {
		retryAfter := int((decision.ResetAtMs - c.NowMs()) / 1000)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return gwerrors.RateLimit(retryAfter)
	}
	return nil
}

// --- agents ------------------------------------------------------------

// RegisterAgent creates a new agent identity and issues its one-time
// plaintext API key (spec.md §4.B). The key is never retrievable again —
// callers must show it to the operator immediately.
func (c *Coordinator) RegisterAgent(ctx context.Context, name, bio string) (domain.Agent, string, error) {
	if name == "" {
		return domain.Agent{}, "", gwerrors.Validation("name", "required")
	}
	plaintext, hash, err := ids.IssueAPIKey()
	if err != nil {
		return domain.Agent{}, "", gwerrors.Internal("issue api key", err)
	}
	a := domain.Agent{
		ID:          c.NewID(),
		Name:        name,
		Bio:         bio,
		KeyHash:     hash,
		Karma:       0,
		Status:      domain.AgentActive,
		CreatedAtMs: c.NowMs(),
	}
	if err := c.Rows.SaveAgent(ctx, a); err != nil {
		return domain.Agent{}, "", err
	}
	if err := c.Rows.SaveAgentKeyPrefix(ctx, a.ID, plaintext[:8]); err != nil {
		return domain.Agent{}, "", err
	}
	c.emit("agent_registered", "agent", a.ID, map[string]any{"name": name})
	return a, plaintext, nil
}

func (c *Coordinator) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return c.Rows.GetAgent(ctx, id)
}

func (c *Coordinator) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	return c.Rows.ListAgents(ctx)
}

// Touch records an agent's most recent activity timestamp
// (Agent.LastSeenAtMs).
func (c *Coordinator) Touch(ctx context.Context, agentID string) error {
	a, err := c.Rows.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	a.LastSeenAtMs = c.NowMs()
	return c.Rows.SaveAgent(ctx, a)
}

// --- repositories --------------------------------------------------------

// CreateRepositoryRequest is the input to CreateRepository.
type CreateRepositoryRequest struct {
	Name               string
	Description        string
	OwnerAgentID       string
	OwnershipModel     domain.OwnershipModel
	MergeMode          domain.MergeMode
	AgentAccess        domain.AgentAccessPolicy
	MinKarma           int
	ConsensusThreshold float64
	MinReviews         int
	HumanReviewWeight  float64
	BufferBranch       string
	PromoteTarget      string
	StabilizeCommand   string
	StabilizeTimeoutS  int
	AutoRevertOnRed    bool
}

// CreateRepository registers a new governed repository and its owner
// maintainer row.
func (c *Coordinator) CreateRepository(ctx context.Context, req CreateRepositoryRequest) (domain.Repository, error) {
	if req.Name == "" || req.OwnerAgentID == "" {
		return domain.Repository{}, gwerrors.Validation("name/owner_agent_id", "required")
	}
	r := domain.Repository{
		ID:                 c.NewID(),
		Name:               req.Name,
		Description:        req.Description,
		Stage:              domain.StageSeed,
		OwnershipModel:     req.OwnershipModel,
		MergeMode:          req.MergeMode,
		AgentAccess:        req.AgentAccess,
		MinKarma:           req.MinKarma,
		ConsensusThreshold: req.ConsensusThreshold,
		MinReviews:         req.MinReviews,
		HumanReviewWeight:  req.HumanReviewWeight,
		BufferBranch:       req.BufferBranch,
		PromoteTarget:      req.PromoteTarget,
		StabilizeCommand:   req.StabilizeCommand,
		StabilizeTimeoutS:  req.StabilizeTimeoutS,
		AutoRevertOnRed:    req.AutoRevertOnRed,
		ConsensusAuthority: domain.AuthorityLocal,
		CreatedAtMs:        c.NowMs(),
	}
	if _, err := c.DB.Exec(ctx, `INSERT INTO repositories (id, name, description, stage, ownership_model,
		merge_mode, agent_access, min_karma, consensus_threshold, min_reviews, human_review_weight,
		buffer_branch, promote_target, stabilize_command, stabilize_timeout_seconds, auto_revert_on_red, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.Stage, r.OwnershipModel, r.MergeMode, r.AgentAccess, r.MinKarma,
		r.ConsensusThreshold, r.MinReviews, r.HumanReviewWeight, r.BufferBranch, r.PromoteTarget,
		r.StabilizeCommand, r.StabilizeTimeoutS, r.AutoRevertOnRed, r.CreatedAtMs); err != nil {
		return domain.Repository{}, gwerrors.Unavailable("store", err)
	}
	if err := c.Rows.SaveMaintainer(ctx, domain.Maintainer{RepoID: r.ID, AgentID: req.OwnerAgentID, Role: domain.RoleOwner}); err != nil {
		return domain.Repository{}, err
	}
	c.emit("repository_created", "repository", r.ID, map[string]any{"name": r.Name, "owner_agent_id": req.OwnerAgentID})
	return r, nil
}

func (c *Coordinator) GetRepository(ctx context.Context, id string) (domain.Repository, error) {
	return c.Rows.GetRepository(ctx, id)
}

// ListRepositories returns every governed repository, used by the server's
// listing endpoint and by the scheduler to find sweep targets.
func (c *Coordinator) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	return c.Rows.ListRepositories(ctx)
}

// resolveAccess loads the agent/repository/maintainer/grant state needed
// to answer "can this agent do this" and returns the resolved level.
func (c *Coordinator) resolveAccess(ctx context.Context, agentID, repoID string) (domain.Agent, domain.Repository, access.Resolution, error) {
	agent, err := c.Rows.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, domain.Repository{}, access.Resolution{}, err
	}
	repo, err := c.Rows.GetRepository(ctx, repoID)
	if err != nil {
		return domain.Agent{}, domain.Repository{}, access.Resolution{}, err
	}
	maintainers, err := c.Rows.MaintainersForRepo(ctx, repoID)
	if err != nil {
		return domain.Agent{}, domain.Repository{}, access.Resolution{}, err
	}
	var maintainer *domain.Maintainer
	for i := range maintainers {
		if maintainers[i].AgentID == agentID {
			maintainer = &maintainers[i]
			break
		}
	}
	resolution := access.ResolvePermissions(agent, repo, maintainer, nil, c.NowMs())
	return agent, repo, resolution, nil
}

// Worker returns (creating if needed) the single merge-queue worker for
// repoID and starts it draining under ctx. Safe to call repeatedly; a
// second call for an already-started repo is a no-op.
func (c *Coordinator) Worker(ctx context.Context, repo domain.Repository, repoPath string) *streamtracker.Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[repo.ID]; ok {
		return w
	}
	checker := func(ctx context.Context, stream domain.Stream) (consensus.Result, error) {
		return c.CheckConsensus(ctx, stream)
	}
	w := streamtracker.NewWorker(repo.ID, repoPath, repo.BufferBranch, c.Rows, c.Git, checker, c.NowMs, c.Tracker.OnEvent)
	c.workers[repo.ID] = w
	go w.Run(ctx)
	return w
}

// DrainMergeQueue synchronously processes every entry currently queued for
// repo without starting a background worker goroutine — the CLI's one-shot
// equivalent of the persistent Worker gitswarmd runs per repository.
func (c *Coordinator) DrainMergeQueue(ctx context.Context, repo domain.Repository, repoPath string) {
	checker := func(ctx context.Context, stream domain.Stream) (consensus.Result, error) {
		return c.CheckConsensus(ctx, stream)
	}
	w := streamtracker.NewWorker(repo.ID, repoPath, repo.BufferBranch, c.Rows, c.Git, checker, c.NowMs, c.Tracker.OnEvent)
	w.DrainOnce(ctx)
}

// --- streams / workspaces -------------------------------------------------

// CreateWorkspace resolves access, then delegates to streamtracker.
func (c *Coordinator) CreateWorkspace(ctx context.Context, repoPath, worktreePath, agentID string, req streamtracker.CreateStreamRequest) (domain.Stream, error) {
	agent, _, res, err := c.resolveAccess(ctx, agentID, req.RepoID)
	if err != nil {
		return domain.Stream{}, err
	}
	if allowed, required := access.CanPerform(res.Level, access.ActionWrite); !allowed {
		return domain.Stream{}, gwerrors.Permission("create_workspace", string(required))
	}
	if err := c.checkRateLimit(ctx, "create_workspace", agentID, agent.Karma); err != nil {
		return domain.Stream{}, err
	}
	req.AgentID = agentID
	return c.Tracker.CreateWorkspace(ctx, repoPath, worktreePath, req)
}

func (c *Coordinator) DestroyWorkspace(ctx context.Context, repoPath, worktreePath string, stream domain.Stream, abandon bool) error {
	return c.Tracker.DestroyWorkspace(ctx, repoPath, worktreePath, stream, abandon)
}

func (c *Coordinator) Commit(ctx context.Context, worktreePath string, stream domain.Stream, message string) (domain.Stream, string, error) {
	return c.Tracker.Commit(ctx, worktreePath, stream, message)
}

// SubmitReview records reviewerID's verdict on streamID.
func (c *Coordinator) SubmitReview(ctx context.Context, reviewerID, streamID string, verdict domain.ReviewVerdict, feedback string, tested, isHuman bool) (domain.Review, error) {
	stream, err := c.Rows.GetStream(ctx, streamID)
	if err != nil {
		return domain.Review{}, err
	}
	_, _, res, err := c.resolveAccess(ctx, reviewerID, stream.RepoID)
	if err != nil {
		return domain.Review{}, err
	}
	if allowed, required := access.CanPerform(res.Level, access.ActionRead); !allowed {
		return domain.Review{}, gwerrors.Permission("submit_review", string(required))
	}
	maintainers, err := c.Rows.MaintainersForRepo(ctx, stream.RepoID)
	if err != nil {
		return domain.Review{}, err
	}
	isMaintainer := false
	for _, m := range maintainers {
		if m.AgentID == reviewerID {
			isMaintainer = true
			break
		}
	}
	// spec.md §4.J awards karma once per (reviewer, stream): find out
	// whether this reviewer already reached a non-comment verdict on this
	// stream before the upsert below overwrites their row.
	priorReviews, err := c.Rows.ReviewsForStream(ctx, streamID)
	if err != nil {
		return domain.Review{}, err
	}
	alreadyAwarded := false
	for _, pr := range priorReviews {
		if pr.ReviewerID == reviewerID && (pr.Verdict == domain.VerdictApprove || pr.Verdict == domain.VerdictRequestChanges) {
			alreadyAwarded = true
			break
		}
	}

	r := domain.Review{
		StreamID: streamID, ReviewerID: reviewerID, Verdict: verdict, Feedback: feedback,
		Tested: tested, IsHuman: isHuman, IsMaintainer: isMaintainer, ReviewedAtMs: c.NowMs(),
	}
	if _, err := c.DB.Exec(ctx, `INSERT INTO reviews (stream_id, reviewer_id, verdict, feedback, tested,
		is_human, is_maintainer, reviewed_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stream_id, reviewer_id) DO UPDATE SET verdict = excluded.verdict,
		feedback = excluded.feedback, tested = excluded.tested, reviewed_at_ms = excluded.reviewed_at_ms`,
		r.StreamID, r.ReviewerID, r.Verdict, r.Feedback, r.Tested, r.IsHuman, r.IsMaintainer, r.ReviewedAtMs); err != nil {
		return domain.Review{}, gwerrors.Unavailable("store", err)
	}

	// spec.md §4.J: +5 on any non-comment verdict, approve or
	// request_changes, human or agent, the first time this reviewer
	// reaches one on this stream.
	if (verdict == domain.VerdictApprove || verdict == domain.VerdictRequestChanges) && !alreadyAwarded {
		agent, err := c.Rows.GetAgent(ctx, reviewerID)
		if err == nil {
			agent.Karma += karma.AwardReview
			_ = c.Rows.SaveAgent(ctx, agent)
		}
	}

	newStatus, err := c.recomputeReviewStatus(ctx, stream)
	if err != nil {
		return domain.Review{}, err
	}
	stream.ReviewStatus = newStatus
	stream.UpdatedAtMs = c.NowMs()
	if err := c.Rows.SaveStream(ctx, stream); err != nil {
		return domain.Review{}, err
	}

	c.emit("review_submitted", "stream", streamID, map[string]any{"reviewer_id": reviewerID, "verdict": string(verdict)})
	return r, nil
}

// recomputeReviewStatus derives stream's aggregate Stream.ReviewStatus
// (spec.md §3 Stream invariants) from its current reviews: an outstanding
// request_changes verdict always wins, otherwise the status tracks whether
// consensus has been reached yet.
func (c *Coordinator) recomputeReviewStatus(ctx context.Context, stream domain.Stream) (domain.ReviewStatus, error) {
	reviews, err := c.Rows.ReviewsForStream(ctx, stream.ID)
	if err != nil {
		return "", err
	}
	for _, rv := range reviews {
		if rv.Verdict == domain.VerdictRequestChanges {
			return domain.ReviewChangesRequested, nil
		}
	}
	result, err := c.CheckConsensus(ctx, stream)
	if err != nil {
		return "", err
	}
	if result.Reached {
		return domain.ReviewApproved, nil
	}
	return domain.ReviewInReview, nil
}

// CheckConsensus loads the full review/maintainer context for stream and
// evaluates it against its repository's ownership model.
func (c *Coordinator) CheckConsensus(ctx context.Context, stream domain.Stream) (consensus.Result, error) {
	repo, err := c.Rows.GetRepository(ctx, stream.RepoID)
	if err != nil {
		return consensus.Result{}, err
	}
	reviews, err := c.Rows.ReviewsForStream(ctx, stream.ID)
	if err != nil {
		return consensus.Result{}, err
	}
	maintainerRows, err := c.Rows.MaintainersForRepo(ctx, stream.RepoID)
	if err != nil {
		return consensus.Result{}, err
	}
	maintainers := make([]consensus.Maintainer, len(maintainerRows))
	for i, m := range maintainerRows {
		maintainers[i] = consensus.Maintainer{AgentID: m.AgentID, Role: m.Role}
	}
	reviewers := make(map[string]consensus.Reviewer, len(reviews))
	isMaintainer := make(map[string]bool, len(maintainerRows))
	for _, m := range maintainerRows {
		isMaintainer[m.AgentID] = true
	}
	for _, r := range reviews {
		if _, ok := reviewers[r.ReviewerID]; ok {
			continue
		}
		agent, err := c.Rows.GetAgent(ctx, r.ReviewerID)
		if err != nil {
			continue
		}
		reviewers[r.ReviewerID] = consensus.Reviewer{AgentID: agent.ID, Karma: agent.Karma, IsMaintainer: isMaintainer[agent.ID]}
	}
	return consensus.CheckConsensus(reviews, repo, maintainers, reviewers), nil
}

// RequestMerge enqueues stream for its repository's merge queue and wakes
// the draining worker (which must already have been started via Worker).
func (c *Coordinator) RequestMerge(ctx context.Context, stream domain.Stream, requesterID string) (domain.MergeQueueEntry, error) {
	result, err := c.CheckConsensus(ctx, stream)
	if err != nil {
		return domain.MergeQueueEntry{}, err
	}
	var parent *domain.Stream
	if stream.ParentStreamID != "" {
		p, err := c.Rows.GetStream(ctx, stream.ParentStreamID)
		if err != nil {
			return domain.MergeQueueEntry{}, err
		}
		parent = &p
	}
	repo, err := c.Rows.GetRepository(ctx, stream.RepoID)
	if err != nil {
		return domain.MergeQueueEntry{}, err
	}
	ancestorChangesRequested, err := c.ancestorChangesRequested(ctx, stream)
	if err != nil {
		return domain.MergeQueueEntry{}, err
	}
	elig := streamtracker.CheckMergeEligibility(stream, repo, result, parent, ancestorChangesRequested)
	if !elig.Eligible {
		return domain.MergeQueueEntry{}, gwerrors.Consensus(elig.Reason)
	}
	entry, err := c.Tracker.RequestMerge(ctx, stream, requesterID)
	if err != nil {
		return domain.MergeQueueEntry{}, err
	}
	c.mu.Lock()
	w := c.workers[stream.RepoID]
	c.mu.Unlock()
	if w != nil {
		w.Wake()
	}
	return entry, nil
}

// ancestorChangesRequested walks stream's ParentStreamID chain and reports
// whether any ancestor in the same agent's stack is currently in
// changes_requested — spec.md §4.E forbids merging a stream while an
// earlier stream it was forked from still has unresolved feedback.
func (c *Coordinator) ancestorChangesRequested(ctx context.Context, stream domain.Stream) (bool, error) {
	for stream.ParentStreamID != "" {
		parent, err := c.Rows.GetStream(ctx, stream.ParentStreamID)
		if err != nil {
			return false, err
		}
		if parent.ReviewStatus == domain.ReviewChangesRequested {
			return true, nil
		}
		stream = parent
	}
	return false, nil
}

// Stabilize runs repo's stabilize command and, on a red result with
// repo.AutoRevertOnRed set, follows spec.md §4.E's scenario S5: reverts the
// most recently merged stream (looked up from the merge queue's history)
// and marks it reverted. A lookup or revert failure is logged but never
// fails the call — the stabilization result itself is still authoritative
// and the operator can revert by hand.
func (c *Coordinator) Stabilize(ctx context.Context, worktreePath string, repo domain.Repository) (streamtracker.StabilizeResult, error) {
	result, err := c.Tracker.Stabilize(ctx, worktreePath, repo)
	if err != nil || result.Success || !repo.AutoRevertOnRed {
		return result, err
	}
	entry, err := c.Rows.LastMergedEntry(ctx, repo.ID)
	if err != nil {
		c.Log.Error().Err(err).Msg("coordinator: failed to look up last merged entry for auto-revert")
		return result, nil
	}
	if entry == nil || entry.MergeSHA == "" {
		return result, nil
	}
	stream, err := c.Rows.GetStream(ctx, entry.StreamID)
	if err != nil {
		c.Log.Error().Err(err).Msg("coordinator: failed to load stream for auto-revert")
		return result, nil
	}
	if err := c.Tracker.RevertLastMerge(ctx, worktreePath, stream, entry.MergeSHA); err != nil {
		c.Log.Error().Err(err).Msg("coordinator: auto-revert-on-red failed")
		return result, nil
	}
	result.Reverted = true
	result.RevertedStreamID = stream.ID
	return result, nil
}

func (c *Coordinator) Promote(ctx context.Context, repoPath string, repo domain.Repository) (string, error) {
	return c.Tracker.Promote(ctx, repoPath, repo)
}

// --- task market -----------------------------------------------------------

func (c *Coordinator) CreateTask(ctx context.Context, creatorID, repoID, title, description string, priority domain.TaskPriority, amount int) (domain.Task, error) {
	_, _, res, err := c.resolveAccess(ctx, creatorID, repoID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err := taskmarket.CreateTask(res.Level, repoID, title, description, priority, amount, creatorID)
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = c.NewID()
	t.CreatedAtMs = c.NowMs()
	if err := c.Rows.SaveTask(ctx, t); err != nil {
		return domain.Task{}, err
	}
	c.emit("task_created", "task", t.ID, map[string]any{"repo_id": repoID, "amount": amount})
	return t, nil
}

func (c *Coordinator) ClaimTask(ctx context.Context, agentID, taskID string) (domain.Claim, error) {
	agent, err := c.Rows.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Claim{}, err
	}
	if err := c.checkRateLimit(ctx, "claim_task", agentID, agent.Karma); err != nil {
		return domain.Claim{}, err
	}
	task, err := c.Rows.GetTask(ctx, taskID)
	if err != nil {
		return domain.Claim{}, err
	}
	existing, err := c.Rows.ClaimsForTask(ctx, taskID)
	if err != nil {
		return domain.Claim{}, err
	}
	claim, err := taskmarket.Claim(task, agentID, existing)
	if err != nil {
		return domain.Claim{}, err
	}
	claim.ID = c.NewID()
	claim.ClaimedAtMs = c.NowMs()
	if err := c.Rows.SaveClaim(ctx, claim); err != nil {
		return domain.Claim{}, err
	}
	task.Status = domain.TaskClaimed
	if err := c.Rows.SaveTask(ctx, task); err != nil {
		return domain.Claim{}, err
	}
	if _, err := c.Queue.Record(ctx, gwsync.EventTaskClaim, map[string]any{"task_id": taskID, "claim_id": claim.ID}); err != nil {
		c.Log.Error().Err(err).Msg("coordinator: failed to record task claim sync event")
	}
	c.emit("task_claimed", "task", taskID, map[string]any{"agent_id": agentID, "claim_id": claim.ID})
	return claim, nil
}

func (c *Coordinator) SubmitClaim(ctx context.Context, claimID, notes string) (domain.Claim, error) {
	claim, err := c.Rows.GetClaim(ctx, claimID)
	if err != nil {
		return domain.Claim{}, err
	}
	claim, taskStatus, err := taskmarket.Submit(claim, notes)
	if err != nil {
		return domain.Claim{}, err
	}
	claim.SubmittedAtMs = c.NowMs()
	if err := c.Rows.SaveClaim(ctx, claim); err != nil {
		return domain.Claim{}, err
	}
	task, err := c.Rows.GetTask(ctx, claim.TaskID)
	if err != nil {
		return domain.Claim{}, err
	}
	task.Status = taskStatus
	if err := c.Rows.SaveTask(ctx, task); err != nil {
		return domain.Claim{}, err
	}
	if _, err := c.Queue.Record(ctx, gwsync.EventTaskSubmission, map[string]any{"claim_id": claim.ID}); err != nil {
		c.Log.Error().Err(err).Msg("coordinator: failed to record task submission sync event")
	}
	c.emit("task_submitted", "task", claim.TaskID, map[string]any{"claim_id": claim.ID})
	return claim, nil
}

func (c *Coordinator) ReviewClaim(ctx context.Context, reviewerID, claimID string, decision taskmarket.ReviewDecision) (domain.Claim, error) {
	claim, err := c.Rows.GetClaim(ctx, claimID)
	if err != nil {
		return domain.Claim{}, err
	}
	task, err := c.Rows.GetTask(ctx, claim.TaskID)
	if err != nil {
		return domain.Claim{}, err
	}
	_, _, res, err := c.resolveAccess(ctx, reviewerID, task.RepoID)
	if err != nil {
		return domain.Claim{}, err
	}
	claim, taskStatus, karmaAward, err := taskmarket.Review(res.Level, reviewerID, task, claim, decision)
	if err != nil {
		return domain.Claim{}, err
	}
	claim.ReviewedAtMs = c.NowMs()
	if err := c.Rows.SaveClaim(ctx, claim); err != nil {
		return domain.Claim{}, err
	}
	task.Status = taskStatus
	if err := c.Rows.SaveTask(ctx, task); err != nil {
		return domain.Claim{}, err
	}
	if karmaAward > 0 {
		agent, err := c.Rows.GetAgent(ctx, claim.AgentID)
		if err == nil {
			agent.Karma += karmaAward
			_ = c.Rows.SaveAgent(ctx, agent)
		}
	}
	c.emit("task_reviewed", "task", task.ID, map[string]any{"claim_id": claim.ID, "decision": string(decision), "karma_awarded": karmaAward})
	return claim, nil
}

// --- council -----------------------------------------------------------

func (c *Coordinator) CreateCouncil(ctx context.Context, repoID string, maxMembers, minMembers, standardQuorum, criticalQuorum, termLengthDays int) (domain.Council, error) {
	return c.Council.CreateCouncil(ctx, repoID, maxMembers, minMembers, standardQuorum, criticalQuorum, termLengthDays)
}

func (c *Coordinator) AddCouncilMember(ctx context.Context, councilID, agentID string, role domain.CouncilMemberRole, termExpiresAtMs int64) (domain.Council, error) {
	return c.Council.AddMember(ctx, councilID, agentID, role, termExpiresAtMs)
}

func (c *Coordinator) ProposeCouncilAction(ctx context.Context, councilID, proposerID, title string, ptype domain.ProposalType, actionData map[string]any, expiresAtMs int64) (domain.Proposal, error) {
	return c.Council.CreateProposal(ctx, councilID, proposerID, title, ptype, actionData, expiresAtMs)
}

func (c *Coordinator) VoteOnProposal(ctx context.Context, proposalID, agentID string, choice domain.VoteChoice) (domain.Proposal, bool, error) {
	return c.Council.Vote(ctx, proposalID, agentID, choice)
}

// SweepExpiredProposals is invoked by cmd/gitswarmd's scheduled cron job
// (spec.md §5.M) to expire any proposal that outlived its deadline without
// reaching quorum.
func (c *Coordinator) SweepExpiredProposals(ctx context.Context, repoID string) (int, error) {
	council, err := c.Rows.CouncilForRepo(ctx, repoID)
	if err != nil {
		return 0, err
	}
	if council == nil {
		return 0, nil
	}
	open, err := c.Rows.OpenProposals(ctx, council.ID)
	if err != nil {
		return 0, err
	}
	expired := 0
	now := c.NowMs()
	for _, p := range open {
		updated, err := c.Council.ExpireStale(ctx, p, now)
		if err != nil {
			return expired, err
		}
		if updated.Status == domain.ProposalExpired {
			expired++
		}
	}
	return expired, nil
}

// --- stage ---------------------------------------------------------------

func (c *Coordinator) CheckStageEligibility(ctx context.Context, repoID string, hasCouncil bool, mergedStreams int) (stage.Eligibility, error) {
	repo, err := c.Rows.GetRepository(ctx, repoID)
	if err != nil {
		return stage.Eligibility{}, err
	}
	maintainers, err := c.Rows.MaintainersForRepo(ctx, repoID)
	if err != nil {
		return stage.Eligibility{}, err
	}
	return stage.CheckAdvancementEligibility(repo.Stage, stage.Metrics{
		Contributors:  repo.ContributorCount,
		MergedStreams: mergedStreams,
		Maintainers:   len(maintainers),
		HasCouncil:    hasCouncil,
	}), nil
}

func (c *Coordinator) AdvanceStage(ctx context.Context, repoID string, force bool, m stage.Metrics) (domain.Repository, bool, error) {
	repo, err := c.Rows.GetRepository(ctx, repoID)
	if err != nil {
		return domain.Repository{}, false, err
	}
	next, advanced := stage.AdvanceStage(repo.Stage, force, m)
	if !advanced {
		return repo, false, nil
	}
	from := repo.Stage
	repo.Stage = next
	if err := c.Rows.SaveRepository(ctx, repo); err != nil {
		return domain.Repository{}, false, err
	}
	if _, err := c.DB.Exec(ctx, `INSERT INTO stage_history (id, repo_id, from_stage, to_stage, forced, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`, c.NewID(), repoID, from, next, force, c.NowMs()); err != nil {
		c.Log.Error().Err(err).Msg("coordinator: failed to record stage history")
	}
	c.emit("stage_advanced", "repository", repoID, map[string]any{"from": string(from), "to": string(next), "forced": force})
	return repo, true, nil
}

// --- activity --------------------------------------------------------------

func (c *Coordinator) RecentActivity(ctx context.Context, repoID string, limit int) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return c.Rows.ActivityLog(ctx, repoID, limit)
}

