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
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/dyluth/gitswarm/internal/council"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/internal/streamtracker"
	gwsync "github.com/dyluth/gitswarm/internal/sync"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/store"
)

// SQLStore implements every narrow persistence seam the domain-logic
// packages declare (streamtracker.Store, council.Store, sync.QueueStore /
// CursorStore / DeltaSource) against a single pkg/store.Store connection,
// so the Coordinator can hand the same backing store to each subsystem
// without those subsystems importing pkg/store or database/sql
// themselves.
type SQLStore struct {
	DB store.Store
}

var (
	_ streamtracker.Store = (*SQLStore)(nil)
	_ council.Store       = (*SQLStore)(nil)
	_ gwsync.QueueStore   = (*SQLStore)(nil)
	_ gwsync.CursorStore  = (*SQLStore)(nil)
	_ gwsync.DeltaSource  = (*SQLStore)(nil)
)

func marshal(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshal(s string) map[string]any {
	if s == "" {
		return nil
	}
	var v map[string]any
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

// --- streamtracker.Store -------------------------------------------------

func (s *SQLStore) GetStream(ctx context.Context, id string) (domain.Stream, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, repo_id, agent_id, name, branch_ref, base_branch,
		COALESCE(parent_stream_id,''), COALESCE(task_id,''), status, review_status, created_at_ms, updated_at_ms
		FROM streams WHERE id = ?`, id)
	var st domain.Stream
	if err := row.Scan(&st.ID, &st.RepoID, &st.AgentID, &st.Name, &st.BranchRef, &st.BaseBranch,
		&st.ParentStreamID, &st.TaskID, &st.Status, &st.ReviewStatus, &st.CreatedAtMs, &st.UpdatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stream{}, gwerrors.NotFound("stream", id)
		}
		return domain.Stream{}, gwerrors.Unavailable("store", err)
	}
	return st, nil
}

func (s *SQLStore) SaveStream(ctx context.Context, st domain.Stream) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO streams (id, repo_id, agent_id, name, branch_ref, base_branch,
		parent_stream_id, task_id, status, review_status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, review_status = excluded.review_status,
		updated_at_ms = excluded.updated_at_ms`,
		st.ID, st.RepoID, st.AgentID, st.Name, st.BranchRef, st.BaseBranch,
		nullable(st.ParentStreamID), nullable(st.TaskID), st.Status, st.ReviewStatus, st.CreatedAtMs, st.UpdatedAtMs)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLStore) ActiveStreamForAgent(ctx context.Context, repoID, agentID string) (*domain.Stream, error) {
	row := s.DB.QueryRow(ctx, `SELECT id FROM streams
		WHERE repo_id = ? AND agent_id = ? AND status = 'active' LIMIT 1`, repoID, agentID)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, gwerrors.Unavailable("store", err)
	}
	st, err := s.GetStream(ctx, id)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLStore) ReviewsForStream(ctx context.Context, streamID string) ([]domain.Review, error) {
	rows, err := s.DB.Query(ctx, `SELECT stream_id, reviewer_id, verdict, feedback, tested, is_human, is_maintainer, reviewed_at_ms
		FROM reviews WHERE stream_id = ?`, streamID)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Review
	for rows.Next() {
		var r domain.Review
		if err := rows.Scan(&r.StreamID, &r.ReviewerID, &r.Verdict, &r.Feedback, &r.Tested, &r.IsHuman, &r.IsMaintainer, &r.ReviewedAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) EnqueueMerge(ctx context.Context, e domain.MergeQueueEntry) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO merge_queue (id, repo_id, stream_id, requester_id, status,
		council_authorised, enqueued_at_ms, attempts, last_error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RepoID, e.StreamID, e.RequesterID, e.Status, e.CouncilAuthorised, e.EnqueuedAtMs, e.Attempts, e.LastError)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) HasPendingMerge(ctx context.Context, repoID, streamID string) (bool, error) {
	row := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM merge_queue
		WHERE repo_id = ? AND stream_id = ? AND status IN ('pending', 'processing')`, repoID, streamID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, gwerrors.Unavailable("store", err)
	}
	return n > 0, nil
}

func (s *SQLStore) DequeueMerge(ctx context.Context, repoID string) (*domain.MergeQueueEntry, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, repo_id, stream_id, requester_id, status, council_authorised,
		enqueued_at_ms, attempts, last_error FROM merge_queue
		WHERE repo_id = ? AND status = 'pending' ORDER BY enqueued_at_ms ASC LIMIT 1`, repoID)
	var e domain.MergeQueueEntry
	if err := row.Scan(&e.ID, &e.RepoID, &e.StreamID, &e.RequesterID, &e.Status, &e.CouncilAuthorised,
		&e.EnqueuedAtMs, &e.Attempts, &e.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, gwerrors.Unavailable("store", err)
	}
	return &e, nil
}

func (s *SQLStore) SaveMergeEntry(ctx context.Context, e domain.MergeQueueEntry) error {
	_, err := s.DB.Exec(ctx, `UPDATE merge_queue SET status = ?, council_authorised = ?, attempts = ?,
		last_error = ?, merge_sha = ? WHERE id = ?`, e.Status, e.CouncilAuthorised, e.Attempts, e.LastError, e.MergeSHA, e.ID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// LastMergedEntry returns the most recently merged queue entry for repoID,
// the revert target spec.md §4.E's auto_revert_on_red path reverts when
// stabilization goes red.
func (s *SQLStore) LastMergedEntry(ctx context.Context, repoID string) (*domain.MergeQueueEntry, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, repo_id, stream_id, requester_id, status, council_authorised,
		enqueued_at_ms, attempts, last_error, merge_sha FROM merge_queue
		WHERE repo_id = ? AND status = 'merged' ORDER BY enqueued_at_ms DESC LIMIT 1`, repoID)
	var e domain.MergeQueueEntry
	if err := row.Scan(&e.ID, &e.RepoID, &e.StreamID, &e.RequesterID, &e.Status, &e.CouncilAuthorised,
		&e.EnqueuedAtMs, &e.Attempts, &e.LastError, &e.MergeSHA); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, gwerrors.Unavailable("store", err)
	}
	return &e, nil
}

func (s *SQLStore) IncrementRepoCounters(ctx context.Context, repoID string, contributors, patches int) error {
	_, err := s.DB.Exec(ctx, `UPDATE repositories SET contributor_count = contributor_count + ?,
		patch_count = patch_count + ? WHERE id = ?`, contributors, patches, repoID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// MergedStreamCountForAgent reports how many streams agentID has already
// merged into repoID, used to recognise first-time contributors for
// spec.md §4.I's contributor-count stage metric.
func (s *SQLStore) MergedStreamCountForAgent(ctx context.Context, repoID, agentID string) (int, error) {
	row := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM streams
		WHERE repo_id = ? AND agent_id = ? AND status = 'merged'`, repoID, agentID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, gwerrors.Unavailable("store", err)
	}
	return n, nil
}

// --- council.Store --------------------------------------------------------

func (s *SQLStore) GetCouncil(ctx context.Context, id string) (domain.Council, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, repo_id, max_members, min_members, standard_quorum,
		critical_quorum, term_length_days, status FROM councils WHERE id = ?`, id)
	var c domain.Council
	if err := row.Scan(&c.ID, &c.RepoID, &c.MaxMembers, &c.MinMembers, &c.StandardQuorum,
		&c.CriticalQuorum, &c.TermLengthDays, &c.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Council{}, gwerrors.NotFound("council", id)
		}
		return domain.Council{}, gwerrors.Unavailable("store", err)
	}
	return c, nil
}

func (s *SQLStore) SaveCouncil(ctx context.Context, c domain.Council) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO councils (id, repo_id, max_members, min_members, standard_quorum,
		critical_quorum, term_length_days, status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status`,
		c.ID, c.RepoID, c.MaxMembers, c.MinMembers, c.StandardQuorum, c.CriticalQuorum, c.TermLengthDays, c.Status)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) MembershipCount(ctx context.Context, councilID string) (int, error) {
	row := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM council_members WHERE council_id = ?`, councilID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, gwerrors.Unavailable("store", err)
	}
	return n, nil
}

func (s *SQLStore) GetMembership(ctx context.Context, councilID, agentID string) (*domain.CouncilMembership, error) {
	row := s.DB.QueryRow(ctx, `SELECT council_id, agent_id, role, COALESCE(term_expires_at_ms, 0)
		FROM council_members WHERE council_id = ? AND agent_id = ?`, councilID, agentID)
	var m domain.CouncilMembership
	if err := row.Scan(&m.CouncilID, &m.AgentID, &m.Role, &m.TermExpiresAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, gwerrors.Unavailable("store", err)
	}
	return &m, nil
}

func (s *SQLStore) SaveMembership(ctx context.Context, m domain.CouncilMembership) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO council_members (council_id, agent_id, role, term_expires_at_ms)
		VALUES (?, ?, ?, ?) ON CONFLICT (council_id, agent_id) DO UPDATE SET role = excluded.role`,
		m.CouncilID, m.AgentID, m.Role, m.TermExpiresAtMs)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) GetProposal(ctx context.Context, id string) (domain.Proposal, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, council_id, proposer_id, title, proposal_type, action_data,
		status, resolution, votes_for, votes_against, votes_abstain, quorum_required, expires_at_ms,
		executed, execution_result FROM proposals WHERE id = ?`, id)
	var p domain.Proposal
	var actionData string
	if err := row.Scan(&p.ID, &p.CouncilID, &p.ProposerID, &p.Title, &p.Type, &actionData, &p.Status,
		&p.Resolution, &p.VotesFor, &p.VotesAgainst, &p.VotesAbstain, &p.QuorumRequired, &p.ExpiresAtMs,
		&p.Executed, &p.ExecutionResult); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Proposal{}, gwerrors.NotFound("proposal", id)
		}
		return domain.Proposal{}, gwerrors.Unavailable("store", err)
	}
	p.ActionData = unmarshal(actionData)
	return p, nil
}

func (s *SQLStore) SaveProposal(ctx context.Context, p domain.Proposal) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO proposals (id, council_id, proposer_id, title, proposal_type,
		action_data, status, resolution, votes_for, votes_against, votes_abstain, quorum_required,
		expires_at_ms, executed, execution_result) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, resolution = excluded.resolution,
		votes_for = excluded.votes_for, votes_against = excluded.votes_against,
		votes_abstain = excluded.votes_abstain, executed = excluded.executed,
		execution_result = excluded.execution_result`,
		p.ID, p.CouncilID, p.ProposerID, p.Title, p.Type, marshal(p.ActionData), p.Status, p.Resolution,
		p.VotesFor, p.VotesAgainst, p.VotesAbstain, p.QuorumRequired, p.ExpiresAtMs, p.Executed, p.ExecutionResult)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) GetVote(ctx context.Context, proposalID, agentID string) (*domain.CouncilVote, error) {
	row := s.DB.QueryRow(ctx, `SELECT proposal_id, agent_id, vote, voted_at_ms FROM council_votes
		WHERE proposal_id = ? AND agent_id = ?`, proposalID, agentID)
	var v domain.CouncilVote
	if err := row.Scan(&v.ProposalID, &v.AgentID, &v.Vote, &v.VotedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, gwerrors.Unavailable("store", err)
	}
	return &v, nil
}

func (s *SQLStore) SaveVote(ctx context.Context, v domain.CouncilVote) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO council_votes (proposal_id, agent_id, vote, voted_at_ms)
		VALUES (?, ?, ?, ?) ON CONFLICT (proposal_id, agent_id) DO UPDATE SET vote = excluded.vote,
		voted_at_ms = excluded.voted_at_ms`, v.ProposalID, v.AgentID, v.Vote, v.VotedAtMs)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// ListRepositories returns every governed repository, newest first. Used by
// the server's `GET /repos` listing and by the scheduler's per-repo sweeps.
func (s *SQLStore) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, description, stage, ownership_model, merge_mode,
		agent_access, min_karma, consensus_threshold, min_reviews, human_review_weight, buffer_branch,
		promote_target, stabilize_command, stabilize_timeout_seconds, stabilize_in_container,
		auto_promote_on_green, auto_revert_on_red, consensus_authority, contributor_count, patch_count,
		created_at_ms FROM repositories ORDER BY created_at_ms DESC`)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Repository
	for rows.Next() {
		var r domain.Repository
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Stage, &r.OwnershipModel, &r.MergeMode,
			&r.AgentAccess, &r.MinKarma, &r.ConsensusThreshold, &r.MinReviews, &r.HumanReviewWeight,
			&r.BufferBranch, &r.PromoteTarget, &r.StabilizeCommand, &r.StabilizeTimeoutS, &r.StabilizeInContainer,
			&r.AutoPromoteOnGreen, &r.AutoRevertOnRed, &r.ConsensusAuthority, &r.ContributorCount, &r.PatchCount,
			&r.CreatedAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetRepository(ctx context.Context, repoID string) (domain.Repository, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, name, description, stage, ownership_model, merge_mode,
		agent_access, min_karma, consensus_threshold, min_reviews, human_review_weight, buffer_branch,
		promote_target, stabilize_command, stabilize_timeout_seconds, stabilize_in_container,
		auto_promote_on_green, auto_revert_on_red, consensus_authority, contributor_count, patch_count,
		created_at_ms FROM repositories WHERE id = ?`, repoID)
	var r domain.Repository
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Stage, &r.OwnershipModel, &r.MergeMode,
		&r.AgentAccess, &r.MinKarma, &r.ConsensusThreshold, &r.MinReviews, &r.HumanReviewWeight,
		&r.BufferBranch, &r.PromoteTarget, &r.StabilizeCommand, &r.StabilizeTimeoutS, &r.StabilizeInContainer,
		&r.AutoPromoteOnGreen, &r.AutoRevertOnRed, &r.ConsensusAuthority, &r.ContributorCount, &r.PatchCount,
		&r.CreatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Repository{}, gwerrors.NotFound("repository", repoID)
		}
		return domain.Repository{}, gwerrors.Unavailable("store", err)
	}
	return r, nil
}

func (s *SQLStore) SaveRepository(ctx context.Context, r domain.Repository) error {
	_, err := s.DB.Exec(ctx, `UPDATE repositories SET stage = ?, consensus_threshold = ?, min_reviews = ?,
		min_karma = ? WHERE id = ?`, r.Stage, r.ConsensusThreshold, r.MinReviews, r.MinKarma, r.ID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) MaintainersForRepo(ctx context.Context, repoID string) ([]domain.Maintainer, error) {
	rows, err := s.DB.Query(ctx, `SELECT repo_id, agent_id, role FROM maintainers WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Maintainer
	for rows.Next() {
		var m domain.Maintainer
		if err := rows.Scan(&m.RepoID, &m.AgentID, &m.Role); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveMaintainer(ctx context.Context, m domain.Maintainer) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO maintainers (repo_id, agent_id, role) VALUES (?, ?, ?)
		ON CONFLICT (repo_id, agent_id) DO UPDATE SET role = excluded.role`, m.RepoID, m.AgentID, m.Role)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) DeleteMaintainer(ctx context.Context, repoID, agentID string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM maintainers WHERE repo_id = ? AND agent_id = ?`, repoID, agentID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) SaveAccessGrant(ctx context.Context, g domain.AccessGrant) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO repo_access (repo_id, agent_id, level, expires_at_ms)
		VALUES (?, ?, ?, ?) ON CONFLICT (repo_id, agent_id) DO UPDATE SET level = excluded.level,
		expires_at_ms = excluded.expires_at_ms`, g.RepoID, g.AgentID, g.Level, nullableInt(g.ExpiresAtMs))
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func (s *SQLStore) PlaceMergeAtHead(ctx context.Context, repoID, streamID, requesterID string) error {
	_, err := s.DB.Exec(ctx, `UPDATE merge_queue SET enqueued_at_ms = enqueued_at_ms
		WHERE repo_id = ? AND status = 'pending'`, repoID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	row := s.DB.QueryRow(ctx, `SELECT MIN(enqueued_at_ms) FROM merge_queue WHERE repo_id = ?`, repoID)
	var minTs sql.NullInt64
	if err := row.Scan(&minTs); err != nil {
		return gwerrors.Unavailable("store", err)
	}
	head := minTs.Int64 - 1
	_, err = s.DB.Exec(ctx, `INSERT INTO merge_queue (id, repo_id, stream_id, requester_id, status,
		council_authorised, enqueued_at_ms, attempts, last_error)
		VALUES (?, ?, ?, ?, 'pending', true, ?, 0, '')`, streamID+"-council", repoID, streamID, requesterID, head)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// --- sync.QueueStore / CursorStore / DeltaSource ---------------------------

func (s *SQLStore) Enqueue(ctx context.Context, item domain.SyncQueueItem) (domain.SyncQueueItem, error) {
	row := s.DB.QueryRow(ctx, `SELECT COALESCE(MAX(local_id), 0) + 1 FROM sync_queue`)
	if err := row.Scan(&item.LocalID); err != nil {
		return domain.SyncQueueItem{}, gwerrors.Unavailable("store", err)
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO sync_queue (local_id, event_type, payload, attempts, last_error,
		enqueued_at_ms) VALUES (?, ?, ?, 0, '', ?)`, item.LocalID, item.EventType, marshal(item.Payload), item.EnqueuedAtMs)
	if err != nil {
		return domain.SyncQueueItem{}, gwerrors.Unavailable("store", err)
	}
	return item, nil
}

func (s *SQLStore) NextBatch(ctx context.Context, limit int) ([]domain.SyncQueueItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT local_id, event_type, payload, attempts, last_error, enqueued_at_ms
		FROM sync_queue ORDER BY local_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.SyncQueueItem
	for rows.Next() {
		var item domain.SyncQueueItem
		var payload string
		if err := rows.Scan(&item.LocalID, &item.EventType, &payload, &item.Attempts, &item.LastError, &item.EnqueuedAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		item.Payload = unmarshal(payload)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, localID int64) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM sync_queue WHERE local_id = ?`, localID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) MarkFailed(ctx context.Context, localID int64, errMsg string) error {
	_, err := s.DB.Exec(ctx, `UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE local_id = ?`, errMsg, localID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) GetCursor(ctx context.Context, category gwsync.Category) (int64, error) {
	row := s.DB.QueryRow(ctx, `SELECT cursor_value FROM sync_cursors WHERE client_agent_id = ? AND category = ?`,
		"self", string(category))
	var v sql.NullString
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, gwerrors.Unavailable("store", err)
	}
	if !v.Valid || v.String == "" {
		return 0, nil
	}
	var cursor int64
	_ = json.Unmarshal([]byte(v.String), &cursor)
	return cursor, nil
}

func (s *SQLStore) SaveCursor(ctx context.Context, category gwsync.Category, cursorMs int64) error {
	b, _ := json.Marshal(cursorMs)
	_, err := s.DB.Exec(ctx, `INSERT INTO sync_cursors (client_agent_id, category, cursor_value)
		VALUES (?, ?, ?) ON CONFLICT (client_agent_id, category) DO UPDATE SET cursor_value = excluded.cursor_value`,
		"self", string(category), string(b))
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// categoryTable maps a sync Category to the table its deltas are read
// from, per spec.md §4.L's six named categories.
var categoryTable = map[gwsync.Category]string{
	gwsync.CategoryTasks:         "tasks",
	gwsync.CategoryAccessChanges: "repo_access",
	gwsync.CategoryProposals:     "proposals",
	gwsync.CategoryReviews:       "reviews",
	gwsync.CategoryMerges:        "merge_queue",
	gwsync.CategoryConfigChanges: "repositories",
}

// DeltasSince is a best-effort generic reader: none of the mapped tables
// has an updated_at_ms column, so deltaColumns picks one id-like column and
// one existing timestamp per table — created_at_ms for tasks and
// repositories, reviewed_at_ms for reviews, enqueued_at_ms for
// merge_queue, and expires_at_ms for repo_access and proposals. For
// reviews and repo_access the id column is the agent id, not a unique row
// key.
func (s *SQLStore) DeltasSince(ctx context.Context, category gwsync.Category, cursorMs int64, limit int) ([]gwsync.Delta, error) {
	table, ok := categoryTable[category]
	if !ok {
		return nil, gwerrors.Validation("category", "unknown sync category")
	}
	idCol, tsCol := deltaColumns(table)
	query := `SELECT ` + idCol + `, ` + tsCol + ` FROM ` + table + ` WHERE ` + tsCol + ` > ? ORDER BY ` + tsCol + ` ASC LIMIT ?`
	rows, err := s.DB.Query(ctx, query, cursorMs, limit)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []gwsync.Delta
	for rows.Next() {
		var id string
		var ts int64
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, gwsync.Delta{Table: table, ID: id, UpdatedAtMs: ts})
	}
	return out, rows.Err()
}

func deltaColumns(table string) (idCol, tsCol string) {
	switch table {
	case "tasks":
		return "id", "created_at_ms"
	case "repo_access":
		return "agent_id", "expires_at_ms"
	case "proposals":
		return "id", "expires_at_ms"
	case "reviews":
		return "reviewer_id", "reviewed_at_ms"
	case "merge_queue":
		return "id", "enqueued_at_ms"
	case "repositories":
		return "id", "created_at_ms"
	default:
		return "id", "created_at_ms"
	}
}
