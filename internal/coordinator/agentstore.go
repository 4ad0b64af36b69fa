package coordinator

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// --- agents ----------------------------------------------------------------

func (s *SQLStore) SaveAgent(ctx context.Context, a domain.Agent) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO agents (id, name, bio, key_hash, karma, status, created_at_ms, last_seen_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET bio = excluded.bio, karma = excluded.karma,
		status = excluded.status, last_seen_at_ms = excluded.last_seen_at_ms`,
		a.ID, a.Name, a.Bio, a.KeyHash, a.Karma, a.Status, a.CreatedAtMs, nullableInt(a.LastSeenAtMs))
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, name, bio, key_hash, karma, status, created_at_ms,
		COALESCE(last_seen_at_ms, 0) FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

func (s *SQLStore) GetAgentByName(ctx context.Context, name string) (domain.Agent, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, name, bio, key_hash, karma, status, created_at_ms,
		COALESCE(last_seen_at_ms, 0) FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

func scanAgent(row *sql.Row) (domain.Agent, error) {
	var a domain.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.Bio, &a.KeyHash, &a.Karma, &a.Status, &a.CreatedAtMs, &a.LastSeenAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Agent{}, gwerrors.NotFound("agent", "")
		}
		return domain.Agent{}, gwerrors.Unavailable("store", err)
	}
	return a, nil
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, bio, key_hash, karma, status, created_at_ms,
		COALESCE(last_seen_at_ms, 0) FROM agents ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio, &a.KeyHash, &a.Karma, &a.Status, &a.CreatedAtMs, &a.LastSeenAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AgentsByKeyPrefix implements gwsync.AgentLookup: agents are indexed by
// the fixed-length prefix of their plaintext key (the part before the
// bcrypt hash makes lookup-by-value impossible), stored alongside the hash
// so Authenticate only bcrypt-compares against the handful of agents
// sharing that prefix.
func (s *SQLStore) AgentsByKeyPrefix(ctx context.Context, prefix string) ([]domain.Agent, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, bio, key_hash, karma, status, created_at_ms,
		COALESCE(last_seen_at_ms, 0) FROM agents WHERE key_prefix = ?`, prefix)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio, &a.KeyHash, &a.Karma, &a.Status, &a.CreatedAtMs, &a.LastSeenAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SaveAgentKeyPrefix persists the key prefix an issued API key's agent
// should be indexed under, alongside the bcrypt hash SaveAgent already
// wrote. Called once, at registration.
func (s *SQLStore) SaveAgentKeyPrefix(ctx context.Context, agentID, prefix string) error {
	_, err := s.DB.Exec(ctx, `UPDATE agents SET key_prefix = ? WHERE id = ?`, prefix, agentID)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// --- tasks / claims ----------------------------------------------------------

func (s *SQLStore) SaveTask(ctx context.Context, t domain.Task) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO tasks (id, repo_id, title, description, status, priority,
		amount, creator_id, created_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status`,
		t.ID, t.RepoID, t.Title, t.Description, t.Status, t.Priority, t.Amount, nullable(t.CreatorID), t.CreatedAtMs)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, repo_id, title, description, status, priority, amount,
		COALESCE(creator_id, ''), created_at_ms FROM tasks WHERE id = ?`, id)
	var t domain.Task
	if err := row.Scan(&t.ID, &t.RepoID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Amount,
		&t.CreatorID, &t.CreatedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Task{}, gwerrors.NotFound("task", id)
		}
		return domain.Task{}, gwerrors.Unavailable("store", err)
	}
	return t, nil
}

func (s *SQLStore) TasksForRepo(ctx context.Context, repoID string, status domain.TaskStatus) ([]domain.Task, error) {
	query := `SELECT id, repo_id, title, description, status, priority, amount, COALESCE(creator_id, ''), created_at_ms
		FROM tasks WHERE repo_id = ?`
	args := []any{repoID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at_ms ASC`
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.RepoID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Amount,
			&t.CreatorID, &t.CreatedAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveClaim(ctx context.Context, c domain.Claim) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO claims (id, task_id, agent_id, stream_id, status, notes,
		claimed_at_ms, submitted_at_ms, reviewed_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET stream_id = excluded.stream_id, status = excluded.status,
		notes = excluded.notes, submitted_at_ms = excluded.submitted_at_ms, reviewed_at_ms = excluded.reviewed_at_ms`,
		c.ID, c.TaskID, c.AgentID, nullable(c.StreamID), c.Status, c.Notes, c.ClaimedAtMs,
		nullableInt(c.SubmittedAtMs), nullableInt(c.ReviewedAtMs))
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

func (s *SQLStore) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, task_id, agent_id, COALESCE(stream_id, ''), status, notes,
		claimed_at_ms, COALESCE(submitted_at_ms, 0), COALESCE(reviewed_at_ms, 0) FROM claims WHERE id = ?`, id)
	var c domain.Claim
	if err := row.Scan(&c.ID, &c.TaskID, &c.AgentID, &c.StreamID, &c.Status, &c.Notes, &c.ClaimedAtMs,
		&c.SubmittedAtMs, &c.ReviewedAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Claim{}, gwerrors.NotFound("claim", id)
		}
		return domain.Claim{}, gwerrors.Unavailable("store", err)
	}
	return c, nil
}

func (s *SQLStore) ClaimsForTask(ctx context.Context, taskID string) ([]domain.Claim, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, task_id, agent_id, COALESCE(stream_id, ''), status, notes,
		claimed_at_ms, COALESCE(submitted_at_ms, 0), COALESCE(reviewed_at_ms, 0) FROM claims WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.Claim
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AgentID, &c.StreamID, &c.Status, &c.Notes, &c.ClaimedAtMs,
			&c.SubmittedAtMs, &c.ReviewedAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CouncilForRepo returns the council bound to repoID, if one exists.
func (s *SQLStore) CouncilForRepo(ctx context.Context, repoID string) (*domain.Council, error) {
	row := s.DB.QueryRow(ctx, `SELECT id FROM councils WHERE repo_id = ?`, repoID)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, gwerrors.Unavailable("store", err)
	}
	c, err := s.GetCouncil(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// OpenProposals returns every still-open proposal for councilID, the read
// a scheduled expiry sweep drives.
func (s *SQLStore) OpenProposals(ctx context.Context, councilID string) ([]domain.Proposal, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM proposals WHERE council_id = ? AND status = 'open'`, councilID)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]domain.Proposal, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetProposal(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// --- branch rules ------------------------------------------------------------

func (s *SQLStore) BranchRulesForRepo(ctx context.Context, repoID string) ([]domain.BranchRule, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, repo_id, path_prefix, priority, direct_push, required_approvals,
		require_tests_pass FROM branch_rules WHERE repo_id = ?`, repoID)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.BranchRule
	for rows.Next() {
		var r domain.BranchRule
		if err := rows.Scan(&r.ID, &r.RepoID, &r.PathPrefix, &r.Priority, &r.DirectPush, &r.RequiredApprovals,
			&r.RequireTestsPass); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveBranchRule(ctx context.Context, r domain.BranchRule) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO branch_rules (id, repo_id, path_prefix, priority, direct_push,
		required_approvals, require_tests_pass) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET path_prefix = excluded.path_prefix, priority = excluded.priority,
		direct_push = excluded.direct_push, required_approvals = excluded.required_approvals,
		require_tests_pass = excluded.require_tests_pass`,
		r.ID, r.RepoID, r.PathPrefix, r.Priority, r.DirectPush, r.RequiredApprovals, r.RequireTestsPass)
	if err != nil {
		return gwerrors.Unavailable("store", err)
	}
	return nil
}

// --- activity events ---------------------------------------------------------

// InsertActivityEvent implements activity.Persister: assign the row the
// next monotonic sequence number and persist it.
func (s *SQLStore) InsertActivityEvent(ctx context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error) {
	row := s.DB.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM activity_events`)
	if err := row.Scan(&e.Sequence); err != nil {
		return domain.ActivityEvent{}, gwerrors.Unavailable("store", err)
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO activity_events (id, repo_id, agent_id, event_type, target_type,
		target_id, metadata, sequence, created_at_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RepoID, nullable(e.AgentID), e.EventType, e.TargetType, e.TargetID, marshal(e.Metadata),
		e.Sequence, e.CreatedAtMs)
	if err != nil {
		return domain.ActivityEvent{}, gwerrors.Unavailable("store", err)
	}
	return e, nil
}

// ActivityLog returns the most recent events for repoID (all repos if
// empty), newest first, capped at limit — the backing read for `gitswarm
// log` and the activity feed endpoint.
func (s *SQLStore) ActivityLog(ctx context.Context, repoID string, limit int) ([]domain.ActivityEvent, error) {
	query := `SELECT id, repo_id, COALESCE(agent_id, ''), event_type, target_type, target_id, metadata,
		sequence, created_at_ms FROM activity_events`
	var args []any
	if repoID != "" {
		query += ` WHERE repo_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY sequence DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, gwerrors.Unavailable("store", err)
	}
	defer rows.Close()
	var out []domain.ActivityEvent
	for rows.Next() {
		var e domain.ActivityEvent
		var metadata string
		if err := rows.Scan(&e.ID, &e.RepoID, &e.AgentID, &e.EventType, &e.TargetType, &e.TargetID, &metadata,
			&e.Sequence, &e.CreatedAtMs); err != nil {
			return nil, gwerrors.Unavailable("store", err)
		}
		e.Metadata = unmarshal(metadata)
		out = append(out, e)
	}
	return out, rows.Err()
}
