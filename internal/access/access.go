// Package access resolves an agent's effective permission level against a
// repository and answers the two questions every other component needs
// before mutating repository state: can this agent perform this action at
// all, and can it push directly to this branch (spec.md §4.C). The package
// is pure and side-effect-free over domain structs — no caching, since a
// council action (§4.H) can change a grant and the change must be visible
// on the very next call.
package access

import "github.com/dyluth/gitswarm/internal/domain"

// Source names where a resolved AccessLevel came from, so callers can
// explain a decision rather than just stating it.
type Source string

const (
	SourceOwner       Source = "owner"
	SourceMaintainer  Source = "maintainer"
	SourceGrant       Source = "grant"
	SourcePolicy      Source = "policy"
	SourceBannedOrSuspended Source = "banned_or_suspended"
	SourceNone        Source = "none"
)

// Resolution is the result of ResolvePermissions.
type Resolution struct {
	Level  domain.AccessLevel
	Source Source
}

// ResolvePermissions computes agent's effective access to repo in the
// strict precedence order of spec.md §4.C: owner > maintainer > explicit
// grant > repository default policy > none. grants should already be
// filtered to repo and agent by the caller (one row expected, since
// repo_access is keyed (repo_id, agent_id)); nowMs is passed in so callers
// can test expiry deterministically.
func ResolvePermissions(agent domain.Agent, repo domain.Repository, maintainer *domain.Maintainer, grant *domain.AccessGrant, nowMs int64) Resolution {
	if agent.Status != domain.AgentActive {
		return Resolution{Level: domain.AccessNone, Source: SourceBannedOrSuspended}
	}

	if maintainer != nil {
		if maintainer.Role == domain.RoleOwner {
			return Resolution{Level: domain.AccessAdmin, Source: SourceOwner}
		}
		return Resolution{Level: domain.AccessMaintain, Source: SourceMaintainer}
	}

	if grant != nil && (grant.ExpiresAtMs == 0 || grant.ExpiresAtMs > nowMs) {
		return Resolution{Level: grant.Level, Source: SourceGrant}
	}

	switch repo.AgentAccess {
	case domain.AccessPublic:
		return Resolution{Level: domain.AccessWrite, Source: SourcePolicy}
	case domain.AccessKarmaThreshold:
		if agent.Karma >= repo.MinKarma {
			return Resolution{Level: domain.AccessWrite, Source: SourcePolicy}
		}
		return Resolution{Level: domain.AccessRead, Source: SourcePolicy}
	case domain.AccessAllowlist:
		return Resolution{Level: domain.AccessNone, Source: SourcePolicy}
	default:
		return Resolution{Level: domain.AccessNone, Source: SourceNone}
	}
}

// Action is an operation gated by a minimum access level.
type Action string

const (
	ActionRead     Action = "read"
	ActionWrite    Action = "write"
	ActionMerge    Action = "merge"
	ActionSettings Action = "settings"
	ActionDelete   Action = "delete"
)

// minLevel maps each action to the minimum AccessLevel it requires. merge
// and settings both require AccessMaintain: a repository's five-action
// ladder (read<write<merge<settings<delete) is finer than the four-tier
// AccessLevel ladder, so the two middle actions share a tier rather than
// inventing a level domain.AccessLevel does not define.
var minLevel = map[Action]domain.AccessLevel{
	ActionRead:     domain.AccessRead,
	ActionWrite:    domain.AccessWrite,
	ActionMerge:    domain.AccessMaintain,
	ActionSettings: domain.AccessMaintain,
	ActionDelete:   domain.AccessAdmin,
}

// CanPerform reports whether level (as resolved by ResolvePermissions) is
// sufficient for action, along with the level actually required.
func CanPerform(level domain.AccessLevel, action Action) (allowed bool, required domain.AccessLevel) {
	required = minLevel[action]
	return level.AtLeast(required), required
}

// CanPushToBranch selects the highest-priority rule matching branch and
// evaluates its DirectPushPolicy against whether agent is a maintainer.
// rules need not be pre-sorted; CanPushToBranch picks the max-Priority
// match itself. A branch matching no rule denies direct push (callers
// fall back to stream+review flow).
func CanPushToBranch(rules []domain.BranchRule, branch string, isMaintainer bool) bool {
	var best *domain.BranchRule
	for i := range rules {
		r := &rules[i]
		if !matchesPrefix(branch, r.PathPrefix) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	if best == nil {
		return false
	}
	switch best.DirectPush {
	case domain.DirectPushAll:
		return true
	case domain.DirectPushMaintainers:
		return isMaintainer
	default:
		return false
	}
}

func matchesPrefix(branch, prefix string) bool {
	if prefix == "" || prefix == "*" {
		return true
	}
	if len(branch) < len(prefix) {
		return false
	}
	return branch[:len(prefix)] == prefix
}
