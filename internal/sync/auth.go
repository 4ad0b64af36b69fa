package sync

import (
	"context"
	"strings"

	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/ids"
)

// AgentLookup resolves the agent a bearer token's prefix might belong to.
// Since bcrypt hashes can't be looked up by value, gitswarmd indexes
// agents by the key's fixed-length prefix (stored alongside the hash) so
// Authenticate only needs to bcrypt-compare against the small number of
// agents sharing that prefix, not the whole table.
type AgentLookup interface {
	AgentsByKeyPrefix(ctx context.Context, prefix string) ([]domain.Agent, error)
}

// Authenticator implements the bearer-token half of spec.md §4.L:
// extract "Authorization: Bearer gsw_<32-char>", look the key up by its
// salted hash, and attach the resolved agent identity to the caller's
// context.
type Authenticator struct {
	Lookup AgentLookup
}

const bearerPrefix = "Bearer "
const keyPrefixLen = 8

// Authenticate resolves the agent owning authHeader's bearer token, or
// returns a gwerrors.Auth error if the header is malformed or no agent's
// key hash matches.
func (a *Authenticator) Authenticate(ctx context.Context, authHeader string) (domain.Agent, error) {
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return domain.Agent{}, gwerrors.Auth("missing or malformed authorization header")
	}
	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if len(token) < keyPrefixLen {
		return domain.Agent{}, gwerrors.Auth("malformed api key")
	}

	candidates, err := a.Lookup.AgentsByKeyPrefix(ctx, token[:keyPrefixLen])
	if err != nil {
		return domain.Agent{}, err
	}
	for _, agent := range candidates {
		if ids.VerifyAPIKey(token, agent.KeyHash) {
			if agent.Status != domain.AgentActive {
				return domain.Agent{}, gwerrors.Auth("agent is not active")
			}
			return agent, nil
		}
	}
	return domain.Agent{}, gwerrors.Auth("api key did not match any registered agent")
}

// contextKey is unexported so only this package can set/get the agent
// attached to a request context.
type contextKey struct{}

var agentContextKey = contextKey{}

// WithAgent returns a child context carrying the authenticated agent.
func WithAgent(ctx context.Context, agent domain.Agent) context.Context {
	return context.WithValue(ctx, agentContextKey, agent)
}

// AgentFromContext retrieves the agent attached by WithAgent, if any.
func AgentFromContext(ctx context.Context) (domain.Agent, bool) {
	agent, ok := ctx.Value(agentContextKey).(domain.Agent)
	return agent, ok
}
