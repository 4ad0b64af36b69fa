package sync

import (
	"context"
	"testing"

	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/ids"
)

type fakeAgentLookup struct {
	agents []domain.Agent
}

func (l *fakeAgentLookup) AgentsByKeyPrefix(ctx context.Context, prefix string) ([]domain.Agent, error) {
	var out []domain.Agent
	for _, a := range l.agents {
		out = append(out, a)
	}
	_ = prefix
	return out, nil
}

func TestAuthenticate_MatchesCorrectAgent(t *testing.T) {
	plaintext, hash, err := ids.IssueAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lookup := &fakeAgentLookup{agents: []domain.Agent{
		{ID: "agent-1", KeyHash: hash, Status: domain.AgentActive},
	}}
	auth := &Authenticator{Lookup: lookup}

	agent, err := auth.Authenticate(context.Background(), "Bearer "+plaintext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agent.ID != "agent-1" {
		t.Fatalf("got agent %q", agent.ID)
	}
}

func TestAuthenticate_RejectsWrongKey(t *testing.T) {
	_, hash, err := ids.IssueAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	other, _, err := ids.IssueAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lookup := &fakeAgentLookup{agents: []domain.Agent{
		{ID: "agent-1", KeyHash: hash, Status: domain.AgentActive},
	}}
	auth := &Authenticator{Lookup: lookup}

	if _, err := auth.Authenticate(context.Background(), "Bearer "+other); err == nil {
		t.Fatal("expected an error for a non-matching key")
	}
}

func TestAuthenticate_RejectsSuspendedAgent(t *testing.T) {
	plaintext, hash, err := ids.IssueAPIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lookup := &fakeAgentLookup{agents: []domain.Agent{
		{ID: "agent-1", KeyHash: hash, Status: domain.AgentSuspended},
	}}
	auth := &Authenticator{Lookup: lookup}

	if _, err := auth.Authenticate(context.Background(), "Bearer "+plaintext); err == nil {
		t.Fatal("expected an error authenticating a suspended agent")
	}
}

func TestAuthenticate_RejectsMalformedHeader(t *testing.T) {
	auth := &Authenticator{Lookup: &fakeAgentLookup{}}
	if _, err := auth.Authenticate(context.Background(), "not-a-bearer-token"); err == nil {
		t.Fatal("expected an error for a malformed header")
	}
}

func TestWithAgent_RoundTrips(t *testing.T) {
	ctx := WithAgent(context.Background(), domain.Agent{ID: "agent-1"})
	agent, ok := AgentFromContext(ctx)
	if !ok || agent.ID != "agent-1" {
		t.Fatalf("got %+v, ok=%v", agent, ok)
	}
}
