package coordinator_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/coordinator"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/internal/streamtracker"
	"github.com/dyluth/gitswarm/pkg/gitbackend"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/store/embedded"
)

// newTestCoordinator opens a fresh in-memory sqlite store and an in-memory
// git backend, migrated and wired exactly like cmd/gitswarm's embedded
// session (see cmd/gitswarm/commands/common.go's openSession), but with
// deterministic id/clock injection in place of pkg/ids and time.Now so
// assertions don't race wall-clock ordering.
func newTestCoordinator(t *testing.T) (*coordinator.Coordinator, *gitbackend.MemoryBackend) {
	t.Helper()
	ctx := context.Background()
	db, err := embedded.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("embedded.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	git := gitbackend.NewMemoryBackend()

	var seq int64
	newID := func() string {
		n := atomic.AddInt64(&seq, 1)
		return fmt.Sprintf("id-%04d", n)
	}
	var clock int64
	nowMs := func() int64 {
		return atomic.AddInt64(&clock, 1)
	}

	c := coordinator.New(db, git, nil, zerolog.Nop(), newID, nowMs)
	return c, git
}

// registerAgent is a small helper wrapping Coordinator.RegisterAgent for
// the common case where the test doesn't need the plaintext key.
func registerAgent(t *testing.T, c *coordinator.Coordinator, name string) domain.Agent {
	t.Helper()
	a, _, err := c.RegisterAgent(context.Background(), name, "")
	if err != nil {
		t.Fatalf("RegisterAgent(%s): %v", name, err)
	}
	return a
}

func soloRepoRequest(name, ownerID string) coordinator.CreateRepositoryRequest {
	return coordinator.CreateRepositoryRequest{
		Name:               name,
		OwnerAgentID:       ownerID,
		OwnershipModel:     domain.OwnershipSolo,
		MergeMode:          domain.MergeModeReview,
		AgentAccess:        domain.AccessPublic,
		MinReviews:         1,
		ConsensusThreshold: 1,
		BufferBranch:       "buffer",
		PromoteTarget:      "main",
	}
}

// TestRegisterAuthenticateGetSelf covers the agent identity round trip: an agent
// registers, authenticates with its issued bearer token, and can fetch its
// own identity back.
func TestRegisterAuthenticateGetSelf(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	agent, plaintext, err := c.RegisterAgent(ctx, "river", "bio")
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if plaintext == "" {
		t.Fatal("expected a non-empty plaintext api key")
	}

	authenticated, err := c.Auth.Authenticate(ctx, "Bearer "+plaintext)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authenticated.ID != agent.ID {
		t.Fatalf("authenticated as %s, want %s", authenticated.ID, agent.ID)
	}

	self, err := c.GetAgent(ctx, authenticated.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if self.Name != "river" {
		t.Fatalf("GetAgent returned name %q, want river", self.Name)
	}
}

// TestStreamLifecycleToMerge drives a full stream through its lifecycle:
// workspace creation, a commit, an owner approval reaching
// solo consensus, a merge request, and queue drain, checking that review
// status, contributor/patch counters, and karma all land correctly along
// the way (review comments 1-4).
func TestStreamLifecycleToMerge(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	owner := registerAgent(t, c, "owner")
	repo, err := c.CreateRepository(ctx, soloRepoRequest("widgets", owner.ID))
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}

	contributor := registerAgent(t, c, "contributor")

	stream, err := c.CreateWorkspace(ctx, "/repo", "/work/stream-1", contributor.ID, streamtracker.CreateStreamRequest{
		RepoID:     repo.ID,
		Name:       "feature",
		BaseBranch: repo.BufferBranch,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if stream.ReviewStatus != domain.ReviewPending {
		t.Fatalf("new stream ReviewStatus = %s, want pending", stream.ReviewStatus)
	}

	stream, _, err = c.Commit(ctx, "/work/stream-1", stream, "add widget")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	review, err := c.SubmitReview(ctx, owner.ID, stream.ID, domain.VerdictApprove, "looks good", false, false)
	if err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	if review.Verdict != domain.VerdictApprove {
		t.Fatalf("review verdict = %s, want approve", review.Verdict)
	}

	stream, err = c.Rows.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if stream.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("ReviewStatus after owner approval = %s, want approved", stream.ReviewStatus)
	}

	reviewerAfter, err := c.GetAgent(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetAgent(owner): %v", err)
	}
	if reviewerAfter.Karma != 5 {
		t.Fatalf("owner karma after one approval = %d, want 5", reviewerAfter.Karma)
	}

	if _, err := c.RequestMerge(ctx, stream, contributor.ID); err != nil {
		t.Fatalf("RequestMerge: %v", err)
	}

	c.Worker(ctx, repo, "/repo")
	c.DrainMergeQueue(ctx, repo, "/repo")

	merged, err := c.Rows.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream after drain: %v", err)
	}
	if merged.Status != domain.StreamMerged {
		t.Fatalf("stream status after drain = %s, want merged", merged.Status)
	}
	if merged.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("stream ReviewStatus after merge = %s, want approved", merged.ReviewStatus)
	}

	repoAfter, err := c.GetRepository(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if repoAfter.ContributorCount != 1 {
		t.Fatalf("ContributorCount after first merge = %d, want 1", repoAfter.ContributorCount)
	}
	if repoAfter.PatchCount != 1 {
		t.Fatalf("PatchCount after first merge = %d, want 1", repoAfter.PatchCount)
	}

	// A second stream from the same contributor must not double-count
	// them as a new contributor, only as another patch (review comment 4).
	stream2, err := c.CreateWorkspace(ctx, "/repo", "/work/stream-2", contributor.ID, streamtracker.CreateStreamRequest{
		RepoID:     repo.ID,
		Name:       "feature-2",
		BaseBranch: repo.BufferBranch,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace (second stream): %v", err)
	}
	stream2, _, err = c.Commit(ctx, "/work/stream-2", stream2, "add gadget")
	if err != nil {
		t.Fatalf("Commit (second stream): %v", err)
	}
	if _, err := c.SubmitReview(ctx, owner.ID, stream2.ID, domain.VerdictApprove, "", false, false); err != nil {
		t.Fatalf("SubmitReview (second stream): %v", err)
	}
	stream2, err = c.Rows.GetStream(ctx, stream2.ID)
	if err != nil {
		t.Fatalf("GetStream (second stream): %v", err)
	}
	if _, err := c.RequestMerge(ctx, stream2, contributor.ID); err != nil {
		t.Fatalf("RequestMerge (second stream): %v", err)
	}
	c.DrainMergeQueue(ctx, repo, "/repo")

	repoAfter2, err := c.GetRepository(ctx, repo.ID)
	if err != nil {
		t.Fatalf("GetRepository (after second merge): %v", err)
	}
	if repoAfter2.ContributorCount != 1 {
		t.Fatalf("ContributorCount after second merge from same agent = %d, want 1", repoAfter2.ContributorCount)
	}
	if repoAfter2.PatchCount != 2 {
		t.Fatalf("PatchCount after second merge = %d, want 2", repoAfter2.PatchCount)
	}
}

// TestReviewKarmaAwardedOncePerReviewer covers review comment 3: karma is
// awarded on both approve and request_changes, but only the first time a
// given reviewer reaches a non-comment verdict on a given stream, however
// many times they re-review.
func TestReviewKarmaAwardedOncePerReviewer(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	owner := registerAgent(t, c, "owner")
	repo, err := c.CreateRepository(ctx, soloRepoRequest("widgets", owner.ID))
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	contributor := registerAgent(t, c, "contributor")
	stream, err := c.CreateWorkspace(ctx, "/repo", "/work/s1", contributor.ID, streamtracker.CreateStreamRequest{
		RepoID: repo.ID, Name: "feature", BaseBranch: repo.BufferBranch,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}

	if _, err := c.SubmitReview(ctx, owner.ID, stream.ID, domain.VerdictRequestChanges, "needs work", false, false); err != nil {
		t.Fatalf("SubmitReview (request_changes): %v", err)
	}
	afterFirst, err := c.GetAgent(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if afterFirst.Karma != 5 {
		t.Fatalf("karma after first request_changes = %d, want 5", afterFirst.Karma)
	}
	streamAfterFirst, err := c.Rows.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if streamAfterFirst.ReviewStatus != domain.ReviewChangesRequested {
		t.Fatalf("ReviewStatus after request_changes = %s, want changes_requested", streamAfterFirst.ReviewStatus)
	}

	if _, err := c.SubmitReview(ctx, owner.ID, stream.ID, domain.VerdictApprove, "fixed", false, false); err != nil {
		t.Fatalf("SubmitReview (approve): %v", err)
	}
	afterSecond, err := c.GetAgent(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if afterSecond.Karma != 5 {
		t.Fatalf("karma after second verdict from same reviewer = %d, want still 5 (awarded once)", afterSecond.Karma)
	}
	streamAfterSecond, err := c.Rows.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if streamAfterSecond.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("ReviewStatus after approval overrides request_changes = %s, want approved", streamAfterSecond.ReviewStatus)
	}

	// Re-approving a third time must still not re-award karma.
	if _, err := c.SubmitReview(ctx, owner.ID, stream.ID, domain.VerdictApprove, "still good", false, false); err != nil {
		t.Fatalf("SubmitReview (re-approve): %v", err)
	}
	afterThird, err := c.GetAgent(ctx, owner.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if afterThird.Karma != 5 {
		t.Fatalf("karma after third verdict = %d, want still 5", afterThird.Karma)
	}
}

// TestAncestorChangesRequestedBlocksMerge covers review comment 1: a
// stream whose ancestor is stuck in changes_requested cannot be merged,
// even once the stream's own review reaches consensus.
func TestAncestorChangesRequestedBlocksMerge(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx := context.Background()

	owner := registerAgent(t, c, "owner")
	repo, err := c.CreateRepository(ctx, soloRepoRequest("widgets", owner.ID))
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	contributor := registerAgent(t, c, "contributor")

	parent, err := c.CreateWorkspace(ctx, "/repo", "/work/parent", contributor.ID, streamtracker.CreateStreamRequest{
		RepoID: repo.ID, Name: "parent", BaseBranch: repo.BufferBranch,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace (parent): %v", err)
	}
	if _, err := c.SubmitReview(ctx, owner.ID, parent.ID, domain.VerdictRequestChanges, "not yet", false, false); err != nil {
		t.Fatalf("SubmitReview (parent request_changes): %v", err)
	}

	child, err := c.CreateWorkspace(ctx, "/repo", "/work/child", contributor.ID, streamtracker.CreateStreamRequest{
		RepoID: repo.ID, Name: "child", BaseBranch: repo.BufferBranch, ParentStreamID: parent.ID,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace (child): %v", err)
	}
	child, _, err = c.Commit(ctx, "/work/child", child, "child work")
	if err != nil {
		t.Fatalf("Commit (child): %v", err)
	}
	if _, err := c.SubmitReview(ctx, owner.ID, child.ID, domain.VerdictApprove, "child looks fine", false, false); err != nil {
		t.Fatalf("SubmitReview (child approve): %v", err)
	}
	child, err = c.Rows.GetStream(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetStream (child): %v", err)
	}

	_, err = c.RequestMerge(ctx, child, contributor.ID)
	if err == nil {
		t.Fatal("RequestMerge on a stream with an ancestor in changes_requested should fail")
	}
	if !gwerrors.Is(err, gwerrors.CodeConsensus) {
		t.Fatalf("RequestMerge error = %v, want a consensus-coded error", err)
	}
}

// TestStabilizeAutoRevertOnRed covers review comment 5 and spec.md §8
// scenario S5: a red stabilization run on a repository with
// auto_revert_on_red reverts the most recently merged stream.
func TestStabilizeAutoRevertOnRed(t *testing.T) {
	c, git := newTestCoordinator(t)
	ctx := context.Background()

	owner := registerAgent(t, c, "owner")
	req := soloRepoRequest("widgets", owner.ID)
	req.StabilizeCommand = "make check"
	req.AutoRevertOnRed = true
	repo, err := c.CreateRepository(ctx, req)
	if err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	if !repo.AutoRevertOnRed {
		t.Fatal("CreateRepository did not persist AutoRevertOnRed")
	}

	contributor := registerAgent(t, c, "contributor")
	stream, err := c.CreateWorkspace(ctx, "/repo", "/work/s1", contributor.ID, streamtracker.CreateStreamRequest{
		RepoID: repo.ID, Name: "feature", BaseBranch: repo.BufferBranch,
	})
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	stream, _, err = c.Commit(ctx, "/work/s1", stream, "add widget")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := c.SubmitReview(ctx, owner.ID, stream.ID, domain.VerdictApprove, "", false, false); err != nil {
		t.Fatalf("SubmitReview: %v", err)
	}
	stream, err = c.Rows.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	if _, err := c.RequestMerge(ctx, stream, contributor.ID); err != nil {
		t.Fatalf("RequestMerge: %v", err)
	}
	c.DrainMergeQueue(ctx, repo, "/repo")

	git.RunOutputs["make check"] = struct {
		Output   string
		ExitCode int
	}{Output: "tests failed", ExitCode: 1}

	result, err := c.Stabilize(ctx, "/repo", repo)
	if err != nil {
		t.Fatalf("Stabilize: %v", err)
	}
	if result.Success {
		t.Fatal("expected a red stabilization result")
	}
	if !result.Reverted {
		t.Fatal("expected auto_revert_on_red to trigger a revert")
	}
	if result.RevertedStreamID != stream.ID {
		t.Fatalf("RevertedStreamID = %s, want %s", result.RevertedStreamID, stream.ID)
	}

	reverted, err := c.Rows.GetStream(ctx, stream.ID)
	if err != nil {
		t.Fatalf("GetStream after revert: %v", err)
	}
	if reverted.Status != domain.StreamReverted {
		t.Fatalf("stream status after auto-revert = %s, want reverted", reverted.Status)
	}
}
