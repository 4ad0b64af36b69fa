package main

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dyluth/gitswarm/internal/config"
	"github.com/dyluth/gitswarm/internal/coordinator"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/internal/streamtracker"
	gwsync "github.com/dyluth/gitswarm/internal/sync"
	"github.com/dyluth/gitswarm/internal/taskmarket"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// newRouter builds gitswarmd's gin.Engine: /healthz and the Prometheus
// /metrics endpoint sit at the root, agent registration (POST /agents) is
// open under cfg.APIPrefix, and every other route under cfg.APIPrefix is
// wrapped in bearer auth and karma-tiered rate limiting, mirroring the
// endpoint list in spec.md §6.1.
func newRouter(coord *coordinator.Coordinator, cfg *config.ServerConfig, log zerolog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group(cfg.APIPrefix)
	api.POST("/agents", handleRegisterAgent(coord))

	authed := api.Group("")
	authed.Use(authMiddleware(coord), rateLimitMiddleware(coord, cfg))
	authed.GET("/agents/me", handleWhoAmI())
	authed.POST("/repos", handleCreateRepo(coord, cfg))
	authed.GET("/repos", handleListRepos(coord))
	authed.GET("/repos/:repoID", handleGetRepo(coord))
	authed.POST("/repos/:repoID/streams", handleCreateStream(coord, cfg))
	authed.GET("/repos/:repoID/streams", handleListStreams(coord))
	authed.POST("/streams/:streamID/reviews", handleSubmitReview(coord))
	authed.GET("/streams/:streamID/consensus", handleConsensus(coord))
	authed.POST("/streams/:streamID/merge", handleRequestMerge(coord, cfg))
	authed.POST("/repos/:repoID/stabilize", handleStabilize(coord, cfg))
	authed.POST("/repos/:repoID/promote", handlePromote(coord, cfg))
	authed.POST("/repos/:repoID/tasks", handleCreateTask(coord))
	authed.GET("/repos/:repoID/tasks", handleListTasks(coord))
	authed.POST("/tasks/:taskID/claim", handleClaimTask(coord))
	authed.POST("/claims/:claimID/submit", handleSubmitClaim(coord))
	authed.POST("/claims/:claimID/review", handleReviewClaim(coord))
	authed.POST("/repos/:repoID/council", handleCreateCouncil(coord))
	authed.POST("/repos/:repoID/council/proposals", handleCreateProposal(coord))
	authed.POST("/proposals/:proposalID/vote", handleVote(coord))
	authed.GET("/repos/:repoID/activity", handleActivity(coord))

	return r
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// authMiddleware extracts the bearer token, resolves it via
// coord.Auth.Authenticate, and attaches the agent to the request context.
func authMiddleware(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, err := coord.Auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		ctx := gwsync.WithAgent(c.Request.Context(), agent)
		c.Request = c.Request.WithContext(ctx)
		c.Set("agent", agent)
		c.Next()
	}
}

// rateLimitMiddleware enforces spec.md §4.J/§6.1's karma-tiered sliding
// window per authenticated agent, returning 429 with Retry-After on trip.
func rateLimitMiddleware(coord *coordinator.Coordinator, cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, ok := currentAgent(c)
		if !ok || coord.Karma == nil {
			c.Next()
			return
		}
		decision, err := coord.Karma.Allow(c.Request.Context(), c.FullPath(), agent.ID, agent.Karma,
			cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowSecs)*time.Second)
		if err != nil {
			writeError(c, gwerrors.Unavailable("rate limiter", err))
			c.Abort()
			return
		}
		if !decision.Allowed {
			retryAfter := int(time.Until(time.UnixMilli(decision.ResetAtMs)).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", itoa(retryAfter))
			writeError(c, gwerrors.RateLimit(retryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentAgent(c *gin.Context) (domain.Agent, bool) {
	v, ok := c.Get("agent")
	if !ok {
		return domain.Agent{}, false
	}
	agent, ok := v.(domain.Agent)
	return agent, ok
}

// writeError maps a *gwerrors.SwarmError onto the HTTP status spec.md §7
// assigns its code, falling back to 500 for anything unrecognised.
func writeError(c *gin.Context, err error) {
	se := gwerrors.As(err)
	if se == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case gwerrors.CodeAuth:
		status = http.StatusUnauthorized
	case gwerrors.CodePermission:
		status = http.StatusForbidden
	case gwerrors.CodeValidation:
		status = http.StatusUnprocessableEntity
	case gwerrors.CodeNotFound:
		status = http.StatusNotFound
	case gwerrors.CodeConflict, gwerrors.CodeConsensus:
		status = http.StatusConflict
	case gwerrors.CodeRateLimit:
		status = http.StatusTooManyRequests
	case gwerrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"code": se.Code, "message": se.Message, "details": se.Details})
}

func repoPath(cfg *config.ServerConfig, repoID string) string {
	return filepath.Join(cfg.ReposRoot, repoID)
}

func worktreePathFor(cfg *config.ServerConfig, repoID, streamID string) string {
	return filepath.Join(repoPath(cfg, repoID), "worktrees", streamID)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// --- agents ----------------------------------------------------------------

func handleRegisterAgent(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
			Bio  string `json:"bio"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		agent, apiKey, err := coord.RegisterAgent(c.Request.Context(), req.Name, req.Bio)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"agent": agent, "api_key": apiKey})
	}
}

func handleWhoAmI() gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		c.JSON(http.StatusOK, agent)
	}
}

// --- repositories ------------------------------------------------------------

func handleCreateRepo(coord *coordinator.Coordinator, cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		var req coordinator.CreateRepositoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		req.OwnerAgentID = agent.ID
		repo, err := coord.CreateRepository(c.Request.Context(), req)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, repo)
	}
}

func handleListRepos(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		repos, err := coord.ListRepositories(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, repos)
	}
}

func handleGetRepo(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		repo, err := coord.GetRepository(c.Request.Context(), c.Param("repoID"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, repo)
	}
}

// --- streams -----------------------------------------------------------------

func handleCreateStream(coord *coordinator.Coordinator, cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		repoID := c.Param("repoID")
		var req struct {
			Name           string `json:"name" binding:"required"`
			BaseBranch     string `json:"base_branch"`
			ParentStreamID string `json:"parent_stream_id"`
			TaskID         string `json:"task_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		if req.BaseBranch == "" {
			req.BaseBranch = "main"
		}
		rPath := repoPath(cfg, repoID)
		stream, err := coord.CreateWorkspace(c.Request.Context(), rPath, worktreePathFor(cfg, repoID, req.Name), agent.ID,
			streamtracker.CreateStreamRequest{
				RepoID:         repoID,
				Name:           req.Name,
				BaseBranch:     req.BaseBranch,
				ParentStreamID: req.ParentStreamID,
				TaskID:         req.TaskID,
			})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stream)
	}
}

func handleListStreams(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		repoID := c.Param("repoID")
		agents, err := coord.ListAgents(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		var streams []domain.Stream
		for _, a := range agents {
			stream, err := coord.Rows.ActiveStreamForAgent(c.Request.Context(), repoID, a.ID)
			if err != nil || stream == nil {
				continue
			}
			streams = append(streams, *stream)
		}
		c.JSON(http.StatusOK, streams)
	}
}

func handleSubmitReview(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		var req struct {
			Verdict  domain.ReviewVerdict `json:"verdict" binding:"required"`
			Feedback string               `json:"feedback"`
			Tested   bool                 `json:"tested"`
			Human    bool                 `json:"human"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		review, err := coord.SubmitReview(c.Request.Context(), agent.ID, c.Param("streamID"), req.Verdict, req.Feedback, req.Tested, req.Human)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, review)
	}
}

func handleConsensus(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		stream, err := coord.Rows.GetStream(c.Request.Context(), c.Param("streamID"))
		if err != nil {
			writeError(c, err)
			return
		}
		result, err := coord.CheckConsensus(c.Request.Context(), stream)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handleRequestMerge(coord *coordinator.Coordinator, cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		stream, err := coord.Rows.GetStream(c.Request.Context(), c.Param("streamID"))
		if err != nil {
			writeError(c, err)
			return
		}
		entry, err := coord.RequestMerge(c.Request.Context(), stream, agent.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		repo, err := coord.GetRepository(c.Request.Context(), stream.RepoID)
		if err != nil {
			writeError(c, err)
			return
		}
		coord.Worker(c.Request.Context(), repo, repoPath(cfg, repo.ID))
		c.JSON(http.StatusAccepted, entry)
	}
}

// --- stabilize / promote -----------------------------------------------------

func handleStabilize(coord *coordinator.Coordinator, cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		repo, err := coord.GetRepository(c.Request.Context(), c.Param("repoID"))
		if err != nil {
			writeError(c, err)
			return
		}
		result, err := coord.Stabilize(c.Request.Context(), repoPath(cfg, repo.ID), repo)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func handlePromote(coord *coordinator.Coordinator, cfg *config.ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		repo, err := coord.GetRepository(c.Request.Context(), c.Param("repoID"))
		if err != nil {
			writeError(c, err)
			return
		}
		sha, err := coord.Promote(c.Request.Context(), repoPath(cfg, repo.ID), repo)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sha": sha})
	}
}

// --- task market -------------------------------------------------------------

func handleCreateTask(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		repoID := c.Param("repoID")
		var req struct {
			Title       string              `json:"title" binding:"required"`
			Description string              `json:"description"`
			Priority    domain.TaskPriority  `json:"priority"`
			Amount      int                 `json:"amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		if req.Priority == "" {
			req.Priority = domain.PriorityMedium
		}
		task, err := coord.CreateTask(c.Request.Context(), agent.ID, repoID, req.Title, req.Description, req.Priority, req.Amount)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, task)
	}
}

func handleListTasks(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := domain.TaskStatus(c.Query("status"))
		tasks, err := coord.Rows.TasksForRepo(c.Request.Context(), c.Param("repoID"), status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tasks)
	}
}

func handleClaimTask(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		claim, err := coord.ClaimTask(c.Request.Context(), agent.ID, c.Param("taskID"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, claim)
	}
}

func handleSubmitClaim(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Notes string `json:"notes"`
		}
		_ = c.ShouldBindJSON(&req)
		claim, err := coord.SubmitClaim(c.Request.Context(), c.Param("claimID"), req.Notes)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	}
}

func handleReviewClaim(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		var req struct {
			Decision string `json:"decision" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		var decision taskmarket.ReviewDecision
		switch req.Decision {
		case "approve":
			decision = taskmarket.DecisionApprove
		case "reject":
			decision = taskmarket.DecisionReject
		default:
			writeError(c, gwerrors.Validation("decision", "must be approve or reject"))
			return
		}
		claim, err := coord.ReviewClaim(c.Request.Context(), agent.ID, c.Param("claimID"), decision)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, claim)
	}
}

// --- council -----------------------------------------------------------------

func handleCreateCouncil(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			MaxMembers     int `json:"max_members"`
			MinMembers     int `json:"min_members"`
			StandardQuorum int `json:"standard_quorum"`
			CriticalQuorum int `json:"critical_quorum"`
			TermDays       int `json:"term_days"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		council, err := coord.CreateCouncil(c.Request.Context(), c.Param("repoID"), req.MaxMembers, req.MinMembers, req.StandardQuorum, req.CriticalQuorum, req.TermDays)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, council)
	}
}

func handleCreateProposal(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		var req struct {
			CouncilID   string                `json:"council_id" binding:"required"`
			Title       string                `json:"title" binding:"required"`
			Type        domain.ProposalType   `json:"type" binding:"required"`
			ActionData  map[string]any        `json:"action_data"`
			ExpiresInHr int                   `json:"expires_in_hours"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		if req.ExpiresInHr <= 0 {
			req.ExpiresInHr = 72
		}
		if req.ActionData == nil {
			req.ActionData = map[string]any{}
		}
		if req.ActionData["repo_id"] == nil {
			req.ActionData["repo_id"] = c.Param("repoID")
		}
		expiresAt := time.Now().Add(time.Duration(req.ExpiresInHr) * time.Hour).UnixMilli()
		proposal, err := coord.ProposeCouncilAction(c.Request.Context(), req.CouncilID, agent.ID, req.Title, req.Type, req.ActionData, expiresAt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, proposal)
	}
}

func handleVote(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		agent, _ := currentAgent(c)
		var req struct {
			Choice domain.VoteChoice `json:"choice" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, gwerrors.Validation("body", err.Error()))
			return
		}
		proposal, executed, err := coord.VoteOnProposal(c.Request.Context(), c.Param("proposalID"), agent.ID, req.Choice)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"proposal": proposal, "executed": executed})
	}
}

// --- activity ----------------------------------------------------------------

func handleActivity(coord *coordinator.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := coord.RecentActivity(c.Request.Context(), c.Param("repoID"), 50)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, events)
	}
}
