package config

import (
	"fmt"
	"os"
	"strconv"
)

// ServerConfig is the gitswarmd process configuration, loaded entirely from
// the environment (spec.md §6.5) the way a twelve-factor service expects,
// rather than from a file — gitswarmd has no notion of a working directory
// the way the local CLI does.
type ServerConfig struct {
	DatabaseURL   string // GITSWARM_DATABASE_URL (required)
	CacheURL      string // GITSWARM_CACHE_URL (required, redis://...)
	APIPrefix     string // GITSWARM_API_PREFIX (required, e.g. "/api/v1")
	LogLevel      string // GITSWARM_LOG_LEVEL (optional, default "info")
	RateLimitMax  int    // GITSWARM_RATE_LIMIT_DEFAULT_MAX (optional, default 100)
	RateLimitWindowSecs int // GITSWARM_RATE_LIMIT_DEFAULT_WINDOW_SECONDS (optional, default 3600)
	StabilizeImage string // GITSWARM_STABILIZE_IMAGE (optional, image used by dockerrun.Runner)
	ReposRoot      string // GITSWARM_REPOS_ROOT (optional, default "./data/repos"): bare checkouts + worktrees, one directory per repository ID
}

// LoadServerConfig reads and validates ServerConfig from the environment.
func LoadServerConfig() (*ServerConfig, error) {
	c := &ServerConfig{
		DatabaseURL:         os.Getenv("GITSWARM_DATABASE_URL"),
		CacheURL:            os.Getenv("GITSWARM_CACHE_URL"),
		APIPrefix:           os.Getenv("GITSWARM_API_PREFIX"),
		LogLevel:            envOr("GITSWARM_LOG_LEVEL", "info"),
		StabilizeImage:      envOr("GITSWARM_STABILIZE_IMAGE", ""),
		ReposRoot:           envOr("GITSWARM_REPOS_ROOT", "./data/repos"),
		RateLimitMax:        100,
		RateLimitWindowSecs: 3600,
	}

	if v := os.Getenv("GITSWARM_RATE_LIMIT_DEFAULT_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("GITSWARM_RATE_LIMIT_DEFAULT_MAX: %w", err)
		}
		c.RateLimitMax = n
	}
	if v := os.Getenv("GITSWARM_RATE_LIMIT_DEFAULT_WINDOW_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("GITSWARM_RATE_LIMIT_DEFAULT_WINDOW_SECONDS: %w", err)
		}
		c.RateLimitWindowSecs = n
	}

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("GITSWARM_DATABASE_URL is required")
	}
	if c.CacheURL == "" {
		return nil, fmt.Errorf("GITSWARM_CACHE_URL is required")
	}
	if c.APIPrefix == "" {
		c.APIPrefix = "/api/v1"
	}

	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
