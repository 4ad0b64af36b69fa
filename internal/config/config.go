// Package config loads gitswarm's two deployment configurations: the local
// per-repository ./.gitswarm/config.json (spec.md §6.3) written by `gitswarm
// init`, and the server deployment's environment variables (spec.md §6.5).
// Modelled on dyluth-holt/internal/config.HoltConfig's load/validate/default
// shape, with JSON in place of the teacher's YAML since that is the wire
// format spec.md mandates for the local config.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dyluth/gitswarm/internal/domain"
)

// LocalConfig is the persisted shape of ./.gitswarm/config.json.
type LocalConfig struct {
	Version              string                   `json:"version"`
	RepositoryID         string                   `json:"repository_id,omitempty"`
	RepositoryName       string                   `json:"repository_name"`
	OwnershipModel       domain.OwnershipModel    `json:"ownership_model"`
	MergeMode            domain.MergeMode         `json:"merge_mode"`
	AgentAccess          domain.AgentAccessPolicy `json:"agent_access"`
	MinKarma             int                      `json:"min_karma"`
	ConsensusThreshold   float64                  `json:"consensus_threshold"`
	MinReviews           int                      `json:"min_reviews"`
	HumanReviewWeight    float64                  `json:"human_review_weight"`
	BufferBranch         string                   `json:"buffer_branch"`
	PromoteTarget        string                   `json:"promote_target"`
	StabilizeCommand     string                   `json:"stabilize_command"`
	StabilizeTimeoutSecs int                      `json:"stabilize_timeout_seconds"`
	StabilizeInContainer bool                     `json:"stabilize_in_container"`
	AutoPromoteOnGreen   bool                     `json:"auto_promote_on_green"`
	AutoRevertOnRed      bool                     `json:"auto_revert_on_red"`
	ConsensusAuthority   domain.ConsensusAuthority `json:"consensus_authority"`
	ServerURL            string                   `json:"server_url,omitempty"`
}

const configVersion = "1.0"

// DefaultConfigPath is where `gitswarm init` writes LocalConfig, relative to
// the git repository root.
const DefaultConfigPath = ".gitswarm/config.json"

// Default returns the configuration `gitswarm init` writes when the caller
// supplies no overrides, mirroring the defaulting dyluth-holt's
// HoltConfig.Validate applies when optional YAML sections are absent.
func Default(repoName string) *LocalConfig {
	return &LocalConfig{
		Version:              configVersion,
		RepositoryName:       repoName,
		OwnershipModel:       domain.OwnershipSolo,
		MergeMode:            domain.MergeModeSwarm,
		AgentAccess:          domain.AccessPublic,
		MinKarma:             0,
		ConsensusThreshold:   0.5,
		MinReviews:           1,
		HumanReviewWeight:    1.0,
		BufferBranch:         "buffer",
		PromoteTarget:        "main",
		StabilizeCommand:     "",
		StabilizeTimeoutSecs: 600,
		ConsensusAuthority:   domain.AuthorityLocal,
	}
}

// Load reads and validates the local config at path.
func Load(path string) (*LocalConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c LocalConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c to path as indented JSON, creating the file (and its
// .gitswarm directory must already exist — callers create it via init).
func Save(path string, c *LocalConfig) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate performs strict validation on the configuration, in the spirit
// of dyluth-holt's HoltConfig.Validate, and fills in safe defaults for
// fields a hand-edited config left zero-valued.
func (c *LocalConfig) Validate() error {
	if c.Version != configVersion {
		return fmt.Errorf("unsupported config version: %s (expected %s)", c.Version, configVersion)
	}
	if c.RepositoryName == "" {
		return fmt.Errorf("repository_name is required")
	}
	switch c.OwnershipModel {
	case domain.OwnershipSolo, domain.OwnershipGuild, domain.OwnershipOpen:
	default:
		return fmt.Errorf("invalid ownership_model: %s", c.OwnershipModel)
	}
	switch c.MergeMode {
	case domain.MergeModeSwarm, domain.MergeModeReview, domain.MergeModeGated:
	default:
		return fmt.Errorf("invalid merge_mode: %s", c.MergeMode)
	}
	if c.ConsensusThreshold < 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be in [0,1], got %f", c.ConsensusThreshold)
	}
	if c.MinReviews < 0 {
		return fmt.Errorf("min_reviews must be >= 0")
	}
	if c.BufferBranch == "" || c.PromoteTarget == "" {
		return fmt.Errorf("buffer_branch and promote_target are required")
	}
	if c.StabilizeTimeoutSecs <= 0 {
		c.StabilizeTimeoutSecs = 600
	}
	return nil
}
