package commands

import (
	"encoding/json"
	"net/http"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/internal/config"
	"github.com/dyluth/gitswarm/internal/domain"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

var configPull bool

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or edit the local governance configuration",
	Args:  cobra.MaximumNArgs(2),
	RunE:  runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configPull, "pull", false, "refresh governance settings from the configured server")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	path := filepath.Join(gitswarmDir(repoPathFlag), "config.json")
	cfg, err := config.Load(path)
	if err != nil {
		return gwerrors.Validation("repo", "not a gitswarm repository (run `gitswarm init` first): "+err.Error())
	}

	if configPull {
		if err := pullConfig(cfg); err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return gwerrors.Internal("write config", err)
		}
		cliprint.Success("Pulled governance settings from %s", cfg.ServerURL)
	}

	switch len(args) {
	case 0:
		return printConfig(cfg)
	case 1:
		return printConfigKey(cfg, args[0])
	default:
		if err := setConfigKey(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return gwerrors.Validation(args[0], err.Error())
		}
		if err := config.Save(path, cfg); err != nil {
			return gwerrors.Internal("write config", err)
		}
		cliprint.Success("Set %s = %s", args[0], args[1])
		return nil
	}
}

// pullConfig refreshes the local governance settings from the server's
// repository record (spec.md §6.1 `GET /repos/:id`).
func pullConfig(cfg *config.LocalConfig) error {
	if cfg.ServerURL == "" {
		return gwerrors.Validation("server_url", "no server configured; set it with `gitswarm config server_url <url>` first")
	}
	if cfg.RepositoryID == "" {
		return gwerrors.Validation("repository_id", "repository not yet registered with a server")
	}
	resp, err := http.Get(cfg.ServerURL + "/api/v1/repos/" + cfg.RepositoryID)
	if err != nil {
		return gwerrors.Unavailable("gitswarmd", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return gwerrors.Unavailable("gitswarmd", gwerrors.New(gwerrors.CodeInternal, "unexpected status "+resp.Status))
	}
	var repo domain.Repository
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return gwerrors.Internal("decode server response", err)
	}
	cfg.OwnershipModel = repo.OwnershipModel
	cfg.MergeMode = repo.MergeMode
	cfg.AgentAccess = repo.AgentAccess
	cfg.MinKarma = repo.MinKarma
	cfg.ConsensusThreshold = repo.ConsensusThreshold
	cfg.MinReviews = repo.MinReviews
	cfg.HumanReviewWeight = repo.HumanReviewWeight
	cfg.BufferBranch = repo.BufferBranch
	cfg.PromoteTarget = repo.PromoteTarget
	cfg.StabilizeCommand = repo.StabilizeCommand
	cfg.StabilizeTimeoutSecs = repo.StabilizeTimeoutS
	return nil
}

func printConfig(cfg *config.LocalConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return gwerrors.Internal("marshal config", err)
	}
	cliprint.Println(string(b))
	return nil
}

func printConfigKey(cfg *config.LocalConfig, key string) error {
	v, err := configField(cfg, key)
	if err != nil {
		return err
	}
	cliprint.Println(v)
	return nil
}

// configField and setConfigKey expose the handful of LocalConfig fields
// that are reasonable to read or edit one at a time from the CLI.
func configField(cfg *config.LocalConfig, key string) (string, error) {
	switch key {
	case "repository_name":
		return cfg.RepositoryName, nil
	case "ownership_model":
		return string(cfg.OwnershipModel), nil
	case "merge_mode":
		return string(cfg.MergeMode), nil
	case "buffer_branch":
		return cfg.BufferBranch, nil
	case "promote_target":
		return cfg.PromoteTarget, nil
	case "stabilize_command":
		return cfg.StabilizeCommand, nil
	case "server_url":
		return cfg.ServerURL, nil
	default:
		return "", gwerrors.Validation("key", "unknown config key: "+key)
	}
}

func setConfigKey(cfg *config.LocalConfig, key, value string) error {
	switch key {
	case "repository_name":
		cfg.RepositoryName = value
	case "ownership_model":
		cfg.OwnershipModel = parseOwnership(value)
	case "merge_mode":
		cfg.MergeMode = domain.MergeMode(value)
	case "buffer_branch":
		cfg.BufferBranch = value
	case "promote_target":
		cfg.PromoteTarget = value
	case "stabilize_command":
		cfg.StabilizeCommand = value
	case "server_url":
		cfg.ServerURL = value
	default:
		return gwerrors.Validation("key", "unknown or read-only config key: "+key)
	}
	return nil
}
