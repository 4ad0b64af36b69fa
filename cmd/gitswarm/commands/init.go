package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dyluth/gitswarm/internal/cliprint"
	"github.com/dyluth/gitswarm/internal/config"
	"github.com/dyluth/gitswarm/pkg/gwerrors"
	"github.com/dyluth/gitswarm/pkg/store/embedded"
)

var (
	initRepoName   string
	initForce      bool
	initOwnership  string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a gitswarm repository",
	Long: `Initialize gitswarm governance state in the current git repository.

Creates:
  .gitswarm/config.json - repository governance configuration
  .gitswarm/state.db     - embedded store holding agents, streams, tasks, and
                            the activity log

This command must be run from the root of a git repository.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRepoName, "name", "", "repository name (defaults to the directory name)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "reinitialize an existing gitswarm repository")
	initCmd.Flags().StringVar(&initOwnership, "ownership", "solo", "ownership model: solo, guild, or open")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := gitswarmDir(repoPathFlag)
	configPath := filepath.Join(dir, "config.json")

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return gwerrors.Conflict("gitswarm is already initialized here (use --force to reinitialize)")
	}

	name := initRepoName
	if name == "" {
		abs, err := filepath.Abs(repoPathFlag)
		if err != nil {
			return gwerrors.Internal("resolve repository path", err)
		}
		name = filepath.Base(abs)
	}

	cfg := config.Default(name)
	switch initOwnership {
	case "solo", "guild", "open":
		cfg.OwnershipModel = parseOwnership(initOwnership)
	default:
		return gwerrors.Validation("ownership", "must be one of: solo, guild, open")
	}
	if err := cfg.Validate(); err != nil {
		return gwerrors.Validation("config", err.Error())
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return gwerrors.Internal("create .gitswarm directory", err)
	}
	if err := config.Save(configPath, cfg); err != nil {
		return gwerrors.Internal("write config", err)
	}

	ctx := cmd.Context()
	backend, err := embedded.Open(ctx, dbPath(repoPathFlag))
	if err != nil {
		return err
	}
	defer backend.Close()

	cliprint.Success("Initialized gitswarm repository %q (ownership: %s)", name, cfg.OwnershipModel)
	cliprint.Info("Next: gitswarm agent register <name> --bio \"...\"")
	return nil
}
