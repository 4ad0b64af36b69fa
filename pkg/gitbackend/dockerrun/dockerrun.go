// Package dockerrun runs a repository's stabilization command inside a
// throwaway container instead of the host shell, for repositories configured
// with Repository.StabilizeInContainer (spec.md §4.E). Grounded on
// dyluth-holt/internal/docker.NewClient's daemon-validated client
// construction, generalised from instance lifecycle management to a single
// run-to-completion container.
package dockerrun

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/dyluth/gitswarm/pkg/gwerrors"
)

// Runner executes stabilization commands inside disposable containers.
type Runner struct {
	cli   *client.Client
	image string
}

// New creates a Docker client and validates the daemon is reachable before
// returning, the way dyluth-holt/internal/docker.NewClient does.
func New(ctx context.Context, image string) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, gwerrors.Unavailable("docker client", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, gwerrors.Unavailable("docker daemon", err)
	}
	return &Runner{cli: cli, image: image}, nil
}

// Run starts a container mounting hostWorktreePath at /workspace, runs
// command inside it, and returns the combined output and exit code.
func (r *Runner) Run(ctx context.Context, hostWorktreePath, command string) (string, int, error) {
	cfg := &container.Config{
		Image:      r.image,
		Cmd:        []string{"sh", "-c", command},
		WorkingDir: "/workspace",
		Tty:        false,
	}
	hostCfg := &container.HostConfig{
		Binds: []string{hostWorktreePath + ":/workspace"},
	}

	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", -1, gwerrors.GitBackend("stabilize container create", err)
	}
	defer r.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", -1, gwerrors.GitBackend("stabilize container start", err)
	}

	statusCh, errCh := r.cli.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return "", -1, gwerrors.GitBackend("stabilize container wait", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.cli.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", int(exitCode), gwerrors.GitBackend("stabilize container logs", err)
	}
	defer logs.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, logs); err != nil {
		return "", int(exitCode), fmt.Errorf("read container logs: %w", err)
	}

	return buf.String(), int(exitCode), nil
}

func (r *Runner) Close() error { return r.cli.Close() }
