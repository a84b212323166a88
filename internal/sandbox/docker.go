package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// dockerAPI is the subset of *client.Client the runner needs.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// DockerRunner starts one throwaway container per run from an image whose
// entrypoint is the netdemo-sandbox binary.
type DockerRunner struct {
	api   dockerAPI
	image string
}

// NewDockerRunner connects to the daemon described by the DOCKER_* environment.
func NewDockerRunner(image string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRunner{api: cli, image: image}, nil
}

func (r *DockerRunner) Close() error {
	return r.api.Close()
}

// Available checks the daemon answers and the sandbox image is present. The
// image is never pulled implicitly.
func (r *DockerRunner) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := r.api.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, _, err := r.api.ImageInspectWithRaw(ctx, r.image); err != nil {
		return fmt.Errorf("%w: image %s: %v", ErrUnavailable, r.image, err)
	}
	return nil
}

func (r *DockerRunner) Run(ctx context.Context, spec RunSpec) (*RunOutcome, error) {
	cfg, hostCfg := r.buildContainerConfig(spec)
	resp, err := r.api.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	id := resp.ID
	// Cleanup must survive the run context expiring.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
	}()

	statusCh, errCh := r.api.ContainerWait(ctx, id, container.WaitConditionNextExit)
	if err := r.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	out := &RunOutcome{ExitCode: -1}
	exited := false
	select {
	case st := <-statusCh:
		out.ExitCode = int(st.StatusCode)
		exited = true
	case err := <-errCh:
		if ctx.Err() == nil {
			return nil, fmt.Errorf("failed to wait for container: %w", err)
		}
	case <-ctx.Done():
	}
	if !exited {
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.api.ContainerKill(killCtx, id, "KILL")
		cancel()
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("container run interrupted: %w", ctx.Err())
		}
		out.TimedOut = true
	}

	out.Stdout, out.Stderr = r.logs(id)
	return out, nil
}

func (r *DockerRunner) logs(id string) (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rc, err := r.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Sprintf("failed to read container logs: %v", err)
	}
	defer rc.Close()
	var stdout, stderr bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdout, &stderr, io.LimitReader(rc, 4*maxCapturedOutput))
	return stdout.String(), stderr.String()
}

func (r *DockerRunner) buildContainerConfig(spec RunSpec) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image: r.image,
		Env:   []string{DemoIDEnv + "=" + spec.DemoID},
		Cmd:   []string{ContainerInputPath, ContainerOutputPath},
		Tty:   false,
	}
	if !spec.RawNet {
		cfg.User = "nobody"
	}

	memory := spec.Limits.MemoryMB * 1024 * 1024
	pids := spec.Limits.PidsLimit
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: true,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges:true"},
		NetworkMode:    "none",
		Resources: container.Resources{
			NanoCPUs: int64(spec.Limits.CPUs * 1e9),
			Memory:   memory,
			// Equal to Memory: no swap.
			MemorySwap: memory,
		},
		Tmpfs: map[string]string{
			"/tmp": fmt.Sprintf("rw,noexec,nosuid,size=%dm", spec.Limits.ScratchMB),
		},
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   filepath.Join(spec.WorkDir, InputFile),
				Target:   ContainerInputPath,
				ReadOnly: true,
			},
			{
				Type:   mount.TypeBind,
				Source: filepath.Join(spec.WorkDir, OutputDir),
				Target: ContainerOutputDir,
			},
		},
	}
	if pids > 0 {
		hostCfg.Resources.PidsLimit = &pids
	}
	if spec.RawNet {
		hostCfg.CapAdd = []string{"NET_RAW"}
	}
	if spec.NetworkEnabled {
		hostCfg.NetworkMode = "bridge"
	}
	return cfg, hostCfg
}
