package sandbox

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

// DockerRunner runs one execution's snippet in a throwaway container: one
// container per execution, torn down on exit, not a long-lived sandbox
// shared across commands the way the teacher's RunCmd ran one repo-local
// command at a time against a bind-mounted checkout.
type DockerRunner struct {
	client *client.Client
	config Config
}

// NewDockerRunner creates a new Docker-based runner.
func NewDockerRunner(cfg Config) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon not accessible: %w", err)
	}

	return &DockerRunner{client: cli, config: cfg}, nil
}

// Run launches spec's command in a fresh, auto-removed container: no
// network unless spec.NetHosts grants it, read-only root filesystem, the
// scratch directory mounted read-only, explicit read/write path grants
// bind-mounted individually, and the memory ceiling from spec (falling
// back to the runner's configured default).
func (r *DockerRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.config.CmdTimeout
	}

	imageName := spec.Image
	if imageName == "" {
		imageName = r.config.DockerImage
	}
	if err := r.ensureImage(ctx, imageName); err != nil {
		return Result{}, fmt.Errorf("failed to ensure image %s: %w", imageName, err)
	}

	memBytes := spec.MemoryLimitBytes
	if memBytes <= 0 {
		memBytes = r.config.MemoryLimitBytes
	}

	containerConfig := &container.Config{
		Image:           imageName,
		Cmd:             append([]string{spec.Command}, spec.Args...),
		WorkingDir:      "/scratch",
		User:            "1000:1000",
		Env:             envSlice(spec.Env),
		NetworkDisabled: len(spec.NetHosts) == 0,
	}

	hostConfig := &container.HostConfig{
		Mounts:         bindMounts(spec),
		Resources:      container.Resources{Memory: memBytes},
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,nosuid,size=64m"},
		AutoRemove:     true,
	}

	createResp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := createResp.ID

	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.client.ContainerRemove(removeCtx, containerID, container.RemoveOptions{Force: true})
	}()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.client.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := r.client.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case <-execCtx.Done():
		killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer killCancel()
		_ = r.client.ContainerKill(killCtx, containerID, "SIGKILL")
		logs, _ := r.readLogs(context.Background(), containerID)
		stdout, stderr := parseDockerLogs(logs)
		return Result{Stdout: stdout, Stderr: stderr, Code: 1, TimedOut: true}, nil
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("container wait error: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := r.readLogs(ctx, containerID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	stdout, stderr := parseDockerLogs(logs)

	return Result{Stdout: stdout, Stderr: stderr, Code: int(exitCode)}, nil
}

func (r *DockerRunner) readLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return r.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "all"})
}

func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func bindMounts(spec Spec) []mount.Mount {
	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: spec.ScratchDir, Target: "/scratch", ReadOnly: true},
	}
	for _, p := range spec.ReadPaths {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: p, Target: p, ReadOnly: true})
	}
	for _, p := range spec.WritePaths {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: p, Target: p, ReadOnly: false})
	}
	return mounts
}

// ensureImage checks if the image exists locally, and pulls it if not.
func (r *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	if _, _, err := r.client.ImageInspectWithRaw(ctx, imageName); err == nil {
		return nil
	}
	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

// parseDockerLogs separates Docker's multiplexed stdout/stderr stream:
// each frame is an 8-byte header ([stream type][3 reserved][4-byte size,
// big-endian]) followed by that many bytes of payload.
func parseDockerLogs(reader io.Reader) (stdout, stderr string) {
	if reader == nil {
		return "", ""
	}
	var stdoutParts, stderrParts []string

	for {
		header := make([]byte, 8)
		n, err := io.ReadFull(reader, header)
		if n < 8 || err != nil {
			break
		}

		streamType := header[0]
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size <= 0 || size > 10*1024*1024 {
			continue
		}

		payload := make([]byte, size)
		n, err = io.ReadFull(reader, payload)
		if n != size {
			break
		}

		content := strings.TrimSuffix(string(payload), "\n")
		switch streamType {
		case 1:
			stdoutParts = append(stdoutParts, content)
		case 2:
			stderrParts = append(stderrParts, content)
		}
		if err != nil {
			break
		}
	}

	return strings.Join(stdoutParts, "\n"), strings.Join(stderrParts, "\n")
}
