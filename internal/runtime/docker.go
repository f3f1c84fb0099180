package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"agentplane/pkg/apperr"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

const statsSampleInterval = 500 * time.Millisecond

// DockerIsolator runs agents in dedicated containers with hard resource
// limits. This is the backend for enterprise agents.
type DockerIsolator struct {
	client *client.Client
}

// NewDockerIsolator creates the container backend. The client is
// initialized from the standard environment variables (DOCKER_HOST, etc.).
func NewDockerIsolator() (*DockerIsolator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerIsolator{client: cli}, nil
}

func (d *DockerIsolator) Run(ctx context.Context, spec Spec) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	hostConfig := &container.HostConfig{}
	if spec.MemoryLimitMB > 0 {
		hostConfig.Resources = container.Resources{
			Memory: int64(spec.MemoryLimitMB) * 1024 * 1024,
		}
	}

	created, err := d.client.ContainerCreate(ctx, &container.Config{
		Image: spec.Image,
		Cmd:   spec.Command,
		Env:   envList(spec),
		Tty:   true,
	}, hostConfig, nil, nil, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to create container", err)
	}
	defer func() {
		_ = d.client.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
	}()

	start := time.Now()
	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to start container", err)
	}

	peakCh := make(chan int, 1)
	statsCtx, stopStats := context.WithCancel(ctx)
	defer stopStats()
	go func() {
		peakCh <- d.samplePeak(statsCtx, created.ID)
	}()

	exitCode, waitErr := d.wait(runCtx, created.ID)
	elapsed := time.Since(start)
	stopStats()
	peakMB := <-peakCh

	if runCtx.Err() == context.DeadlineExceeded {
		_ = d.client.ContainerKill(context.Background(), created.ID, "KILL")
		return &Result{ExecutionTime: elapsed, MemoryUsedMB: peakMB},
			apperr.New(apperr.CodeExecutionTimeout, "execution timed out")
	}
	if waitErr != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "container wait failed", waitErr)
	}

	output, err := d.readLogs(ctx, created.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to read container logs", err)
	}

	result := &Result{
		Output:        normalizeOutput(output),
		ExitCode:      exitCode,
		ExecutionTime: elapsed,
		MemoryUsedMB:  peakMB,
	}

	if exitCode == 137 && spec.MemoryLimitMB > 0 {
		// OOM-killed by the cgroup limit.
		return result, apperr.Newf(apperr.CodeResourceExhausted, "agent exceeded its %dMB memory limit", spec.MemoryLimitMB)
	}
	if exitCode != 0 {
		return result, apperr.Newf(apperr.CodeExecutionRuntime, "agent exited with code %d: %s", exitCode, tail(output, 512))
	}
	return result, nil
}

// ensureImage pulls the image when it is not present locally.
func (d *DockerIsolator) ensureImage(ctx context.Context, ref string) error {
	_, _, err := d.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}

	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return apperr.Wrapf(apperr.CodeInfrastructure, err, "failed to pull image %s", ref)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (d *DockerIsolator) wait(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// samplePeak polls one-shot container stats until cancelled and returns
// the peak memory usage in MB.
func (d *DockerIsolator) samplePeak(ctx context.Context, containerID string) int {
	ticker := time.NewTicker(statsSampleInterval)
	defer ticker.Stop()

	var peak uint64
	for {
		select {
		case <-ctx.Done():
			return int(peak / (1024 * 1024))
		case <-ticker.C:
			reader, err := d.client.ContainerStatsOneShot(ctx, containerID)
			if err != nil {
				continue
			}
			var stats container.StatsResponse
			decodeErr := json.NewDecoder(reader.Body).Decode(&stats)
			reader.Body.Close()
			if decodeErr != nil {
				continue
			}
			if stats.MemoryStats.Usage > peak {
				peak = stats.MemoryStats.Usage
			}
		}
	}
}

func (d *DockerIsolator) readLogs(ctx context.Context, containerID string) ([]byte, error) {
	logs, err := d.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, err
	}
	defer logs.Close()
	return io.ReadAll(logs)
}
