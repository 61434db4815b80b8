// Package docker implements a container-backed job backend.
//
// Each record becomes one container; the job's status is derived from the
// container's state on every check. The token state machine never sees the
// difference between this backend and the simulator.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"waitpoint/internal/apperrors"
	"waitpoint/internal/job"
)

const (
	labelJobID     = "waitpoint.job.id"
	labelManagedBy = "managed-by"
	managedByValue = "waitpoint"
)

// Backend runs jobs as Docker containers.
type Backend struct {
	client *client.Client
	jobs   job.Store
	logger *slog.Logger
}

// New creates a docker-backed job backend using environment-based client
// configuration (DOCKER_HOST etc.).
func New(jobs job.Store) (*Backend, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Backend{
		client: dockerClient,
		jobs:   jobs,
		logger: slog.With("component", "docker-backend"),
	}, nil
}

// Create pulls the record's image if needed, starts a container for it,
// and persists the job with the container ID in its metadata.
//
// Record data contract: "image" (required), "command" (optional shell
// command string), "env" (optional map of string values).
func (b *Backend) Create(ctx context.Context, rec *job.Record) (*job.Job, error) {
	imageName, _ := rec.Data["image"].(string)
	if imageName == "" {
		return nil, apperrors.Validation("record.data.image", "image is required for the docker backend")
	}

	if err := b.pullImageIfNeeded(ctx, imageName); err != nil {
		return nil, apperrors.Internal("docker.pull", err)
	}

	jobID := rec.ID
	if jobID == "" {
		jobID = job.NewID()
	}

	var cmd []string
	if command, _ := rec.Data["command"].(string); command != "" {
		cmd = []string{"/bin/sh", "-c", command}
	}

	var env []string
	if envMap, ok := rec.Data["env"].(map[string]any); ok {
		for k, v := range envMap {
			env = append(env, fmt.Sprintf("%s=%v", k, v))
		}
	}

	containerConfig := &container.Config{
		Image: imageName,
		Cmd:   cmd,
		Env:   env,
		Labels: map[string]string{
			labelJobID:     jobID,
			labelManagedBy: managedByValue,
		},
	}

	resp, err := b.client.ContainerCreate(ctx, containerConfig, nil, nil, nil, fmt.Sprintf("%s-worker", jobID))
	if err != nil {
		return nil, apperrors.Internal("docker.create", err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		b.removeContainer(ctx, resp.ID)
		return nil, apperrors.Internal("docker.start", err)
	}

	j := &job.Job{
		ID:        jobID,
		Status:    job.StatusInProgress,
		Meta:      map[string]string{"containerId": resp.ID},
		CreatedAt: time.Now().UTC(),
	}
	if err := b.jobs.Put(ctx, j); err != nil {
		b.removeContainer(ctx, resp.ID)
		return nil, err
	}

	b.logger.Info("Container started", "jobId", jobID, "image", imageName, "containerId", resp.ID)
	return j, nil
}

// CheckStatus inspects the job's container and advances the poll count.
// A running container keeps the job IN_PROGRESS; an exited one finishes it,
// COMPLETED on exit code 0 and FAILED otherwise.
func (b *Backend) CheckStatus(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := b.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	j.PollCount++

	if j.Status == job.StatusInProgress {
		status, err := b.containerStatus(ctx, j.Meta["containerId"])
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			now := time.Now().UTC()
			j.Status = status
			j.CompletedAt = &now
			b.logger.Info("Container finished", "jobId", jobID, "status", status)
		}
	}

	if err := b.jobs.Update(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Ready checks that the Docker daemon is reachable.
func (b *Backend) Ready(ctx context.Context) error {
	if _, err := b.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

// Close releases the docker client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) containerStatus(ctx context.Context, containerID string) (job.Status, error) {
	if containerID == "" {
		return "", apperrors.Internal("docker.inspect", fmt.Errorf("job has no container"))
	}

	inspect, err := b.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", apperrors.Internal("docker.inspect", err)
	}

	switch {
	case inspect.State.Running || inspect.State.Restarting:
		return job.StatusInProgress, nil
	case inspect.State.ExitCode == 0:
		return job.StatusCompleted, nil
	default:
		return job.StatusFailed, nil
	}
}

func (b *Backend) pullImageIfNeeded(ctx context.Context, imageName string) error {
	_, err := b.client.ImageInspect(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (b *Backend) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	stopTimeout := 10
	_ = b.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = b.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// Verify Backend implements job.Backend
var _ job.Backend = (*Backend)(nil)
