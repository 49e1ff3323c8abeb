package sandbox

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// SDKClient adapts the real Docker Engine API client to the narrow
// DockerClient interface the Runner depends on, following
// Aureuma-si/agents/shared/docker/client.go's NewClientWithOpts/
// WithAPIVersionNegotiation connection idiom.
type SDKClient struct {
	api *client.Client
}

// NewSDKClient connects to the local Docker daemon.
func NewSDKClient() (*SDKClient, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &SDKClient{api: api}, nil
}

func (c *SDKClient) Close() error { return c.api.Close() }

// Ping reports whether the Docker daemon is reachable, used by
// GET /sandbox/health?probe=1.
func (c *SDKClient) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx)
	return err
}

func (c *SDKClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *SDKClient) ContainerStart(ctx context.Context, id string) error {
	return c.api.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *SDKClient) ContainerWait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := c.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return 0, err
	case status := <-statusCh:
		return status.StatusCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *SDKClient) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	return c.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
}

func (c *SDKClient) ContainerRemove(ctx context.Context, id string) error {
	return c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (c *SDKClient) ContainerKill(ctx context.Context, id string) error {
	return c.api.ContainerKill(ctx, id, "SIGKILL")
}
