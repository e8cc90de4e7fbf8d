// Package docker talks to the container orchestrator that runs tenant
// workloads and holds their volumes.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ErrNotFound is returned when the named container or volume does not exist.
var ErrNotFound = errors.New("object not found")

// Usage is one resource-usage snapshot of a container: the current and
// previous CPU counter reads plus memory usage and limit.
type Usage struct {
	CPUTotal       uint64
	PreCPUTotal    uint64
	SystemTotal    uint64
	PreSystemTotal uint64
	OnlineCPUs     uint32
	MemoryUsage    uint64
	MemoryLimit    uint64
}

// VolumeUsage is the disk usage of one volume. SizeBytes is zero when the
// orchestrator did not report a size.
type VolumeUsage struct {
	Name      string
	SizeBytes int64
}

// Orchestrator is the subset of container operations the telemetry engine
// needs. Every call blocks on the orchestrator.
type Orchestrator interface {
	ContainerUsage(ctx context.Context, name string) (*Usage, error)
	VolumeUsage(ctx context.Context) ([]VolumeUsage, error)
	RestartContainer(ctx context.Context, name string, stopTimeout time.Duration) error
	RemoveVolume(ctx context.Context, name string) error
}

// Client implements Orchestrator with the Docker Engine API.
type Client struct {
	cli *client.Client
}

// NewClient creates a Docker Engine client. An empty host uses the
// environment (DOCKER_HOST) or the default socket. An unreachable daemon is
// logged, not returned.
func NewClient(ctx context.Context, host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}

	// The daemon may come up after us; every call reports its own failure.
	if _, err := cli.Ping(ctx); err != nil {
		log.Printf("Warning: Docker daemon not reachable yet: %v", err)
	} else {
		log.Println("Successfully connected to Docker daemon")
	}
	return &Client{cli: cli}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ContainerUsage reads one non-streaming stats snapshot of the container.
func (c *Client) ContainerUsage(ctx context.Context, name string) (*Usage, error) {
	resp, err := c.cli.ContainerStats(ctx, name, false)
	if err != nil {
		return nil, wrapNotFound(err, "container "+name)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats for %s: %w", name, err)
	}
	return usageFromStats(&stats), nil
}

// VolumeUsage lists every volume with its disk usage.
func (c *Client) VolumeUsage(ctx context.Context) ([]VolumeUsage, error) {
	du, err := c.cli.DiskUsage(ctx, types.DiskUsageOptions{
		Types: []types.DiskUsageObject{types.VolumeObject},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage: %w", err)
	}

	out := make([]VolumeUsage, 0, len(du.Volumes))
	for _, v := range du.Volumes {
		if v == nil {
			continue
		}
		vu := VolumeUsage{Name: v.Name}
		// Size is -1 when the daemon has not computed it.
		if v.UsageData != nil && v.UsageData.Size > 0 {
			vu.SizeBytes = v.UsageData.Size
		}
		out = append(out, vu)
	}
	return out, nil
}

// RestartContainer stops the container, waiting up to stopTimeout before
// killing it, and starts it again.
func (c *Client) RestartContainer(ctx context.Context, name string, stopTimeout time.Duration) error {
	timeout := int(stopTimeout.Seconds())
	if err := c.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		return wrapNotFound(err, "container "+name)
	}
	log.Printf("Container %s restarted", name)
	return nil
}

// RemoveVolume deletes the named volume.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	if err := c.cli.VolumeRemove(ctx, name, false); err != nil {
		return wrapNotFound(err, "volume "+name)
	}
	log.Printf("Volume %s removed", name)
	return nil
}

func wrapNotFound(err error, what string) error {
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func usageFromStats(s *container.StatsResponse) *Usage {
	return &Usage{
		CPUTotal:       s.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotal:    s.PreCPUStats.CPUUsage.TotalUsage,
		SystemTotal:    s.CPUStats.SystemUsage,
		PreSystemTotal: s.PreCPUStats.SystemUsage,
		OnlineCPUs:     s.CPUStats.OnlineCPUs,
		MemoryUsage:    s.MemoryStats.Usage,
		MemoryLimit:    s.MemoryStats.Limit,
	}
}
