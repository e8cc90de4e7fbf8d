package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/pool"
)

// mockOrchestrator is a docker.Orchestrator whose container reads are
// served by UsageFunc.
type mockOrchestrator struct {
	UsageFunc func(ctx context.Context, name string) (*docker.Usage, error)
}

func (m *mockOrchestrator) ContainerUsage(ctx context.Context, name string) (*docker.Usage, error) {
	return m.UsageFunc(ctx, name)
}

func (m *mockOrchestrator) VolumeUsage(context.Context) ([]docker.VolumeUsage, error) {
	return nil, nil
}

func (m *mockOrchestrator) RestartContainer(context.Context, string, time.Duration) error {
	return nil
}

func (m *mockOrchestrator) RemoveVolume(context.Context, string) error {
	return nil
}

func TestCompute(t *testing.T) {
	testCases := []struct {
		name     string
		usage    docker.Usage
		expected Stats
	}{
		{
			name: "Four CPUs, ten percent of host delta",
			usage: docker.Usage{
				CPUTotal: 400, PreCPUTotal: 300,
				SystemTotal: 2000, PreSystemTotal: 1000,
				OnlineCPUs:  4,
				MemoryUsage: 256 * bytesPerMB, MemoryLimit: 1024 * bytesPerMB,
			},
			expected: Stats{CPUPercent: 40, MemoryMB: 256, MemoryPercent: 25},
		},
		{
			name: "Missing online CPU count counts as one",
			usage: docker.Usage{
				CPUTotal: 400, PreCPUTotal: 300,
				SystemTotal: 2000, PreSystemTotal: 1000,
			},
			expected: Stats{CPUPercent: 10},
		},
		{
			name: "Zero system delta",
			usage: docker.Usage{
				CPUTotal: 400, PreCPUTotal: 300,
				SystemTotal: 1000, PreSystemTotal: 1000,
				OnlineCPUs: 2,
			},
			expected: Stats{CPUPercent: 0},
		},
		{
			name: "CPU counter went backwards",
			usage: docker.Usage{
				CPUTotal: 100, PreCPUTotal: 300,
				SystemTotal: 2000, PreSystemTotal: 1000,
				OnlineCPUs: 2,
			},
			expected: Stats{CPUPercent: 0},
		},
		{
			name:     "No memory limit",
			usage:    docker.Usage{MemoryUsage: 1572864},
			expected: Stats{MemoryMB: 1.5},
		},
		{
			name: "Rounded to one decimal",
			usage: docker.Usage{
				CPUTotal: 1, PreCPUTotal: 0,
				SystemTotal: 3, PreSystemTotal: 0,
				OnlineCPUs:  1,
				MemoryUsage: 1, MemoryLimit: 3,
			},
			expected: Stats{CPUPercent: 33.3, MemoryMB: 0, MemoryPercent: 33.3},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Compute(&tc.usage))
		})
	}
}

func newTestFetcher(t *testing.T, orch docker.Orchestrator, ttl time.Duration) *Fetcher {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p := pool.New(2, time.Second)
	p.Start(ctx)
	return NewFetcher(orch, p, docker.Naming{Prefix: "jupyterlab-"}, ttl)
}

func TestFetcher_Get(t *testing.T) {
	var calls atomic.Int32
	orch := &mockOrchestrator{UsageFunc: func(_ context.Context, name string) (*docker.Usage, error) {
		calls.Add(1)
		if name != "jupyterlab-user-2ename" {
			return nil, docker.ErrNotFound
		}
		return &docker.Usage{MemoryUsage: 512 * bytesPerMB, MemoryLimit: 1024 * bytesPerMB}, nil
	}}
	f := newTestFetcher(t, orch, 0)

	s := f.Get(context.Background(), "user.name")
	require.NotNil(t, s)
	assert.Equal(t, 512.0, s.MemoryMB)
	assert.Equal(t, 50.0, s.MemoryPercent)

	assert.Nil(t, f.Get(context.Background(), "ghost"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetcher_ErrorYieldsNil(t *testing.T) {
	orch := &mockOrchestrator{UsageFunc: func(context.Context, string) (*docker.Usage, error) {
		return nil, errors.New("Cannot connect to the Docker daemon")
	}}
	f := newTestFetcher(t, orch, 0)
	assert.Nil(t, f.Get(context.Background(), "alice"))
}

func TestFetcher_TimeoutYieldsNil(t *testing.T) {
	orch := &mockOrchestrator{UsageFunc: func(ctx context.Context, _ string) (*docker.Usage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := pool.New(1, 30*time.Millisecond)
	p.Start(ctx)
	f := NewFetcher(orch, p, docker.Naming{Prefix: "jupyterlab-"}, 0)

	assert.Nil(t, f.Get(context.Background(), "alice"))
}

func TestFetcher_CachesResults(t *testing.T) {
	var calls atomic.Int32
	orch := &mockOrchestrator{UsageFunc: func(context.Context, string) (*docker.Usage, error) {
		calls.Add(1)
		return &docker.Usage{MemoryUsage: bytesPerMB, MemoryLimit: 2 * bytesPerMB}, nil
	}}
	f := newTestFetcher(t, orch, time.Minute)

	for i := 0; i < 3; i++ {
		require.NotNil(t, f.Get(context.Background(), "alice"))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcher_CoalescesConcurrentReads(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	orch := &mockOrchestrator{UsageFunc: func(context.Context, string) (*docker.Usage, error) {
		calls.Add(1)
		<-release
		return &docker.Usage{}, nil
	}}
	f := newTestFetcher(t, orch, 0)

	var wg sync.WaitGroup
	results := make([]*Stats, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Get(context.Background(), "alice")
		}(i)
	}
	// Give every goroutine time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.NotNil(t, r)
	}
}
