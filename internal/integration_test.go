package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/activity"
	"hub-activity-backend/internal/api"
	"hub-activity-backend/internal/db"
	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/pool"
	"hub-activity-backend/internal/sampler"
	"hub-activity-backend/internal/stats"
	"hub-activity-backend/internal/store"
	"hub-activity-backend/internal/tenant"
	"hub-activity-backend/internal/volumes"
)

const mib = 1024 * 1024

// fakeHub serves the subset of the hub REST API the backend reads: the
// paginated user list and token lookup.
type fakeHub struct {
	mu           sync.Mutex
	aliceRunning bool
	aliceActive  time.Time
}

func (h *fakeHub) setAlice(running bool, lastActivity time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aliceRunning = running
	h.aliceActive = lastActivity
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/user":
		if r.Header.Get("Authorization") != "token admin-secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"name":"root","admin":true,"servers":{}}`)
	case "/users":
		h.mu.Lock()
		la := h.aliceActive.UTC().Format(time.RFC3339Nano)
		running := h.aliceRunning
		h.mu.Unlock()
		fmt.Fprintf(w, `{
			"items": [
				{"name": "alice", "admin": false, "last_activity": %q,
				 "servers": {"": {"name": "", "ready": %t, "last_activity": %q}}},
				{"name": "bob", "admin": false, "last_activity": null, "servers": {}}
			],
			"_pagination": {"offset": 0, "limit": 200, "total": 2, "next": null}
		}`, la, running, la)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type fakeDocker struct{}

func (fakeDocker) ContainerUsage(ctx context.Context, name string) (*docker.Usage, error) {
	if name != "jupyter-alice" {
		return nil, docker.ErrNotFound
	}
	return &docker.Usage{
		CPUTotal:       200,
		PreCPUTotal:    100,
		SystemTotal:    2000,
		PreSystemTotal: 1000,
		OnlineCPUs:     2,
		MemoryUsage:    512 * mib,
		MemoryLimit:    1024 * mib,
	}, nil
}

func (fakeDocker) VolumeUsage(ctx context.Context) ([]docker.VolumeUsage, error) {
	return []docker.VolumeUsage{
		{Name: "jupyter-alice_home", SizeBytes: 100 * mib},
		{Name: "jupyter-alice_workspace", SizeBytes: 50 * mib},
		{Name: "unrelated", SizeBytes: 10 * mib},
	}, nil
}

func (fakeDocker) RestartContainer(ctx context.Context, name string, stopTimeout time.Duration) error {
	return nil
}

func (fakeDocker) RemoveVolume(ctx context.Context, name string) error { return nil }

// TestActivityLifecycle samples a tenant while its server runs and after it
// stops, then reads the admin activity view through the HTTP API.
func TestActivityLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := &fakeHub{}
	hubServer := httptest.NewServer(hub)
	defer hubServer.Close()

	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitPerSec: 100, RateLimitBurst: 100},
		Hub:    config.HubConfig{APIURL: hubServer.URL, APIToken: "service-secret", AuthCacheSeconds: 60},
		Activity: config.ActivityConfig{
			Enabled:               true,
			SampleIntervalSeconds: config.DefaultSampleInterval,
			RetentionDays:         config.DefaultRetentionDays,
			HalfLifeHours:         config.DefaultHalfLifeHours,
			InactiveAfterMinutes:  config.DefaultInactiveAfter,
		},
		Volumes: config.VolumesConfig{UpdateIntervalSeconds: 3600, Suffixes: []string{"home", "workspace"}},
		Docker:  config.DockerConfig{NamePrefix: "jupyter-", CallTimeoutSeconds: 5, StatsCacheSeconds: 10},
		Session: config.SessionConfig{CullerEnabled: true, TimeoutSeconds: 3600, MaxExtensionHours: 4},
	}

	activityDB, err := db.InitActivity(filepath.Join(t.TempDir(), "activity.sqlite"))
	require.NoError(t, err)
	sqlDB, _ := activityDB.DB()
	defer sqlDB.Close()

	monitor := activity.NewMonitor(store.NewGormSampleStore(activityDB), cfg.Activity)
	hubAPI := tenant.NewHubAPI(cfg.Hub)
	naming := docker.Naming{Prefix: cfg.Docker.NamePrefix}

	workers := pool.New(2, cfg.Docker.CallTimeout())
	workers.Start(ctx)
	volumeCache := volumes.New(fakeDocker{}, workers, naming, cfg.Volumes.Interval())
	require.True(t, volumeCache.Refresh(ctx))

	activitySampler := sampler.New(hubAPI, monitor, cfg.Activity)
	handler := api.NewHandler(api.Deps{
		Monitor:   monitor,
		Sampler:   activitySampler,
		Directory: hubAPI,
		State:     tenant.NewMemoryState(),
		Orch:      fakeDocker{},
		Pool:      workers,
		Stats:     stats.NewFetcher(fakeDocker{}, workers, naming, 10*time.Second),
		Volumes:   volumeCache,
		Naming:    naming,
		Session:   cfg.Session,
		Suffixes:  cfg.Volumes.Suffixes,
	})
	router := api.NewRouter(handler, hubAPI, cfg)

	type row struct {
		Username        string             `json:"username"`
		ServerActive    bool               `json:"server_active"`
		RecentlyActive  bool               `json:"recently_active"`
		CPUPercent      *float64           `json:"cpu_percent"`
		MemoryMB        *float64           `json:"memory_mb"`
		ActivityScore   *int               `json:"activity_score"`
		SampleCount     int                `json:"sample_count"`
		VolumeSizeMB    float64            `json:"volume_size_mb"`
		VolumeBreakdown map[string]float64 `json:"volume_breakdown"`
	}
	getActivity := func(t *testing.T) map[string]row {
		req := httptest.NewRequest(http.MethodGet, "/hub/api/activity", nil)
		req.Header.Set("Authorization", "token admin-secret")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Users []row `json:"users"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		rows := make(map[string]row, len(resp.Users))
		for _, u := range resp.Users {
			rows[u.Username] = u
		}
		return rows
	}

	t.Run("Cycle 1: server running and in use", func(t *testing.T) {
		hub.setAlice(true, time.Now().Add(-time.Minute))

		counts, err := activitySampler.SampleOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, sampler.Counts{Total: 2, Active: 1, Offline: 1}, counts)

		rows := getActivity(t)
		alice := rows["alice"]
		assert.True(t, alice.ServerActive)
		assert.True(t, alice.RecentlyActive)
		require.NotNil(t, alice.ActivityScore)
		assert.Equal(t, 100, *alice.ActivityScore)
		require.NotNil(t, alice.CPUPercent)
		assert.Equal(t, 20.0, *alice.CPUPercent)
		assert.Equal(t, 512.0, *alice.MemoryMB)
		assert.Equal(t, 150.0, alice.VolumeSizeMB)
		assert.Equal(t, map[string]float64{"home": 100, "workspace": 50}, alice.VolumeBreakdown)

		bob := rows["bob"]
		require.NotNil(t, bob.ActivityScore)
		assert.Equal(t, 0, *bob.ActivityScore)
		assert.Equal(t, 1, bob.SampleCount)
	})

	t.Run("Cycle 2: server stopped", func(t *testing.T) {
		hub.setAlice(false, time.Now().Add(-time.Minute))

		counts, err := activitySampler.SampleOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, sampler.Counts{Total: 2, Offline: 2}, counts)

		rows := getActivity(t)
		alice := rows["alice"]
		assert.False(t, alice.ServerActive)
		assert.False(t, alice.RecentlyActive)
		assert.Nil(t, alice.CPUPercent)
		assert.Equal(t, 2, alice.SampleCount)
		require.NotNil(t, alice.ActivityScore)
		assert.Equal(t, 50, *alice.ActivityScore)
	})
}
