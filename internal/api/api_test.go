package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"hub-activity-backend/config"
	"hub-activity-backend/internal/activity"
	"hub-activity-backend/internal/db"
	"hub-activity-backend/internal/docker"
	"hub-activity-backend/internal/pool"
	"hub-activity-backend/internal/sampler"
	"hub-activity-backend/internal/stats"
	"hub-activity-backend/internal/store"
	"hub-activity-backend/internal/tenant"
	"hub-activity-backend/internal/volumes"
)

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

type fakeDirectory struct {
	mu      sync.Mutex
	tenants map[string]tenant.Tenant
	err     error
}

func (d *fakeDirectory) put(t tenant.Tenant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tenants[t.Name] = t
}

func (d *fakeDirectory) List(ctx context.Context) ([]tenant.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := make([]tenant.Tenant, 0, len(d.tenants))
	for _, t := range d.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *fakeDirectory) Get(ctx context.Context, name string) (*tenant.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	t, ok := d.tenants[name]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return &t, nil
}

type fakeAuth map[string]*tenant.Tenant

func (a fakeAuth) Authenticate(ctx context.Context, token string) (*tenant.Tenant, error) {
	if t, ok := a[token]; ok {
		return t, nil
	}
	return nil, tenant.ErrUnauthorized
}

type fakeStats map[string]*stats.Stats

func (f fakeStats) Get(ctx context.Context, username string) *stats.Stats { return f[username] }

type fakeVolumes map[string]volumes.Entry

func (f fakeVolumes) Get() map[string]volumes.Entry { return f }

type fakeSampler struct {
	counts sampler.Counts
	err    error
}

func (f *fakeSampler) SampleOnce(ctx context.Context) (sampler.Counts, error) {
	return f.counts, f.err
}

type fakeOrchestrator struct {
	mu         sync.Mutex
	restartErr error
	removeErrs map[string]error
	restarted  []string
	removed    []string
}

func (o *fakeOrchestrator) ContainerUsage(ctx context.Context, name string) (*docker.Usage, error) {
	return nil, docker.ErrNotFound
}

func (o *fakeOrchestrator) VolumeUsage(ctx context.Context) ([]docker.VolumeUsage, error) {
	return nil, nil
}

func (o *fakeOrchestrator) RestartContainer(ctx context.Context, name string, stopTimeout time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.restartErr != nil {
		return o.restartErr
	}
	o.restarted = append(o.restarted, name)
	return nil
}

func (o *fakeOrchestrator) RemoveVolume(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.removeErrs[name]; err != nil {
		return err
	}
	o.removed = append(o.removed, name)
	return nil
}

type testServer struct {
	router  *gin.Engine
	monitor *activity.Monitor
	dir     *fakeDirectory
	state   *tenant.MemoryState
	orch    *fakeOrchestrator
	sampler *fakeSampler
	stats   fakeStats
	volumes fakeVolumes
}

type serverOption func(*Deps)

func withSession(s config.SessionConfig) serverOption {
	return func(d *Deps) { d.Session = s }
}

func withoutStore() serverOption {
	return func(d *Deps) { d.Monitor = activity.NewMonitor(nil, d.Monitor.Config()) }
}

// newTestServer builds the full router over in-memory collaborators. The
// callers are an admin ("admin-token"), alice ("alice-token") and bob
// ("bob-token").
func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	gin.SetMode(gin.TestMode)

	activityDB, err := db.InitActivity(filepath.Join(t.TempDir(), "activity.sqlite"))
	require.NoError(t, err)
	sqlDB, err := activityDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000},
		Hub:    config.HubConfig{AuthCacheSeconds: 60},
		Activity: config.ActivityConfig{
			Enabled:               true,
			SampleIntervalSeconds: config.DefaultSampleInterval,
			RetentionDays:         config.DefaultRetentionDays,
			HalfLifeHours:         config.DefaultHalfLifeHours,
			InactiveAfterMinutes:  config.DefaultInactiveAfter,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p := pool.New(2, time.Second)
	p.Start(ctx)

	ts := &testServer{
		dir:     &fakeDirectory{tenants: map[string]tenant.Tenant{}},
		state:   tenant.NewMemoryState(),
		orch:    &fakeOrchestrator{removeErrs: map[string]error{}},
		sampler: &fakeSampler{},
		stats:   fakeStats{},
		volumes: fakeVolumes{},
	}

	deps := Deps{
		Monitor:   activity.NewMonitor(store.NewGormSampleStore(activityDB), cfg.Activity),
		Sampler:   ts.sampler,
		Directory: ts.dir,
		State:     ts.state,
		Orch:      ts.orch,
		Pool:      p,
		Stats:     ts.stats,
		Volumes:   ts.volumes,
		Naming:    docker.Naming{Prefix: "jupyter-"},
		Session:   config.SessionConfig{CullerEnabled: true, TimeoutSeconds: 3600, MaxExtensionHours: 8},
		Suffixes:  []string{"home", "workspace", "cache"},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	ts.monitor = deps.Monitor

	h := NewHandler(deps)
	h.now = func() time.Time { return testNow }

	admin := &tenant.Tenant{Name: "admin", Admin: true}
	alice := &tenant.Tenant{Name: "alice"}
	bob := &tenant.Tenant{Name: "bob"}
	ts.router = NewRouter(h, fakeAuth{"admin-token": admin, "alice-token": alice, "bob-token": bob}, cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}
	return serve(ts, req)
}

func serve(ts *testServer, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}
