package tenant

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"hub-activity-backend/internal/model"
)

// newHubDB seeds a private sqlite database shaped like the hub's tables.
func newHubDB(t *testing.T) (*HubDB, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "hub.sqlite")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Spawner{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	serverID := int64(7)
	active := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	users := []model.User{
		{Name: "alice", Admin: true, Spawners: []model.Spawner{
			{Name: "", ServerID: &serverID, LastActivity: &active, State: `{"extension_hours_used": 3}`},
			{Name: "gpu", ServerID: nil},
		}},
		{Name: "bob", Spawners: []model.Spawner{{Name: ""}}},
		{Name: "carol"},
	}
	require.NoError(t, db.Create(&users).Error)

	return NewHubDB(db), db
}

func TestHubDB_List(t *testing.T) {
	h, _ := newHubDB(t)

	tenants, err := h.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 3)

	assert.Equal(t, "alice", tenants[0].Name)
	assert.True(t, tenants[0].Admin)
	assert.True(t, tenants[0].ServerActive())
	require.NotNil(t, tenants[0].WorkloadActivity())
	assert.Equal(t, 11, tenants[0].WorkloadActivity().Hour())

	assert.Equal(t, "bob", tenants[1].Name)
	require.NotNil(t, tenants[1].Workload)
	assert.False(t, tenants[1].ServerActive())

	assert.Equal(t, "carol", tenants[2].Name)
	assert.Nil(t, tenants[2].Workload)
}

func TestHubDB_Get(t *testing.T) {
	h, _ := newHubDB(t)

	tn, err := h.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, tn.ServerActive())

	_, err = h.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHubDB_State(t *testing.T) {
	ctx := context.Background()
	h, _ := newHubDB(t)

	state, err := h.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, ExtensionHoursUsed(state))

	require.NoError(t, h.ReplaceState(ctx, "alice", WithExtensionHours(state, 5)))
	state, err = h.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, ExtensionHoursUsed(state))

	state, err = h.GetState(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, ExtensionHoursUsed(state))

	state, err = h.GetState(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, state)
	assert.ErrorIs(t, h.ReplaceState(ctx, "carol", map[string]any{}), ErrNotFound)

	_, err = h.GetState(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExtensionHoursUsed(t *testing.T) {
	assert.Equal(t, 0, ExtensionHoursUsed(nil))
	assert.Equal(t, 0, ExtensionHoursUsed(map[string]any{ExtensionHoursKey: "lots"}))
	assert.Equal(t, 2, ExtensionHoursUsed(map[string]any{ExtensionHoursKey: 2}))
	assert.Equal(t, 4, ExtensionHoursUsed(map[string]any{ExtensionHoursKey: float64(4)}))

	orig := map[string]any{"other": true}
	next := WithExtensionHours(orig, 6)
	assert.Equal(t, 6, ExtensionHoursUsed(next))
	assert.Equal(t, true, next["other"])
	assert.NotContains(t, orig, ExtensionHoursKey)
}

func TestMemoryState(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryState()

	state, err := m.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, ExtensionHoursUsed(state))

	require.NoError(t, m.ReplaceState(ctx, "alice", WithExtensionHours(state, 2)))
	state, err = m.GetState(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, ExtensionHoursUsed(state))

	state[ExtensionHoursKey] = 99
	again, _ := m.GetState(ctx, "alice")
	assert.Equal(t, 2, ExtensionHoursUsed(again), "callers get a copy")
}
