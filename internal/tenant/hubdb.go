package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"hub-activity-backend/internal/model"
)

// HubDB is a Directory and StateStore that reads the hub's own tables in
// the primary datastore.
type HubDB struct {
	db *gorm.DB
}

// NewHubDB creates a directory over the hub's primary datastore.
func NewHubDB(db *gorm.DB) *HubDB {
	return &HubDB{db: db}
}

func (h *HubDB) List(ctx context.Context) ([]Tenant, error) {
	var users []model.User
	err := h.db.WithContext(ctx).
		Preload("Spawners", "name = ?", "").
		Order("name").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	tenants := make([]Tenant, 0, len(users))
	for _, u := range users {
		tenants = append(tenants, userToTenant(u))
	}
	return tenants, nil
}

func (h *HubDB) Get(ctx context.Context, name string) (*Tenant, error) {
	var u model.User
	err := h.db.WithContext(ctx).
		Preload("Spawners", "name = ?", "").
		Where("name = ?", name).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", name, err)
	}
	t := userToTenant(u)
	return &t, nil
}

// GetState decodes the default spawner's state blob. A tenant without a
// spawner or with an empty blob has an empty state.
func (h *HubDB) GetState(ctx context.Context, name string) (map[string]any, error) {
	sp, err := h.defaultSpawner(h.db.WithContext(ctx), name)
	if err != nil {
		return nil, err
	}
	if sp == nil || sp.State == "" {
		return map[string]any{}, nil
	}

	state := map[string]any{}
	if err := json.Unmarshal([]byte(sp.State), &state); err != nil {
		return nil, fmt.Errorf("failed to decode spawner state for %s: %w", name, err)
	}
	return state, nil
}

// ReplaceState overwrites the default spawner's state blob.
func (h *HubDB) ReplaceState(ctx context.Context, name string, state map[string]any) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode spawner state for %s: %w", name, err)
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sp, err := h.defaultSpawner(tx, name)
		if err != nil {
			return err
		}
		if sp == nil {
			return fmt.Errorf("no server record for %s: %w", name, ErrNotFound)
		}
		if err := tx.Model(sp).Update("state", string(blob)).Error; err != nil {
			return fmt.Errorf("failed to update spawner state for %s: %w", name, err)
		}
		return nil
	})
}

func (h *HubDB) defaultSpawner(tx *gorm.DB, name string) (*model.Spawner, error) {
	var u model.User
	if err := tx.Select("id").Where("name = ?", name).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", name, err)
	}

	var sp model.Spawner
	err := tx.Where("user_id = ? AND name = ?", u.ID, "").First(&sp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spawner for %s: %w", name, err)
	}
	return &sp, nil
}

func userToTenant(u model.User) Tenant {
	t := Tenant{
		Name:         u.Name,
		Admin:        u.Admin,
		LastActivity: utc(u.LastActivity),
	}
	for _, sp := range u.Spawners {
		if sp.Name != "" {
			continue
		}
		t.Workload = &Workload{
			Active:       sp.ServerID != nil,
			LastActivity: utc(sp.LastActivity),
			Started:      utc(sp.Started),
		}
		break
	}
	return t
}
