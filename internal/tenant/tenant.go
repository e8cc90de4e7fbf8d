// Package tenant resolves platform users and their workloads from the hub
// control plane.
package tenant

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the hub has no tenant by the given name.
	ErrNotFound = errors.New("tenant not found")
	// ErrUnauthorized is returned when a token does not identify a tenant.
	ErrUnauthorized = errors.New("invalid or expired token")
)

// Tenant is a hub user. LastActivity is the hub-level access time; the
// workload's own LastActivity reflects in-session actions.
type Tenant struct {
	Name         string
	Admin        bool
	LastActivity *time.Time
	Workload     *Workload
}

// Workload is the state of a tenant's default server.
type Workload struct {
	Active       bool
	LastActivity *time.Time
	Started      *time.Time
}

// ServerActive reports whether the tenant's default server is running.
func (t *Tenant) ServerActive() bool {
	return t.Workload != nil && t.Workload.Active
}

// WorkloadActivity returns the default server's last activity, or nil when
// the tenant has no server record.
func (t *Tenant) WorkloadActivity() *time.Time {
	if t.Workload == nil {
		return nil
	}
	return t.Workload.LastActivity
}

// Directory enumerates and resolves tenants.
type Directory interface {
	List(ctx context.Context) ([]Tenant, error)
	Get(ctx context.Context, name string) (*Tenant, error)
}

// Authenticator maps an API token to the tenant that owns it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Tenant, error)
}

// StateStore reads and replaces the persisted state blob of a tenant's
// default server.
type StateStore interface {
	GetState(ctx context.Context, name string) (map[string]any, error)
	ReplaceState(ctx context.Context, name string, state map[string]any) error
}
