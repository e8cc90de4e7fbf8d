package tenant

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
)

// ExtensionHoursKey is the state blob key holding the hours a tenant has
// added to its idle timeout.
const ExtensionHoursKey = "extension_hours_used"

// ExtensionHoursUsed reads the extension allowance consumed so far. A
// missing or non-numeric value counts as zero.
func ExtensionHoursUsed(state map[string]any) int {
	switch v := state[ExtensionHoursKey].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0
			}
			return int(f)
		}
		return int(n)
	default:
		return 0
	}
}

// WithExtensionHours returns a copy of state with the extension hours set.
// The input map is not modified.
func WithExtensionHours(state map[string]any, hours int) map[string]any {
	next := make(map[string]any, len(state)+1)
	maps.Copy(next, state)
	next[ExtensionHoursKey] = hours
	return next
}

// MemoryState is a process-local StateStore used when the hub's datastore
// is not reachable. Its contents do not survive a restart.
type MemoryState struct {
	mu     sync.RWMutex
	states map[string]map[string]any
}

// NewMemoryState creates an empty in-memory state store.
func NewMemoryState() *MemoryState {
	return &MemoryState{states: make(map[string]map[string]any)}
}

func (m *MemoryState) GetState(_ context.Context, name string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.states[name]), nil
}

func (m *MemoryState) ReplaceState(_ context.Context, name string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[name] = maps.Clone(state)
	return nil
}
