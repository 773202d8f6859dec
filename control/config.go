// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with frozen boot keys and reload propagation.

package control

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/momentics/kmemcore/api"
)

// ConfigStore is a key/value map with atomic snapshots and listener support.
// Keys marked frozen are fixed at boot; SetConfig rejects changes to them.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	frozen    map[string]bool
	listeners []func(map[string]any)
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config: make(map[string]any),
		frozen: make(map[string]bool),
	}
}

// Freeze records boot parameters that can never change afterwards.
func (cs *ConfigStore) Freeze(boot map[string]any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for k, v := range boot {
		cs.config[k] = v
		cs.frozen[k] = true
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.snapshotLocked()
}

func (cs *ConfigStore) snapshotLocked() map[string]any {
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns a single value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// SetConfig merges new values and dispatches reload listeners.
// The update is rejected as a whole if it touches a frozen key.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) error {
	cs.mu.Lock()
	var denied []string
	for k := range newCfg {
		if cs.frozen[k] {
			denied = append(denied, k)
		}
	}
	if len(denied) > 0 {
		cs.mu.Unlock()
		sort.Strings(denied)
		return api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("control: boot parameters are immutable: %v", denied)).
			WithContext("keys", denied)
	}
	for k, v := range newCfg {
		cs.config[k] = v
	}
	snap := cs.snapshotLocked()
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
