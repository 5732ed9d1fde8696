package features

import (
	"sort"
	"sync"

	"offer-attribution/internal/config"
)

// Predefined feature flag names
const (
	// FeatureCacheEnabled enables/disables caching of run tables
	FeatureCacheEnabled = "cache_enabled"
	// FeaturePersistResults enables/disables storing runs in the database
	FeaturePersistResults = "persist_results"
	// FeatureEventHooksEnabled enables/disables run lifecycle hooks
	FeatureEventHooksEnabled = "event_hooks_enabled"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// NewManagerFromConfig registers the predefined flags with their configured state.
func NewManagerFromConfig(cfg config.FeaturesConfig) *Manager {
	m := NewManager()
	m.Register(FeatureCacheEnabled, cfg.CacheEnabled, "cache attributed transactions and completion tables per run")
	m.Register(FeaturePersistResults, cfg.PersistResults, "store run summaries and tables in sqlite")
	m.Register(FeatureEventHooksEnabled, cfg.EventHooksEnabled, "publish run lifecycle events to subscribers")
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	return exists && flag.Enabled
}

// Set enables or disables a registered flag and reports whether it exists.
func (m *Manager) Set(name string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag, exists := m.flags[name]
	if exists {
		flag.Enabled = enabled
	}
	return exists
}

// All returns a copy of every flag, ordered by name.
func (m *Manager) All() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
