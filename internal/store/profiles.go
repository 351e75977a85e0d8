package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradekernel/internal/domain"
)

// ProfileStore is the StrategyProfile table keyed by name. Save enforces the
// strictly-increasing adaptation version: a write whose version is not
// greater than the stored one is rejected.
type ProfileStore interface {
	Get(ctx context.Context, name string) (domain.StrategyProfile, error)
	All(ctx context.Context) ([]domain.StrategyProfile, error)
	Save(ctx context.Context, p domain.StrategyProfile) error
}

// ErrStaleProfile rejects a profile write that does not advance the
// adaptation version.
var ErrStaleProfile = fmt.Errorf("stale profile version")

// MemoryProfiles is the in-process profile table.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]domain.StrategyProfile
}

// NewMemoryProfiles creates an empty table, optionally seeded.
func NewMemoryProfiles(seed ...domain.StrategyProfile) *MemoryProfiles {
	m := &MemoryProfiles{profiles: make(map[string]domain.StrategyProfile)}
	for _, p := range seed {
		m.profiles[p.Name] = p.Clone()
	}
	return m
}

// Get returns a copy of the named profile.
func (m *MemoryProfiles) Get(_ context.Context, name string) (domain.StrategyProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[name]
	if !ok {
		return domain.StrategyProfile{}, fmt.Errorf("%w: strategy %q", domain.ErrNotFound, name)
	}
	return p.Clone(), nil
}

// All returns copies of every profile, ordered by name for determinism.
func (m *MemoryProfiles) All(_ context.Context) ([]domain.StrategyProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.StrategyProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save writes a profile. Existing profiles must advance AdaptationVersion.
func (m *MemoryProfiles) Save(_ context.Context, p domain.StrategyProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.profiles[p.Name]; ok && p.AdaptationVersion <= existing.AdaptationVersion {
		return fmt.Errorf("%w: %s version %d <= stored %d",
			ErrStaleProfile, p.Name, p.AdaptationVersion, existing.AdaptationVersion)
	}
	m.profiles[p.Name] = p.Clone()
	return nil
}
