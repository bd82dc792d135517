package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"stark-agent/internal/domain"
)

// Memory is an in-process ledger store for local runs and tests.
type Memory struct {
	mu        sync.RWMutex
	items     map[string]domain.Item
	statuses  map[string]domain.StatusOverride
	edits     map[string]domain.EditOverride
	deletions map[string]domain.DeletionMarker
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		items:     make(map[string]domain.Item),
		statuses:  make(map[string]domain.StatusOverride),
		edits:     make(map[string]domain.EditOverride),
		deletions: make(map[string]domain.DeletionMarker),
	}
}

func memoryOverlayKey(key domain.ItemKey) string {
	return key.Period + "#" + string(key.Kind) + "#" + key.Normalized()
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateItem(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; ok {
		return fmt.Errorf("repository: item %s already exists", item.ID)
	}
	m.items[item.ID] = item
	return nil
}

func (m *Memory) UpdateItem(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.ID]; !ok {
		return fmt.Errorf("repository: item %s not found", item.ID)
	}
	m.items[item.ID] = item
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, item.ID)
	return nil
}

func (m *Memory) ListItems(_ context.Context, period string, kind domain.Kind) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Item
	for _, item := range m.items {
		if item.Period != period || (kind != "" && item.Kind != kind) {
			continue
		}
		out = append(out, item)
	}
	sortItems(out)
	return out, nil
}

func (m *Memory) FindItems(_ context.Context, key domain.ItemKey) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Item
	for _, item := range m.items {
		if key.Matches(item) {
			out = append(out, item)
		}
	}
	sortItems(out)
	return out, nil
}

func (m *Memory) UpsertStatusOverride(_ context.Context, o domain.StatusOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[memoryOverlayKey(o.ItemKey)] = o
	return nil
}

func (m *Memory) UpsertEditOverride(_ context.Context, o domain.EditOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memoryOverlayKey(o.ItemKey)
	if existing, ok := m.edits[k]; ok {
		o = existing.Merge(o)
	}
	m.edits[k] = o
	return nil
}

func (m *Memory) UpsertDeletionMarker(_ context.Context, d domain.DeletionMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletions[memoryOverlayKey(d.ItemKey)] = d
	return nil
}

func (m *Memory) ListOverlays(_ context.Context, period string) (domain.Overlays, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out domain.Overlays
	for _, o := range m.statuses {
		if o.Period == period {
			out.Statuses = append(out.Statuses, o)
		}
	}
	for _, o := range m.edits {
		if o.Period == period {
			out.Edits = append(out.Edits, o)
		}
	}
	for _, d := range m.deletions {
		if d.Period == period {
			out.Deletions = append(out.Deletions, d)
		}
	}
	return out, nil
}

// sortItems orders items by creation time, then name, then id.
func sortItems(items []domain.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
