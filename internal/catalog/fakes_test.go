package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memStore is an in-memory Store + History used across the package
// tests. It records every call and can be told to fail specific
// methods to exercise the error paths.
type memStore struct {
	mu         sync.Mutex
	branches   map[uuid.UUID]Branch
	categories map[uuid.UUID]Category
	items      map[uuid.UUID]Item
	modifiers  map[uuid.UUID]Modifier
	records    []ImportRecord

	calls  []string
	failOn map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		branches:   make(map[uuid.UUID]Branch),
		categories: make(map[uuid.UUID]Category),
		items:      make(map[uuid.UUID]Item),
		modifiers:  make(map[uuid.UUID]Modifier),
		failOn:     make(map[string]error),
	}
}

func (m *memStore) addBranch(name string) Branch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := Branch{ID: uuid.New(), Name: name}
	m.branches[b.ID] = b
	return b
}

func (m *memStore) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	return m.failOn[method]
}

func (m *memStore) callCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (m *memStore) ListBranches(ctx context.Context) ([]Branch, error) {
	if err := m.record("ListBranches"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Branch
	for _, b := range m.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) GetBranch(ctx context.Context, id uuid.UUID) (Branch, error) {
	if err := m.record("GetBranch"); err != nil {
		return Branch{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.branches[id]
	if !ok {
		return Branch{}, fmt.Errorf("branch %s not found", id)
	}
	return b, nil
}

func (m *memStore) ClearModifiers(ctx context.Context, branchID uuid.UUID) error {
	if err := m.record("ClearModifiers"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, mod := range m.modifiers {
		item, ok := m.items[mod.ItemID]
		if !ok {
			continue
		}
		if m.categories[item.CategoryID].BranchID == branchID {
			delete(m.modifiers, id)
		}
	}
	return nil
}

func (m *memStore) ClearItems(ctx context.Context, branchID uuid.UUID) error {
	if err := m.record("ClearItems"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		if m.categories[item.CategoryID].BranchID == branchID {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memStore) ClearCategories(ctx context.Context, branchID uuid.UUID) error {
	if err := m.record("ClearCategories"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cat := range m.categories {
		if cat.BranchID == branchID {
			delete(m.categories, id)
		}
	}
	return nil
}

func (m *memStore) EnsureCategory(ctx context.Context, branchID uuid.UUID, name string) (Category, error) {
	if err := m.record("EnsureCategory"); err != nil {
		return Category{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	norm := normalizeName(name)
	for _, cat := range m.categories {
		if cat.BranchID == branchID && normalizeName(cat.Name) == norm {
			return cat, nil
		}
	}
	cat := Category{ID: uuid.New(), BranchID: branchID, Name: name}
	m.categories[cat.ID] = cat
	return cat, nil
}

func (m *memStore) InsertItem(ctx context.Context, item Item) (Item, error) {
	if err := m.record("InsertItem"); err != nil {
		return Item{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = uuid.New()
	m.items[item.ID] = item
	return item, nil
}

func (m *memStore) InsertModifier(ctx context.Context, mod Modifier) (Modifier, error) {
	if err := m.record("InsertModifier"); err != nil {
		return Modifier{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mod.ID = uuid.New()
	m.modifiers[mod.ID] = mod
	return mod, nil
}

func (m *memStore) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	if err := m.record("GetItem"); err != nil {
		return Item{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item %s not found", id)
	}
	return item, nil
}

func (m *memStore) ListItems(ctx context.Context, branchID uuid.UUID) ([]Item, error) {
	if err := m.record("ListItems"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Item
	for _, item := range m.items {
		if m.categories[item.CategoryID].BranchID == branchID {
			for _, mod := range m.modifiers {
				if mod.ItemID == item.ID {
					item.Modifiers = append(item.Modifiers, mod)
				}
			}
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].NamePrimary < out[j].NamePrimary
	})
	return out, nil
}

func (m *memStore) UpdateItem(ctx context.Context, item Item) error {
	if err := m.record("UpdateItem"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[item.ID]
	if !ok {
		return fmt.Errorf("item %s not found", item.ID)
	}
	stored.NamePrimary = item.NamePrimary
	stored.NameSecondary = item.NameSecondary
	stored.PriceCents = item.PriceCents
	m.items[item.ID] = stored
	return nil
}

func (m *memStore) DeleteItem(ctx context.Context, id uuid.UUID) error {
	if err := m.record("DeleteItem"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("item %s not found", id)
	}
	delete(m.items, id)
	for modID, mod := range m.modifiers {
		if mod.ItemID == id {
			delete(m.modifiers, modID)
		}
	}
	return nil
}

func (m *memStore) RecordImport(ctx context.Context, rec ImportRecord) error {
	if err := m.record("RecordImport"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) ListImports(ctx context.Context, limit int) ([]ImportRecord, error) {
	if err := m.record("ListImports"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ImportRecord, len(m.records))
	copy(out, m.records)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// recordingPublisher captures broadcast emissions for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	scopes []string
	snaps  []Snapshot
}

func (p *recordingPublisher) Broadcast(scope string, snap Snapshot) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes = append(p.scopes, scope)
	p.snaps = append(p.snaps, snap)
	return 1
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scopes)
}
