package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"menusync/internal/broadcast"
)

// DefaultImportTimeout bounds an import job when no timeout is configured.
var DefaultImportTimeout = 10 * time.Minute

// cleanupDelay is how long finished jobs stay queryable.
var cleanupDelay = 5 * time.Minute

// Service is the entry point for catalog operations: bulk imports,
// single-item edits and deletes, and sync subscriptions.
//
// Imports and edits against the same branch are last-write-wins; the
// engine takes no client-side locks. Operators must not run two imports
// against the same branch concurrently.
type Service struct {
	store       Store
	history     History
	planner     *Planner
	editor      *Editor
	broadcaster *broadcast.Broadcaster[Snapshot]
	timeout     time.Duration
	log         *slog.Logger

	mu      sync.RWMutex
	imports map[string]*activeImport
	wg      sync.WaitGroup
}

type activeImport struct {
	ID       string
	BranchID uuid.UUID
	FileName string
	Cancel   context.CancelFunc
	Result   *ImportResult
	Done     chan struct{}

	// listenerMu guards Progress, listeners, and finished. The job
	// goroutine writes progress while handlers poll it concurrently.
	listenerMu sync.Mutex
	Progress   ImportProgress
	listeners  []chan ImportProgress
	finished   bool
}

// NewService wires the engine together. timeout bounds each import job;
// pass 0 for the default.
func NewService(store Store, history History, b *broadcast.Broadcaster[Snapshot], timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultImportTimeout
	}
	log := slog.Default()
	return &Service{
		store:       store,
		history:     history,
		planner:     NewPlanner(store, log),
		editor:      NewEditor(store, b, log),
		broadcaster: b,
		timeout:     timeout,
		log:         log,
		imports:     make(map[string]*activeImport),
	}
}

// Branches lists all branches.
func (s *Service) Branches(ctx context.Context) ([]Branch, error) {
	return s.store.ListBranches(ctx)
}

// BranchSnapshot materializes the current catalog of one branch.
func (s *Service) BranchSnapshot(ctx context.Context, branchID uuid.UUID) (Snapshot, error) {
	items, err := s.store.ListItems(ctx, branchID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list items for branch %s: %w", branchID, err)
	}
	return NewSnapshot(branchID, items), nil
}

// SubscribeCatalog registers a sync subscriber for a branch scope or
// the GLOBAL wildcard.
func (s *Service) SubscribeCatalog(scope string) *broadcast.Subscriber[Snapshot] {
	return s.broadcaster.Subscribe(scope)
}

// ImportHistory lists recent import records, newest first.
func (s *Service) ImportHistory(ctx context.Context, limit int) ([]ImportRecord, error) {
	return s.history.ListImports(ctx, limit)
}

// ItemEdit is a partial update to one item. Nil fields are unchanged.
type ItemEdit struct {
	NamePrimary   *string `json:"name_primary,omitempty"`
	NameSecondary *string `json:"name_secondary,omitempty"`
	Price         *string `json:"price,omitempty"`
}

// EditItem applies a single-item change: optimistic snapshot first,
// then store confirmation, then broadcast. A store failure surfaces to
// the caller, which owns reconciliation of any optimistic view.
func (s *Service) EditItem(ctx context.Context, itemID uuid.UUID, edit ItemEdit) (Item, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return Item{}, fmt.Errorf("get item %s: %w", itemID, err)
	}

	snap, err := s.BranchSnapshot(ctx, item.BranchID)
	if err != nil {
		return Item{}, err
	}

	session := s.editor.Begin(item)
	if edit.NamePrimary != nil {
		session.Draft.NamePrimary = *edit.NamePrimary
	}
	if edit.NameSecondary != nil {
		session.Draft.NameSecondary = *edit.NameSecondary
	}
	if edit.Price != nil {
		cents, err := ParsePrice(*edit.Price)
		if err != nil {
			return Item{}, err
		}
		session.Draft.PriceCents = cents
	}

	_, confirm, err := s.editor.Apply(snap, session)
	if err != nil {
		return Item{}, err
	}
	if err := confirm(ctx); err != nil {
		return Item{}, err
	}

	return session.Draft, nil
}

// DeleteItem removes one item (modifiers die with it via the store).
// Operator confirmation is expected to have happened upstream.
func (s *Service) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get item %s: %w", itemID, err)
	}

	snap, err := s.BranchSnapshot(ctx, item.BranchID)
	if err != nil {
		return err
	}

	_, confirm := s.editor.Delete(snap, item)
	return confirm(ctx)
}

// SubscribeProgress returns a channel receiving progress updates for an
// import job. The channel closes when the job finishes.
func (s *Service) SubscribeProgress(importID string) (<-chan ImportProgress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	imp.listenerMu.Lock()
	if imp.finished {
		// Late subscriber inside the cleanup window: deliver the final
		// progress and close immediately so streams terminate.
		ch <- imp.Progress
		imp.listenerMu.Unlock()
		close(ch)
		return ch, nil
	}
	imp.listeners = append(imp.listeners, ch)
	select {
	case ch <- imp.Progress:
	default:
	}
	imp.listenerMu.Unlock()

	return ch, nil
}

// Progress returns the current progress without blocking.
func (s *Service) Progress(importID string) (ImportProgress, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return ImportProgress{}, err
	}
	return imp.currentProgress(), nil
}

// Result blocks until the import completes and returns its outcome.
func (s *Service) Result(importID string) (*ImportResult, error) {
	imp, err := s.lookup(importID)
	if err != nil {
		return nil, err
	}
	<-imp.Done
	return imp.Result, nil
}

// CancelImport cancels an in-progress import. A cancelled import is
// never retried automatically.
func (s *Service) CancelImport(importID string) error {
	imp, err := s.lookup(importID)
	if err != nil {
		return err
	}
	imp.Cancel()
	return nil
}

// ActiveImports returns the number of running import jobs.
func (s *Service) ActiveImports() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, imp := range s.imports {
		select {
		case <-imp.Done:
		default:
			n++
		}
	}
	return n
}

// WaitForImports blocks until all running imports finish or ctx ends.
func (s *Service) WaitForImports(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) lookup(importID string) (*activeImport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	imp, ok := s.imports[importID]
	if !ok {
		return nil, fmt.Errorf("import not found: %s", importID)
	}
	return imp, nil
}

func (s *Service) cleanup(importID string, after time.Duration) {
	time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}

// update applies fn to the progress under the lock, notifying listeners
// when notify is set.
func (imp *activeImport) update(notify bool, fn func(p *ImportProgress)) {
	imp.listenerMu.Lock()
	defer imp.listenerMu.Unlock()

	fn(&imp.Progress)
	if notify {
		imp.notifyLocked()
	}
}

func (imp *activeImport) currentProgress() ImportProgress {
	imp.listenerMu.Lock()
	defer imp.listenerMu.Unlock()
	return imp.Progress
}

// notifyLocked delivers the current progress to every listener;
// listenerMu must be held.
func (imp *activeImport) notifyLocked() {
	for _, ch := range imp.listeners {
		select {
		case ch <- imp.Progress:
		default:
		}
	}
}

func (imp *activeImport) closeListeners() {
	imp.listenerMu.Lock()
	defer imp.listenerMu.Unlock()

	imp.finished = true
	for _, ch := range imp.listeners {
		close(ch)
	}
	imp.listeners = nil
}

func (imp *activeImport) setPhase(phase ImportPhase) {
	imp.update(true, func(p *ImportProgress) { p.Phase = phase })
}
