package catalog

// editor.go applies single-item changes with an apply-then-confirm
// protocol. Apply produces the next snapshot immediately (pure, no
// I/O) so callers can update their view before persistence confirms;
// Confirm persists and, on success, schedules the broadcast. On
// persistence failure the optimistic snapshot is NOT reverted here —
// the caller owns reconciliation (re-fetch or roll back), because
// silent auto-revert is unsafe once other edits may have interleaved.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Publisher is the broadcast surface the editor emits to.
type Publisher interface {
	// Broadcast delivers snap to subscribers of scope and of the GLOBAL
	// wildcard; returns the number of deliveries. Fire-and-forget
	// relative to the write path.
	Broadcast(scope string, snap Snapshot) int
}

// EditSession is one in-progress edit of a single item. Draft is the
// mutable copy; the original is retained untouched for inspection.
type EditSession struct {
	original  Item
	Draft     Item
	cancelled bool
}

// Original returns the item as it was when the session began.
func (s *EditSession) Original() Item { return s.original }

// Cancel discards the draft. A cancelled session touches neither the
// store nor the broadcaster.
func (s *EditSession) Cancel() { s.cancelled = true }

// Confirm completes an optimistic change: it persists and, on success,
// broadcasts. A Confirm error means the store rejected the write and
// the caller must reconcile its optimistic view.
type Confirm func(ctx context.Context) error

// Editor applies edits and deletions to single catalog items.
type Editor struct {
	store     Store
	publisher Publisher
	log       *slog.Logger
}

// NewEditor creates an editor over the given store and publisher.
func NewEditor(store Store, publisher Publisher, log *slog.Logger) *Editor {
	if log == nil {
		log = slog.Default()
	}
	return &Editor{store: store, publisher: publisher, log: log}
}

// Begin captures a mutable draft seeded from the current item.
func (e *Editor) Begin(item Item) *EditSession {
	return &EditSession{original: item, Draft: item}
}

// Apply validates the session's draft and returns the optimistic next
// snapshot plus the confirmation step. The snapshot already contains
// the edited item; Confirm issues the store update and broadcasts the
// snapshot to the item's branch scope on success.
func (e *Editor) Apply(snap Snapshot, session *EditSession) (Snapshot, Confirm, error) {
	if session.cancelled {
		return snap, nil, fmt.Errorf("edit session was cancelled")
	}

	draft := session.Draft
	if draft.ID != session.original.ID {
		return snap, nil, fmt.Errorf("item id is immutable")
	}
	if draft.Key != session.original.Key {
		return snap, nil, fmt.Errorf("item key is immutable")
	}
	if draft.NamePrimary == "" {
		return snap, nil, fmt.Errorf("primary name is required")
	}
	if draft.PriceCents < 0 {
		return snap, nil, fmt.Errorf("price must be non-negative")
	}

	next := replaceItem(snap, draft)

	confirm := func(ctx context.Context) error {
		if err := e.store.UpdateItem(ctx, draft); err != nil {
			e.log.Warn("item update rejected by store",
				"item_id", draft.ID, "branch_id", draft.BranchID, "error", err)
			return fmt.Errorf("update item %s: %w", draft.ID, err)
		}
		e.publisher.Broadcast(draft.BranchID.String(), next)
		return nil
	}

	return next, confirm, nil
}

// Delete returns the optimistic snapshot without the item plus the
// confirmation step. The engine performs no confirmation prompting;
// obtaining operator confirmation is the caller's job.
func (e *Editor) Delete(snap Snapshot, item Item) (Snapshot, Confirm) {
	next := removeItem(snap, item.ID)

	confirm := func(ctx context.Context) error {
		if err := e.store.DeleteItem(ctx, item.ID); err != nil {
			e.log.Warn("item delete rejected by store",
				"item_id", item.ID, "branch_id", item.BranchID, "error", err)
			return fmt.Errorf("delete item %s: %w", item.ID, err)
		}
		e.publisher.Broadcast(item.BranchID.String(), next)
		return nil
	}

	return next, confirm
}

// replaceItem returns a copy of snap with the matching item swapped for
// updated. Pure: the input snapshot is never mutated.
func replaceItem(snap Snapshot, updated Item) Snapshot {
	items := make([]Item, len(snap.Items))
	copy(items, snap.Items)
	for i, it := range items {
		if it.ID == updated.ID {
			items[i] = updated
			break
		}
	}
	return NewSnapshot(snap.BranchID, items)
}

// removeItem returns a copy of snap without the given item.
func removeItem(snap Snapshot, id uuid.UUID) Snapshot {
	items := make([]Item, 0, len(snap.Items))
	for _, it := range snap.Items {
		if it.ID != id {
			items = append(items, it)
		}
	}
	return NewSnapshot(snap.BranchID, items)
}
