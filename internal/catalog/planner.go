package catalog

// planner.go sequences an import against the store. The store is not
// assumed to offer multi-statement rollback, so execution is
// best-effort atomic: each step failure is reported with its step and
// source row, and the outcome state records how far the catalog
// actually moved (untouched, partially cleared, partially imported, or
// complete).

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Outcome describes what an executed import plan did to the store.
type Outcome struct {
	State      ImportState
	Items      []Item // materialized items on success, basis for the broadcast
	Categories int
}

// Planner executes validated batches against the catalog store.
type Planner struct {
	store Store
	log   *slog.Logger
}

// NewPlanner creates a planner over the given store.
func NewPlanner(store Store, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{store: store, log: log}
}

// Execute runs the ordered import plan for one branch:
//
//  1. If clearFirst: delete modifiers, then items, then categories —
//     children before parents, to avoid referential violations.
//  2. Resolve or create the categories the batch references,
//     deduplicating by normalized name.
//  3. Insert items with resolved category ids.
//  4. Insert modifiers referencing the item ids assigned in step 3.
//
// On failure the returned error is a *StepError and the Outcome.State
// distinguishes "nothing changed" from "cleared but not re-imported".
// Execute never retries; re-running the caller's import is the remedy.
func (p *Planner) Execute(ctx context.Context, branchID uuid.UUID, drafts []ItemDraft, clearFirst bool) (*Outcome, error) {
	mutated := false

	fail := func(step PlanStep, row int, err error) (*Outcome, error) {
		state := StateNoChanges
		if mutated {
			state = StatePartialImport
			if clearFirst {
				state = StatePartialClear
			}
		}
		p.log.Error("import plan step failed",
			"branch_id", branchID, "step", string(step), "row", row, "state", string(state), "error", err)
		return &Outcome{State: state}, &StepError{Step: step, Row: row, Err: err}
	}

	if clearFirst {
		if err := p.store.ClearModifiers(ctx, branchID); err != nil {
			return fail(StepClearModifiers, 0, err)
		}
		mutated = true
		if err := p.store.ClearItems(ctx, branchID); err != nil {
			return fail(StepClearItems, 0, err)
		}
		if err := p.store.ClearCategories(ctx, branchID); err != nil {
			return fail(StepClearCategories, 0, err)
		}
	}

	// Resolve categories, first occurrence of each normalized name wins
	// the display spelling.
	categories := make(map[string]Category)
	for _, d := range drafts {
		norm := normalizeName(d.Category)
		if _, ok := categories[norm]; ok {
			continue
		}
		cat, err := p.store.EnsureCategory(ctx, branchID, d.Category)
		if err != nil {
			return fail(StepResolveCategories, d.Row, err)
		}
		if !clearFirst {
			// EnsureCategory may have created a row even on a merge import.
			mutated = true
		}
		categories[norm] = cat
	}

	items := make([]Item, 0, len(drafts))
	for _, d := range drafts {
		cat := categories[normalizeName(d.Category)]
		item, err := p.store.InsertItem(ctx, Item{
			Key:           d.Key,
			BranchID:      branchID,
			CategoryID:    cat.ID,
			Category:      cat.Name,
			NamePrimary:   d.NamePrimary,
			NameSecondary: d.NameSecondary,
			PriceCents:    d.PriceCents,
		})
		if err != nil {
			return fail(StepInsertItems, d.Row, err)
		}
		mutated = true

		for _, md := range d.Modifiers {
			mod, err := p.store.InsertModifier(ctx, Modifier{
				ItemID:     item.ID,
				Name:       md.Name,
				PriceCents: md.PriceCents,
			})
			if err != nil {
				return fail(StepInsertModifiers, d.Row, err)
			}
			item.Modifiers = append(item.Modifiers, mod)
		}

		items = append(items, item)
	}

	p.log.Info("import plan executed",
		"branch_id", branchID, "items", len(items), "categories", len(categories), "cleared", clearFirst)

	return &Outcome{State: StateComplete, Items: items, Categories: len(categories)}, nil
}
