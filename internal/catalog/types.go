// Package catalog provides the business logic for the menu catalog:
// bulk import of spreadsheet data, single-item edits, and change
// propagation. It has no transport dependencies and is driven by the
// web layer, CLI tools, or tests alike.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Branch is one restaurant location. Imports target exactly one branch.
type Branch struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Category groups items within a branch. Categories are created
// implicitly during import when a new name is encountered and are only
// deleted by a full catalog clear.
type Category struct {
	ID       uuid.UUID `json:"id"`
	BranchID uuid.UUID `json:"branch_id"`
	Name     string    `json:"name"`
}

// Item is a single menu entry.
//
// Key is the stable natural identifier derived from category and
// primary name; it is immutable and used for client-side diffing. ID is
// the store-assigned identity required for update and delete.
type Item struct {
	ID            uuid.UUID  `json:"id"`
	Key           string     `json:"key"`
	BranchID      uuid.UUID  `json:"branch_id"`
	CategoryID    uuid.UUID  `json:"category_id"`
	Category      string     `json:"category"`
	NamePrimary   string     `json:"name_primary"`
	NameSecondary string     `json:"name_secondary,omitempty"`
	PriceCents    int64      `json:"price_cents"`
	Modifiers     []Modifier `json:"modifiers,omitempty"`
}

// Modifier is owned exclusively by its parent item and dies with it.
type Modifier struct {
	ID         uuid.UUID `json:"id"`
	ItemID     uuid.UUID `json:"item_id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
}

// Snapshot is the complete materialized catalog of one branch at a
// point in time. Snapshots are passed by value between the planner,
// editor, and broadcaster; the store remains the sole durable owner.
type Snapshot struct {
	BranchID uuid.UUID `json:"branch_id"`
	Items    []Item    `json:"items"`
	TakenAt  time.Time `json:"taken_at"`
}

// NewSnapshot builds a snapshot for a branch from its current items.
func NewSnapshot(branchID uuid.UUID, items []Item) Snapshot {
	return Snapshot{BranchID: branchID, Items: items, TakenAt: time.Now()}
}

// ItemDraft is a validated, not-yet-persisted item from an import batch.
type ItemDraft struct {
	Row           int // 1-based source line, 0 for non-file origins
	Key           string
	Category      string
	NamePrimary   string
	NameSecondary string
	PriceCents    int64
	Modifiers     []ModifierDraft
}

// ModifierDraft is a pending modifier attached to an ItemDraft.
type ModifierDraft struct {
	Name       string
	PriceCents int64
}

// ImportPhase is the caller-facing status of an import job.
type ImportPhase string

const (
	PhaseIdle      ImportPhase = "idle"
	PhaseParsing   ImportPhase = "parsing"
	PhaseSyncing   ImportPhase = "syncing"
	PhaseSuccess   ImportPhase = "success"
	PhaseError     ImportPhase = "error"
	PhaseCancelled ImportPhase = "cancelled"
)

// ImportProgress is the current state of an import job.
type ImportProgress struct {
	ImportID   string      `json:"import_id"`
	BranchID   uuid.UUID   `json:"branch_id"`
	Phase      ImportPhase `json:"phase"`
	FileName   string      `json:"file_name"`
	TotalRows  int         `json:"total_rows"`
	ValidRows  int         `json:"valid_rows"`
	FailedRows int         `json:"failed_rows"`
	BytesRead  int64       `json:"bytes_read"`
	Percent    int         `json:"percent,omitempty"` // 0 when the upload size is unknown
	Error      string      `json:"error,omitempty"`
}

// ImportState classifies the final effect of an import on the store.
type ImportState string

const (
	// StateComplete: every draft committed, catalog matches the batch.
	StateComplete ImportState = "complete"
	// StateNoChanges: the import failed before any destructive step ran.
	StateNoChanges ImportState = "no_changes"
	// StatePartialClear: existing data was cleared but the new batch did
	// not fully land. The branch catalog needs manual remediation.
	StatePartialClear ImportState = "partial_clear"
	// StatePartialImport: no clear ran, but only part of the batch landed.
	StatePartialImport ImportState = "partial_import"
	// StateRejected: validation failed and the caller chose to abort.
	StateRejected ImportState = "rejected"
	// StateCancelled: the job was cancelled before reaching the store.
	StateCancelled ImportState = "cancelled"
)

// ImportResult is the final outcome of an import job.
type ImportResult struct {
	ImportID    string        `json:"import_id"`
	BranchID    uuid.UUID     `json:"branch_id"`
	FileName    string        `json:"file_name"`
	State       ImportState   `json:"state"`
	TotalRows   int           `json:"total_rows"`
	Imported    int           `json:"imported"`
	RowErrors   []RowError    `json:"row_errors,omitempty"`
	BatchErrors []BatchError  `json:"batch_errors,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// ImportRecord is the persisted history entry for one import job.
type ImportRecord struct {
	ID         uuid.UUID   `json:"id"`
	BranchID   uuid.UUID   `json:"branch_id"`
	FileName   string      `json:"file_name"`
	State      ImportState `json:"state"`
	RowsTotal  int         `json:"rows_total"`
	RowsValid  int         `json:"rows_valid"`
	RowsFailed int         `json:"rows_failed"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// Store is the persistence surface the engine consumes: bulk deletes by
// branch, resolve-or-create for categories, inserts with generated ids,
// and point update/delete by item id. Satisfied by the pgx-backed store
// and by in-memory fakes in tests.
type Store interface {
	ListBranches(ctx context.Context) ([]Branch, error)
	GetBranch(ctx context.Context, id uuid.UUID) (Branch, error)

	ClearModifiers(ctx context.Context, branchID uuid.UUID) error
	ClearItems(ctx context.Context, branchID uuid.UUID) error
	ClearCategories(ctx context.Context, branchID uuid.UUID) error

	// EnsureCategory resolves a category by normalized name within the
	// branch, creating it if absent.
	EnsureCategory(ctx context.Context, branchID uuid.UUID, name string) (Category, error)

	InsertItem(ctx context.Context, item Item) (Item, error)
	InsertModifier(ctx context.Context, mod Modifier) (Modifier, error)

	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	ListItems(ctx context.Context, branchID uuid.UUID) ([]Item, error)

	// UpdateItem overwrites the mutable fields of an item by id. There is
	// no version token: concurrent writers are last-write-wins, so two
	// sessions must not import against the same branch at once.
	UpdateItem(ctx context.Context, item Item) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
}

// History records and lists import outcomes.
type History interface {
	RecordImport(ctx context.Context, rec ImportRecord) error
	ListImports(ctx context.Context, limit int) ([]ImportRecord, error)
}
