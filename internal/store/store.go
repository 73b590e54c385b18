// Package store persists the menu catalog in PostgreSQL via pgx.
//
// All methods accept a DBTX so they run identically on a pool or
// inside a transaction.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"menusync/internal/catalog"
)

// DBTX is the database surface the store consumes. Satisfied by both
// *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// ErrNotFound is returned when a point lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store implements catalog.Store and catalog.History on PostgreSQL.
type Store struct {
	db DBTX
}

// New creates a Store over db.
func New(db DBTX) *Store {
	return &Store{db: db}
}

// ListBranches returns all branches ordered by name.
func (s *Store) ListBranches(ctx context.Context) ([]catalog.Branch, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM branches ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []catalog.Branch
	for rows.Next() {
		var id pgtype.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		branches = append(branches, catalog.Branch{ID: id.Bytes, Name: name})
	}
	return branches, rows.Err()
}

// GetBranch returns one branch by id.
func (s *Store) GetBranch(ctx context.Context, id uuid.UUID) (catalog.Branch, error) {
	var name string
	err := s.db.QueryRow(ctx, `SELECT name FROM branches WHERE id = $1`, toPgUUID(id)).Scan(&name)
	if err == pgx.ErrNoRows {
		return catalog.Branch{}, fmt.Errorf("branch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return catalog.Branch{}, fmt.Errorf("get branch: %w", err)
	}
	return catalog.Branch{ID: id, Name: name}, nil
}

// ClearModifiers deletes every modifier in the branch.
func (s *Store) ClearModifiers(ctx context.Context, branchID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM item_modifiers
		WHERE item_id IN (
			SELECT i.id FROM items i
			JOIN categories c ON c.id = i.category_id
			WHERE c.branch_id = $1
		)`, toPgUUID(branchID))
	if err != nil {
		return fmt.Errorf("clear modifiers: %w", err)
	}
	return nil
}

// ClearItems deletes every item in the branch.
func (s *Store) ClearItems(ctx context.Context, branchID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM items
		WHERE category_id IN (SELECT id FROM categories WHERE branch_id = $1)`,
		toPgUUID(branchID))
	if err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	return nil
}

// ClearCategories deletes every category in the branch.
func (s *Store) ClearCategories(ctx context.Context, branchID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM categories WHERE branch_id = $1`, toPgUUID(branchID))
	if err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	return nil
}

// EnsureCategory resolves a category by normalized name within the
// branch, creating it when absent. The first spelling seen wins.
func (s *Store) EnsureCategory(ctx context.Context, branchID uuid.UUID, name string) (catalog.Category, error) {
	var id pgtype.UUID
	var stored string

	err := s.db.QueryRow(ctx, `
		SELECT id, name FROM categories
		WHERE branch_id = $1 AND lower(btrim(name)) = lower(btrim($2))`,
		toPgUUID(branchID), name).Scan(&id, &stored)
	if err == nil {
		return catalog.Category{ID: id.Bytes, BranchID: branchID, Name: stored}, nil
	}
	if err != pgx.ErrNoRows {
		return catalog.Category{}, fmt.Errorf("resolve category %q: %w", name, err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO categories (id, branch_id, name)
		VALUES (gen_random_uuid(), $1, $2)
		RETURNING id`, toPgUUID(branchID), name).Scan(&id)
	if err != nil {
		return catalog.Category{}, fmt.Errorf("create category %q: %w", name, err)
	}
	return catalog.Category{ID: id.Bytes, BranchID: branchID, Name: name}, nil
}

// InsertItem inserts one item and returns it with the store-assigned id.
func (s *Store) InsertItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO items (id, key, category_id, name_primary, name_secondary, price_cents)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id`,
		item.Key, toPgUUID(item.CategoryID), item.NamePrimary,
		toPgText(item.NameSecondary), item.PriceCents).Scan(&id)
	if err != nil {
		return catalog.Item{}, fmt.Errorf("insert item %q: %w", item.NamePrimary, err)
	}
	item.ID = id.Bytes
	return item, nil
}

// InsertModifier inserts one modifier for an existing item.
func (s *Store) InsertModifier(ctx context.Context, mod catalog.Modifier) (catalog.Modifier, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO item_modifiers (id, item_id, name, price_cents)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id`,
		toPgUUID(mod.ItemID), mod.Name, mod.PriceCents).Scan(&id)
	if err != nil {
		return catalog.Modifier{}, fmt.Errorf("insert modifier %q: %w", mod.Name, err)
	}
	mod.ID = id.Bytes
	return mod, nil
}

// GetItem returns one item by id, including its modifiers.
func (s *Store) GetItem(ctx context.Context, id uuid.UUID) (catalog.Item, error) {
	var item catalog.Item
	var itemID, categoryID, branchID pgtype.UUID
	var secondary pgtype.Text

	err := s.db.QueryRow(ctx, `
		SELECT i.id, i.key, i.category_id, c.branch_id, c.name,
		       i.name_primary, i.name_secondary, i.price_cents
		FROM items i
		JOIN categories c ON c.id = i.category_id
		WHERE i.id = $1`, toPgUUID(id)).
		Scan(&itemID, &item.Key, &categoryID, &branchID, &item.Category,
			&item.NamePrimary, &secondary, &item.PriceCents)
	if err == pgx.ErrNoRows {
		return catalog.Item{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return catalog.Item{}, fmt.Errorf("get item: %w", err)
	}

	item.ID = itemID.Bytes
	item.CategoryID = categoryID.Bytes
	item.BranchID = branchID.Bytes
	item.NameSecondary = secondary.String

	if err := s.itemModifiers(ctx, map[uuid.UUID]*catalog.Item{item.ID: &item}); err != nil {
		return catalog.Item{}, err
	}
	return item, nil
}

// ListItems returns the full catalog of one branch ordered by category
// then name, with modifiers attached.
func (s *Store) ListItems(ctx context.Context, branchID uuid.UUID) ([]catalog.Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT i.id, i.key, i.category_id, c.name,
		       i.name_primary, i.name_secondary, i.price_cents
		FROM items i
		JOIN categories c ON c.id = i.category_id
		WHERE c.branch_id = $1
		ORDER BY c.name, i.name_primary`, toPgUUID(branchID))
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []catalog.Item
	byID := make(map[uuid.UUID]*catalog.Item)
	for rows.Next() {
		var item catalog.Item
		var itemID, categoryID pgtype.UUID
		var secondary pgtype.Text
		if err := rows.Scan(&itemID, &item.Key, &categoryID, &item.Category,
			&item.NamePrimary, &secondary, &item.PriceCents); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item.ID = itemID.Bytes
		item.CategoryID = categoryID.Bytes
		item.BranchID = branchID
		item.NameSecondary = secondary.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		byID[items[i].ID] = &items[i]
	}
	if err := s.itemModifiers(ctx, byID); err != nil {
		return nil, err
	}
	return items, nil
}

// itemModifiers loads modifiers for the given items and attaches them.
func (s *Store) itemModifiers(ctx context.Context, items map[uuid.UUID]*catalog.Item) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]pgtype.UUID, 0, len(items))
	for id := range items {
		ids = append(ids, toPgUUID(id))
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, item_id, name, price_cents
		FROM item_modifiers
		WHERE item_id = ANY($1)
		ORDER BY name`, ids)
	if err != nil {
		return fmt.Errorf("list modifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var mod catalog.Modifier
		var modID, itemID pgtype.UUID
		if err := rows.Scan(&modID, &itemID, &mod.Name, &mod.PriceCents); err != nil {
			return fmt.Errorf("scan modifier: %w", err)
		}
		mod.ID = modID.Bytes
		mod.ItemID = itemID.Bytes
		if item, ok := items[mod.ItemID]; ok {
			item.Modifiers = append(item.Modifiers, mod)
		}
	}
	return rows.Err()
}

// UpdateItem overwrites the mutable fields of an item by id. No version
// check: last write wins, per the engine's documented concurrency model.
func (s *Store) UpdateItem(ctx context.Context, item catalog.Item) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE items
		SET name_primary = $2, name_secondary = $3, price_cents = $4
		WHERE id = $1`,
		toPgUUID(item.ID), item.NamePrimary, toPgText(item.NameSecondary), item.PriceCents)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", item.ID, ErrNotFound)
	}
	return nil
}

// DeleteItem removes one item. Its modifiers go with it (FK cascade).
func (s *Store) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM items WHERE id = $1`, toPgUUID(id))
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordImport persists one import history record.
func (s *Store) RecordImport(ctx context.Context, rec catalog.ImportRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO imports (id, branch_id, file_name, state, rows_total,
		                     rows_valid, rows_failed, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		toPgUUID(rec.ID), toPgUUID(rec.BranchID), rec.FileName, string(rec.State),
		rec.RowsTotal, rec.RowsValid, rec.RowsFailed, toPgText(rec.Error),
		rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return nil
}

// ListImports returns recent import records, newest first.
func (s *Store) ListImports(ctx context.Context, limit int) ([]catalog.ImportRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, branch_id, file_name, state, rows_total, rows_valid,
		       rows_failed, error, started_at, finished_at
		FROM imports
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	defer rows.Close()

	var recs []catalog.ImportRecord
	for rows.Next() {
		var rec catalog.ImportRecord
		var id, branchID pgtype.UUID
		var state string
		var errText pgtype.Text
		if err := rows.Scan(&id, &branchID, &rec.FileName, &state, &rec.RowsTotal,
			&rec.RowsValid, &rec.RowsFailed, &errText, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan import record: %w", err)
		}
		rec.ID = id.Bytes
		rec.BranchID = branchID.Bytes
		rec.State = catalog.ImportState(state)
		rec.Error = errText.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
