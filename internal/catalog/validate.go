package catalog

// validate.go turns parsed rows into strongly-typed item drafts.
// Validation never short-circuits: every row is processed and the full
// error list is reported alongside the valid drafts, so the caller
// decides whether a partially-valid batch is still usable.

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// normalizeName collapses whitespace and case-folds a name for
// comparison. Secondary names are localized, so plain ToLower is not
// enough.
func normalizeName(s string) string {
	return foldCaser.String(strings.Join(strings.Fields(s), " "))
}

// ItemKey derives the stable natural identifier for an item from its
// category and primary name. The key survives re-imports and is what
// consumers diff against.
func ItemKey(category, namePrimary string) string {
	return normalizeName(category) + "/" + normalizeName(namePrimary)
}

// ValidationReport is the complete outcome of validating one batch.
type ValidationReport struct {
	Drafts      []ItemDraft  `json:"-"`
	TotalRows   int          `json:"total_rows"`
	RowErrors   []RowError   `json:"row_errors,omitempty"`
	BatchErrors []BatchError `json:"batch_errors,omitempty"`
}

// OK reports whether the batch validated without any errors.
func (r *ValidationReport) OK() bool {
	return len(r.RowErrors) == 0 && len(r.BatchErrors) == 0
}

// UsableDrafts returns the drafts safe to commit when the caller
// chooses to proceed despite errors: every draft whose key is involved
// in a duplicate conflict is excluded, since picking a winner would
// silently discard operator data.
func (r *ValidationReport) UsableDrafts() []ItemDraft {
	if len(r.BatchErrors) == 0 {
		return r.Drafts
	}

	conflicted := make(map[string]bool, len(r.BatchErrors))
	for _, be := range r.BatchErrors {
		conflicted[be.Key] = true
	}

	usable := make([]ItemDraft, 0, len(r.Drafts))
	for _, d := range r.Drafts {
		if !conflicted[d.Key] {
			usable = append(usable, d)
		}
	}
	return usable
}

// ValidateRows consumes the parser's sequence and produces drafts plus
// accumulated errors. onRow, if non-nil, is invoked after each row for
// progress reporting. The returned error is terminal (unreadable input
// or zero data rows); per-row problems land in the report instead.
func ValidateRows(rr *RowReader, onRow func(processed int)) (*ValidationReport, error) {
	report := &ValidationReport{}
	seen := make(map[string][]int) // normalized key → source rows

	for {
		row, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			var rowErr RowError
			if errors.As(err, &rowErr) {
				report.TotalRows++
				report.RowErrors = append(report.RowErrors, rowErr)
				if onRow != nil {
					onRow(report.TotalRows)
				}
				continue
			}
			return nil, err
		}

		report.TotalRows++
		draft, errs := validateRow(row)
		if len(errs) > 0 {
			report.RowErrors = append(report.RowErrors, errs...)
		} else {
			seen[draft.Key] = append(seen[draft.Key], row.Line)
			report.Drafts = append(report.Drafts, draft)
		}

		if onRow != nil {
			onRow(report.TotalRows)
		}
	}

	if report.TotalRows == 0 {
		return nil, ErrNoData
	}

	for key, rows := range seen {
		if len(rows) > 1 {
			report.BatchErrors = append(report.BatchErrors, BatchError{
				Key:     key,
				Rows:    rows,
				Message: "duplicate category + name within the batch",
			})
		}
	}

	return report, nil
}

// validateRow checks one row against the catalog rules and builds a
// draft. All failures for the row are returned, not just the first.
func validateRow(row Row) (ItemDraft, []RowError) {
	var errs []RowError

	category := row.Get(ColCategory)
	if category == "" {
		errs = append(errs, RowError{Row: row.Line, Field: ColCategory, Message: "required field is empty"})
	}

	name := row.Get(ColNamePrimary)
	if name == "" {
		errs = append(errs, RowError{Row: row.Line, Field: ColNamePrimary, Message: "required field is empty"})
	}

	var cents int64
	rawPrice := row.Get(ColPrice)
	if rawPrice == "" {
		errs = append(errs, RowError{Row: row.Line, Field: ColPrice, Message: "required field is empty"})
	} else {
		var err error
		cents, err = ParsePrice(rawPrice)
		if err != nil {
			errs = append(errs, RowError{Row: row.Line, Field: ColPrice, Value: rawPrice, Message: err.Error()})
		}
	}

	mods, modErrs := parseModifiers(row)
	errs = append(errs, modErrs...)

	if len(errs) > 0 {
		return ItemDraft{}, errs
	}

	return ItemDraft{
		Row:           row.Line,
		Key:           ItemKey(category, name),
		Category:      category,
		NamePrimary:   name,
		NameSecondary: row.Get(ColNameSecondary),
		PriceCents:    cents,
		Modifiers:     mods,
	}, nil
}

// parseModifiers parses the optional modifiers cell. Format is
// "name:price" pairs separated by ';', e.g. "Extra cheese:1.50;Large:2".
func parseModifiers(row Row) ([]ModifierDraft, []RowError) {
	raw := row.Get(ColModifiers)
	if raw == "" {
		return nil, nil
	}

	var mods []ModifierDraft
	var errs []RowError

	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, price, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			errs = append(errs, RowError{
				Row: row.Line, Field: ColModifiers, Value: part,
				Message: "modifier must be name:price",
			})
			continue
		}

		cents, err := ParsePrice(price)
		if err != nil {
			errs = append(errs, RowError{Row: row.Line, Field: ColModifiers, Value: part, Message: err.Error()})
			continue
		}

		mods = append(mods, ModifierDraft{Name: name, PriceCents: cents})
	}

	return mods, errs
}
