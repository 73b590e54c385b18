package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal input failures. These fail the whole import and are reported
// once, as opposed to per-row errors which are collected.
var (
	// ErrNoHeader: no row containing the required columns was found.
	ErrNoHeader = errors.New("header row with required columns not found")
	// ErrNoData: the file contained a header but zero data rows.
	ErrNoData = errors.New("no data rows after header")
)

// RowError is a validation failure for a single row. The batch keeps
// processing; errors are accumulated so the operator sees all of them.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// BatchError is a cross-row failure, such as two rows claiming the same
// category + primary name. Silent deduplication would discard data the
// operator did not intend to lose, so these are always surfaced.
type BatchError struct {
	Key     string `json:"key"`
	Rows    []int  `json:"rows"`
	Message string `json:"message"`
}

func (e BatchError) Error() string {
	rows := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		rows[i] = fmt.Sprintf("%d", r)
	}
	return fmt.Sprintf("rows %s: %s", strings.Join(rows, ", "), e.Message)
}

// PlanStep identifies a phase of import execution for error reporting.
type PlanStep string

const (
	StepClearModifiers    PlanStep = "clear_modifiers"
	StepClearItems        PlanStep = "clear_items"
	StepClearCategories   PlanStep = "clear_categories"
	StepResolveCategories PlanStep = "resolve_categories"
	StepInsertItems       PlanStep = "insert_items"
	StepInsertModifiers   PlanStep = "insert_modifiers"
)

// StepError reports which plan step failed and, when row-scoped, which
// source row was being applied. Enough context for manual remediation;
// the engine never retries on its own.
type StepError struct {
	Step PlanStep
	Row  int // 0 when the failure is not tied to a single row
	Err  error
}

func (e *StepError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("%s (row %d): %v", e.Step, e.Row, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
