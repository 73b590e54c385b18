package catalog

// import.go runs the full import pipeline for one uploaded file:
// parse rows → validate batch → execute plan → broadcast the resulting
// catalog. The job is asynchronous; callers follow it through the
// phase enum (idle → parsing → syncing → success | error).

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// ImportOptions control how a batch is applied.
type ImportOptions struct {
	// ClearFirst deletes the branch's existing catalog (modifiers, then
	// items, then categories) before inserting the batch.
	ClearFirst bool
	// AllowPartial commits the valid subset when some rows fail
	// validation. When false (the default) any row or batch error
	// aborts the import with zero store writes.
	AllowPartial bool
}

// StartImport begins an asynchronous import of tabular data into one
// branch. It returns the import job id immediately; use
// SubscribeProgress and Result to follow it. size is the declared
// upload size in bytes, or 0 if unknown.
func (s *Service) StartImport(ctx context.Context, branchID uuid.UUID, fileName string, r io.Reader, size int64, opts ImportOptions) (string, error) {
	if _, err := s.store.GetBranch(ctx, branchID); err != nil {
		return "", err
	}

	importID := uuid.New().String()
	jobCtx, cancel := context.WithTimeout(context.Background(), s.timeout)

	imp := &activeImport{
		ID:       importID,
		BranchID: branchID,
		FileName: fileName,
		Cancel:   cancel,
		Progress: ImportProgress{
			ImportID: importID,
			BranchID: branchID,
			Phase:    PhaseIdle,
			FileName: fileName,
		},
		Done: make(chan struct{}),
	}

	s.mu.Lock()
	s.imports[importID] = imp
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.processImport(jobCtx, imp, newImportReader(r, size), opts)
	}()

	return importID, nil
}

func (s *Service) processImport(ctx context.Context, imp *activeImport, r *importReader, opts ImportOptions) {
	started := time.Now()
	log := s.log.With("import_id", imp.ID, "branch_id", imp.BranchID, "file", imp.FileName)

	defer func() {
		imp.closeListeners()
		close(imp.Done)
		s.cleanup(imp.ID, cleanupDelay)
	}()

	finish := func(res *ImportResult) {
		res.Duration = time.Since(started)
		imp.Result = res

		switch res.State {
		case StateComplete:
			imp.setPhase(PhaseSuccess)
		case StateCancelled:
			imp.setPhase(PhaseCancelled)
		default:
			imp.update(true, func(p *ImportProgress) {
				p.Error = res.Error
				p.Phase = PhaseError
			})
		}

		// History is written even when the job context is cancelled.
		recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.history.RecordImport(recordCtx, ImportRecord{
			ID:         uuid.MustParse(res.ImportID),
			BranchID:   res.BranchID,
			FileName:   res.FileName,
			State:      res.State,
			RowsTotal:  res.TotalRows,
			RowsValid:  res.TotalRows - len(res.RowErrors),
			RowsFailed: len(res.RowErrors),
			Error:      res.Error,
			StartedAt:  started,
			FinishedAt: time.Now(),
		}); err != nil {
			log.Warn("record import history failed", "error", err)
		}

		log.Info("import finished",
			"state", string(res.State), "imported", res.Imported,
			"row_errors", len(res.RowErrors), "duration_ms", res.Duration.Milliseconds())
	}

	result := &ImportResult{
		ImportID: imp.ID,
		BranchID: imp.BranchID,
		FileName: imp.FileName,
	}

	// Parse + validate.
	imp.setPhase(PhaseParsing)

	rr, err := NewRowReader(r)
	if err != nil {
		result.State = StateRejected
		result.Error = err.Error()
		finish(result)
		return
	}

	report, err := ValidateRows(rr, func(processed int) {
		imp.update(processed%100 == 0, func(p *ImportProgress) {
			p.TotalRows = processed
			p.BytesRead = r.BytesRead
			p.Percent = r.Progress()
		})
	})
	if err != nil {
		result.State = StateRejected
		result.Error = err.Error()
		finish(result)
		return
	}

	result.TotalRows = report.TotalRows
	result.RowErrors = report.RowErrors
	result.BatchErrors = report.BatchErrors
	imp.update(false, func(p *ImportProgress) {
		p.TotalRows = report.TotalRows
		p.ValidRows = len(report.Drafts)
		p.FailedRows = len(report.RowErrors)
		p.BytesRead = r.BytesRead
		p.Percent = r.Progress()
	})

	if !report.OK() && !opts.AllowPartial {
		result.State = StateRejected
		result.Error = "batch failed validation"
		finish(result)
		return
	}

	drafts := report.Drafts
	if !report.OK() {
		drafts = report.UsableDrafts()
	}

	if ctx.Err() != nil {
		result.State = StateCancelled
		result.Error = "cancelled"
		finish(result)
		return
	}

	// Apply to the store.
	imp.setPhase(PhaseSyncing)

	outcome, err := s.planner.Execute(ctx, imp.BranchID, drafts, opts.ClearFirst)
	if err != nil {
		result.State = outcome.State
		result.Error = err.Error()
		finish(result)
		return
	}

	result.State = StateComplete
	result.Imported = len(outcome.Items)

	// Broadcast the committed catalog. Fire-and-forget: delivery errors
	// never fail the import; the store stays the source of truth.
	snap := NewSnapshot(imp.BranchID, outcome.Items)
	delivered := s.broadcaster.Broadcast(imp.BranchID.String(), snap)
	log.Debug("catalog broadcast", "subscribers", delivered, "items", len(snap.Items))

	finish(result)
}
