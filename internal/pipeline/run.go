package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
)

// RunReport summarizes one batch run. Counters cover this run only; Stats is
// the cumulative ledger view after the run.
type RunReport struct {
	RunID       string
	Outcomes    []entity.ProcessingOutcome // input order; unstarted files omitted
	Rows        []entity.Row
	Processed   int
	Skipped     int
	OK          int
	NeedsReview int
	Errors      int
	Exported    int
	SaveErrors  int
	Canceled    bool
	Stats       entity.RunStats
	Duration    time.Duration
}

// Run processes paths, saving the bank after every file, then exports the
// accumulated rows to dest and saves once more. File failures never abort the
// run; the returned error carries export, final save and cancellation errors.
func (o *Orchestrator) Run(ctx context.Context, bank *ledger.MemoryBank, paths []string, dest string) (RunReport, error) {
	start := time.Now()
	runID := bank.StartRun(entity.RunInfo{Mode: o.cfg.Mode, Provider: o.cfg.Provider, InputDir: o.cfg.InputDir})
	ctx = common.WithRunID(ctx, runID)
	log := common.LoggerFromContext(ctx, o.logger)
	log.Info("pipeline.run.start", "files", len(paths), "workers", o.workers(), "mode", o.cfg.Mode)

	results := make([]entity.ProcessingOutcome, len(paths))
	started := make([]bool, len(paths))
	var saveErrs atomic.Int32

	processOne := func(i int) {
		results[i] = o.ProcessFile(ctx, bank, paths[i])
		if err := o.checkpoint(ctx, bank); err != nil {
			saveErrs.Add(1)
		}
	}

	if o.workers() <= 1 {
		for i := range paths {
			if ctx.Err() != nil {
				break
			}
			started[i] = true
			processOne(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(o.workers())
		for i := range paths {
			if ctx.Err() != nil {
				break
			}
			started[i] = true
			g.Go(func() error {
				processOne(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	report := RunReport{RunID: runID, SaveErrors: int(saveErrs.Load())}
	items := 0
	for i, out := range results {
		if !started[i] {
			continue
		}
		report.Outcomes = append(report.Outcomes, out)
		report.Rows = append(report.Rows, out.Rows...)
		switch {
		case out.Skipped:
			report.Skipped++
			continue
		case out.Stage != constants.StageRecorded:
			continue
		}
		report.Processed++
		items += len(out.Invoice.LineItems)
		switch out.Status {
		case constants.StatusOK:
			report.OK++
		case constants.StatusNeedsReview:
			report.NeedsReview++
		case constants.StatusError:
			report.Errors++
		}
	}

	// finish the run even when ctx is canceled so finished work is not lost
	finishCtx := context.WithoutCancel(ctx)
	var errs []error
	if err := ctx.Err(); err != nil {
		report.Canceled = true
		errs = append(errs, err)
	}
	if n, err := o.export(finishCtx, report.Rows, dest); err != nil {
		errs = append(errs, err)
	} else {
		report.Exported = n
		if n > 0 {
			bank.AddExportedLineItems(items)
		}
	}
	bank.EndRun()
	if err := o.checkpoint(finishCtx, bank); err != nil {
		report.SaveErrors++
		errs = append(errs, err)
	}

	report.Stats = bank.Stats()
	report.Duration = time.Since(start)
	log.Info("pipeline.run.done",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"ok", report.OK,
		"needs_review", report.NeedsReview,
		"error", report.Errors,
		"rows", len(report.Rows),
		"exported", report.Exported,
		"save_errors", report.SaveErrors,
		"canceled", report.Canceled,
		"elapsed_ms", report.Duration.Milliseconds(),
	)
	return report, errors.Join(errs...)
}

func (o *Orchestrator) workers() int {
	if o.cfg.Workers < 1 {
		return 1
	}
	return o.cfg.Workers
}

// checkpoint saves the bank; failures are logged and returned, never fatal.
func (o *Orchestrator) checkpoint(ctx context.Context, bank *ledger.MemoryBank) error {
	start := time.Now()
	err := bank.Save(ctx)
	o.observer.ObserveSave(time.Since(start), err)
	if err != nil {
		common.LoggerFromContext(ctx, o.logger).Warn("pipeline.save.error", "error", err)
	}
	return err
}

// export writes rows and returns how many were written.
func (o *Orchestrator) export(ctx context.Context, rows []entity.Row, dest string) (int, error) {
	if o.exporter == nil || dest == "" {
		return 0, nil
	}
	err := o.exporter.Write(ctx, rows, dest)
	o.observer.ObserveExport(len(rows), err)
	if err != nil {
		common.LoggerFromContext(ctx, o.logger).Error("pipeline.export.error", "dest", dest, "error", err)
		return 0, fmt.Errorf("export %s: %w", dest, err)
	}
	common.LoggerFromContext(ctx, o.logger).Info("pipeline.export.ok", "dest", dest, "rows", len(rows))
	return len(rows), nil
}
