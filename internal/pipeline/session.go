package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
)

// Session is a long-lived run fed one path at a time, as in watch mode. Every
// processed file is saved immediately; Close re-exports the whole ledger.
type Session struct {
	orch  *Orchestrator
	bank  *ledger.MemoryBank
	dest  string
	runID string

	mu     sync.Mutex
	closed bool
	items  map[string]int // line items of the latest recording per path
}

// StartSession opens a run on bank.
func (o *Orchestrator) StartSession(bank *ledger.MemoryBank, dest string) *Session {
	runID := bank.StartRun(entity.RunInfo{Mode: o.cfg.Mode, Provider: o.cfg.Provider, InputDir: o.cfg.InputDir})
	o.logger.Info("pipeline.session.start", "run_id", runID, "dest", dest)
	return &Session{orch: o, bank: bank, dest: dest, runID: runID, items: map[string]int{}}
}

func (s *Session) RunID() string { return s.runID }

// Process runs one file and checkpoints the bank, even when ctx has expired.
// The returned error is the save error; processing failures are reported in
// the outcome.
func (s *Session) Process(ctx context.Context, path string) (entity.ProcessingOutcome, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return entity.ProcessingOutcome{}, errors.New("session closed")
	}
	ctx = common.WithRunID(ctx, s.runID)
	out := s.orch.ProcessFile(ctx, s.bank, path)
	if out.Stage == constants.StageRecorded {
		s.mu.Lock()
		s.items[out.File.Key()] = len(out.Invoice.LineItems)
		s.mu.Unlock()
	}
	return out, s.orch.checkpoint(context.WithoutCancel(ctx), s.bank)
}

// Close exports every recorded row, ends the run and saves. Only line items
// recorded during the session add to the exported counter. It is safe to
// call more than once; later calls do nothing.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx = common.WithRunID(context.WithoutCancel(ctx), s.runID)
	var errs []error
	n, err := s.orch.export(ctx, s.bank.Rows(), s.dest)
	if err != nil {
		errs = append(errs, err)
	} else if n > 0 {
		s.mu.Lock()
		items := 0
		for _, c := range s.items {
			items += c
		}
		s.mu.Unlock()
		s.bank.AddExportedLineItems(items)
	}
	s.bank.EndRun()
	if err := s.orch.checkpoint(ctx, s.bank); err != nil {
		errs = append(errs, err)
	}
	s.orch.logger.Info("pipeline.session.done", "run_id", s.runID, "exported", n)
	return errors.Join(errs...)
}
