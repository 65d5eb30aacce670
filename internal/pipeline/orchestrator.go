// Package pipeline drives documents through text extraction, invoice
// extraction, vendor policy and the memory bank.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/ingest"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
	"github.com/joseph-ayodele/invoice-ledger/internal/policy"
)

type Config struct {
	Workers        int           // <= 1 processes files sequentially
	CallTimeout    time.Duration // per TextProvider / Extractor call; 0 disables
	IncludeSkipped bool          // re-export rows of skipped files from the ledger
	UsesLLM        bool          // the wired extractor is a real model
	Mode           string
	Provider       string
	InputDir       string
}

// Orchestrator processes files one at a time or with bounded parallelism.
// It holds no ledger state; the MemoryBank is passed to every call.
type Orchestrator struct {
	text      TextProvider
	extractor llm.Extractor
	exporter  Exporter
	observer  Observer
	identify  func(path string) (entity.FileIdentity, error)
	cfg       Config
	logger    *slog.Logger
}

type Option func(*Orchestrator)

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithIdentify replaces ingest.Identify.
func WithIdentify(fn func(path string) (entity.FileIdentity, error)) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.identify = fn
		}
	}
}

// New wires an Orchestrator. exporter may be nil when rows are not written.
func New(text TextProvider, extractor llm.Extractor, exporter Exporter, cfg Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		text:      text,
		extractor: extractor,
		exporter:  exporter,
		observer:  noopObserver{},
		identify:  ingest.Identify,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// fileRun is the state of one file moving through
// Pending -> TextLoaded -> FirstPassParsed -> [Reparsed ->] Finalized -> Recorded.
// Any failure jumps straight to Finalized with an ERROR invoice.
type fileRun struct {
	id        entity.FileIdentity
	stage     constants.Stage
	text      string
	candidate entity.Invoice
	final     entity.Invoice
	reparsed  bool
	calls     int
	err       error
}

func (r *fileRun) finalize(inv entity.Invoice) {
	r.final = inv
	r.stage = constants.StageFinalized
}

func (r *fileRun) fail(err error) {
	r.err = err
	r.finalize(entity.FailedInvoice(r.candidate.VendorName, failureReason(err)))
}

// ProcessFile runs the pipeline for one file and records the outcome in bank.
// It never returns an error: failures become ERROR outcomes, including an
// expired deadline on ctx. The only unrecorded outcome is one interrupted by
// cancellation of ctx, so the file is retried on the next run.
func (o *Orchestrator) ProcessFile(ctx context.Context, bank *ledger.MemoryBank, path string) entity.ProcessingOutcome {
	start := time.Now()
	ctx = common.WithFile(ctx, path)
	log := common.LoggerFromContext(ctx, o.logger).With("path", path)

	run := &fileRun{stage: constants.StagePending}
	id, err := o.identify(path)
	run.id = id
	if err != nil {
		run.fail(fmt.Errorf("%w: %w", common.ErrTextExtraction, err))
	} else if bank.HasProcessed(id) {
		out := o.skipped(bank, id)
		out.Duration = time.Since(start)
		log.Info("pipeline.file.skipped", "status", out.Status, "hash", id.ContentHash)
		o.observer.ObserveOutcome(out)
		return out
	}

	log.Debug("pipeline.file.start", "hash", id.ContentHash)
	for run.stage != constants.StageFinalized {
		o.advance(ctx, bank, run)
	}

	out := entity.ProcessingOutcome{
		File:           run.id,
		Invoice:        run.final,
		Status:         run.final.Status,
		Stage:          run.stage,
		Reparsed:       run.reparsed,
		ExtractorCalls: run.calls,
		UsedLLM:        o.cfg.UsesLLM && run.calls > 0,
		Err:            run.err,
	}

	if errors.Is(ctx.Err(), context.Canceled) && run.err != nil {
		out.Err = errors.Join(ctx.Err(), run.err)
		out.Duration = time.Since(start)
		log.Warn("pipeline.file.interrupted", "error", out.Err)
		return out
	}

	bank.RecordOutcome(run.id, run.final, run.final.Status, ledger.WithError(run.err), ledger.WithLLM(out.UsedLLM))
	out.Stage = constants.StageRecorded
	out.Rows = entity.ExpandRows(run.id.Path, run.final)
	out.Duration = time.Since(start)

	attrs := []any{
		"status", out.Status,
		"vendor", out.Invoice.VendorName,
		"items", len(out.Invoice.LineItems),
		"reparsed", out.Reparsed,
		"extractor_calls", out.ExtractorCalls,
		"elapsed_ms", out.Duration.Milliseconds(),
	}
	switch {
	case out.Err != nil:
		log.Warn("pipeline.file.error", append(attrs, "kind", common.KindOf(out.Err), "error", out.Err)...)
	case out.Status == constants.StatusNeedsReview:
		log.Info("pipeline.file.review", append(attrs, "reason", out.Invoice.ReviewReason)...)
	default:
		log.Info("pipeline.file.ok", attrs...)
	}
	o.observer.ObserveOutcome(out)
	return out
}

// advance performs exactly one state transition.
func (o *Orchestrator) advance(ctx context.Context, bank *ledger.MemoryBank, r *fileRun) {
	switch r.stage {
	case constants.StagePending:
		text, err := o.loadText(ctx, r.id.Path)
		if err != nil {
			r.fail(err)
			return
		}
		r.text = text
		r.stage = constants.StageTextLoaded

	case constants.StageTextLoaded:
		inv, err := o.parse(ctx, r, PassFirst, "")
		if err != nil {
			r.fail(err)
			return
		}
		r.candidate = inv
		r.stage = constants.StageFirstPassParsed

	case constants.StageFirstPassParsed:
		if !policy.NeedsContextReparse(bank, r.candidate) {
			r.finalize(policy.Apply(bank, r.candidate))
			return
		}
		flag, _ := bank.VendorFlag(r.candidate.VendorName)
		inv, err := o.parse(ctx, r, PassReparse, policy.VendorContext(flag))
		if err != nil {
			r.fail(err)
			return
		}
		r.candidate = inv
		r.reparsed = true
		r.stage = constants.StageReparsed

	case constants.StageReparsed:
		r.finalize(policy.Apply(bank, r.candidate))

	default:
		r.fail(fmt.Errorf("%w: unexpected pipeline stage %q", common.ErrInternal, r.stage))
	}
}

func (o *Orchestrator) loadText(ctx context.Context, path string) (string, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	text, err := o.text.Text(callCtx, path)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("text extraction %s: %w", o.timedOut(ctx), err)
		}
		if !errors.Is(err, common.ErrTextExtraction) {
			err = fmt.Errorf("%w: %w", common.ErrTextExtraction, err)
		}
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: document has no text", common.ErrTextExtraction)
	}
	return text, nil
}

func (o *Orchestrator) parse(ctx context.Context, r *fileRun, pass, vendorContext string) (entity.Invoice, error) {
	callCtx, cancel := o.callContext(ctx)
	defer cancel()

	r.calls++
	start := time.Now()
	inv, err := o.extractor.Parse(callCtx, llm.ParseRequest{
		Text:          r.text,
		FilenameHint:  filepath.Base(r.id.Path),
		VendorContext: vendorContext,
	})
	if err == nil {
		if vErr := inv.Validate(); vErr != nil {
			err = fmt.Errorf("%w: %w", common.ErrSchemaViolation, vErr)
		}
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: extractor call %s: %w", common.ErrUpstreamService, o.timedOut(ctx), err)
		} else if common.KindOf(err) == "internal" {
			err = fmt.Errorf("%w: %w", common.ErrUpstreamService, err)
		}
	}
	o.observer.ObserveExtractorCall(pass, time.Since(start), err)
	return inv, err
}

// timedOut names the deadline that expired: the per-call one or the caller's.
func (o *Orchestrator) timedOut(ctx context.Context) string {
	if ctx.Err() == nil {
		return fmt.Sprintf("timed out after %s", o.cfg.CallTimeout)
	}
	return "timed out: processing deadline exceeded"
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) skipped(bank *ledger.MemoryBank, id entity.FileIdentity) entity.ProcessingOutcome {
	bank.MarkSkipped(id)
	out := entity.ProcessingOutcome{File: id, Skipped: true, Stage: constants.StageSkipped}
	prior, ok := bank.LastOutcome(id.Path)
	if !ok {
		return out
	}
	out.Prior = &prior
	out.Status = prior.Status
	out.UsedLLM = prior.UsedLLM
	if prior.Invoice != nil {
		out.Invoice = *prior.Invoice
	}
	if o.cfg.IncludeSkipped {
		out.Rows = ledger.RecordRows(prior)
	}
	return out
}

// failureReason is the review_reason of an ERROR invoice.
func failureReason(err error) string {
	var prefix string
	switch common.KindOf(err) {
	case "text_extraction":
		prefix = "text extraction failed"
	case "schema_violation":
		prefix = "extractor output invalid"
	case "upstream_service":
		prefix = "extractor call failed"
	default:
		prefix = "processing failed"
	}
	return prefix + ": " + err.Error()
}
