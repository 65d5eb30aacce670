package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// Store persists the memory bank aggregate. Load returns an error wrapping
// common.ErrNotFound when no prior state exists.
type Store interface {
	Load(ctx context.Context) (entity.LedgerState, error)
	Save(ctx context.Context, state entity.LedgerState) error
}

// MemoryBank is the single source of truth for processed files, vendor flags
// and run statistics. All mutations are serialized by mu; Save snapshots the
// aggregate under the read lock so a partial mutation is never persisted.
type MemoryBank struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state entity.LedgerState

	saveMu sync.Mutex
}

// Option configures a MemoryBank.
type Option func(*MemoryBank)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *MemoryBank) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns an empty bank. A nil store keeps the bank in memory only.
func New(store Store, logger *slog.Logger, opts ...Option) *MemoryBank {
	if logger == nil {
		logger = slog.Default()
	}
	b := &MemoryBank{
		store:  store,
		logger: logger,
		now:    time.Now,
		state:  entity.NewLedgerState(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Load reads the persisted aggregate. It never fails: a missing or unreadable
// store yields an empty bank.
func Load(ctx context.Context, store Store, logger *slog.Logger, opts ...Option) *MemoryBank {
	b := New(store, logger, opts...)
	if store == nil {
		return b
	}
	state, err := store.Load(ctx)
	switch {
	case err == nil:
		state.Normalize()
		b.state = state
		b.logger.Info("ledger.load.ok",
			"files", len(state.ProcessedFiles),
			"flagged_vendors", len(state.VendorFlags),
			"schema_version", state.SchemaVersion,
		)
	case errors.Is(err, common.ErrNotFound):
		b.logger.Info("ledger.load.empty", "reason", "no prior state")
	default:
		b.logger.Warn("ledger.load.unreadable", "error", err, "fallback", "empty ledger")
	}
	return b
}

// HasProcessed is true iff a record exists for the identity and its content
// hash matches. An identity without a hash is never considered processed.
func (b *MemoryBank) HasProcessed(id entity.FileIdentity) bool {
	if id.ContentHash == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.state.ProcessedFiles[id.Key()]
	return ok && rec.ContentHash == id.ContentHash
}

// LastOutcome returns the stored record for a path.
func (b *MemoryBank) LastOutcome(path string) (entity.ProcessedFile, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.state.ProcessedFiles[path]
	if !ok {
		return entity.ProcessedFile{}, false
	}
	return cloneRecord(rec), true
}

// RecordOption adds detail to a recorded outcome.
type RecordOption func(*entity.ProcessedFile)

// WithError stores the failure text on the record.
func WithError(err error) RecordOption {
	return func(r *entity.ProcessedFile) {
		if err != nil {
			r.Error = err.Error()
		}
	}
}

// WithLLM marks whether the real extractor produced the invoice.
func WithLLM(used bool) RecordOption {
	return func(r *entity.ProcessedFile) { r.UsedLLM = used }
}

// RecordOutcome upserts the file record, bumps statistics and flags the
// vendor when status is NEEDS_REVIEW or ERROR.
func (b *MemoryBank) RecordOutcome(id entity.FileIdentity, inv entity.Invoice, status constants.InvoiceStatus, opts ...RecordOption) {
	now := b.now().UTC()
	stored := inv.Clone()
	stored.Status = status
	rec := entity.ProcessedFile{
		Path:          id.Path,
		ContentHash:   id.ContentHash,
		Status:        status,
		VendorName:    inv.VendorName,
		InvoiceNumber: inv.InvoiceNumber,
		ReviewReason:  inv.ReviewReason,
		Timestamp:     now,
		Invoice:       &stored,
	}
	for _, o := range opts {
		o(&rec)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.ProcessedFiles[id.Key()] = rec
	b.state.Stats.Count(status)
	if rec.UsedLLM {
		b.state.Stats.LLMFiles++
	}
	if status.Flags() {
		b.flagLocked(inv.VendorName, flagReason(rec), now)
	}
}

// IsVendorFlagged returns the flag reason for a vendor, matched case and whitespace insensitively.
func (b *MemoryBank) IsVendorFlagged(vendorName string) (string, bool) {
	f, ok := b.VendorFlag(vendorName)
	if !ok {
		return "", false
	}
	return f.Reason, true
}

// VendorFlag returns the full flag entry for a vendor.
func (b *MemoryBank) VendorFlag(vendorName string) (entity.VendorFlag, bool) {
	key := entity.NormalizeVendor(vendorName)
	if key == "" {
		return entity.VendorFlag{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.state.VendorFlags[key]
	return f, ok
}

// FlagVendor upserts a flag and increments its occurrence count.
func (b *MemoryBank) FlagVendor(vendorName, reason string) {
	now := b.now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flagLocked(vendorName, reason, now)
}

func (b *MemoryBank) flagLocked(vendorName, reason string, now time.Time) {
	key := entity.NormalizeVendor(vendorName)
	if key == "" {
		return
	}
	f, ok := b.state.VendorFlags[key]
	if !ok {
		f = entity.VendorFlag{
			VendorName:     strings.TrimSpace(vendorName),
			FirstFlaggedAt: now,
		}
	}
	f.OccurrenceCount++
	if reason != "" {
		f.Reason = reason
	}
	f.LastSeenAt = now
	b.state.VendorFlags[key] = f
	b.logger.Info("ledger.vendor.flagged", "vendor", f.VendorName, "count", f.OccurrenceCount, "reason", f.Reason)
}

func flagReason(rec entity.ProcessedFile) string {
	switch {
	case rec.ReviewReason != "":
		return rec.ReviewReason
	case rec.Error != "":
		return rec.Error
	default:
		return string(rec.Status)
	}
}

// MarkSkipped counts a file skipped because it was already processed.
func (b *MemoryBank) MarkSkipped(id entity.FileIdentity) {
	b.mu.Lock()
	b.state.Stats.Skipped++
	b.mu.Unlock()
	b.logger.Debug("ledger.file.skipped", "path", id.Path, "hash", id.ContentHash)
}

// AddExportedLineItems adds n to the exported line item counter.
func (b *MemoryBank) AddExportedLineItems(n int) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Stats.LineItemsExported += n
}

// StartRun records the beginning of a run and returns its id.
func (b *MemoryBank) StartRun(info entity.RunInfo) string {
	if info.RunID == "" {
		info.RunID = uuid.New().String()
	}
	info.StartedAt = b.now().UTC()
	info.EndedAt = nil
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Stats.Runs++
	b.state.LastRun = &info
	return info.RunID
}

// EndRun stamps the end of the current run.
func (b *MemoryBank) EndRun() {
	now := b.now().UTC()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state.LastRun != nil {
		b.state.LastRun.EndedAt = &now
	}
}

// Stats returns a copy of the counters.
func (b *MemoryBank) Stats() entity.RunStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Stats
}

// Snapshot returns a deep copy of the aggregate.
func (b *MemoryBank) Snapshot() entity.LedgerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Clone()
}

// FlaggedVendors lists flags, most frequent first.
func (b *MemoryBank) FlaggedVendors() []entity.VendorFlag {
	b.mu.RLock()
	out := make([]entity.VendorFlag, 0, len(b.state.VendorFlags))
	for _, f := range b.state.VendorFlags {
		out = append(out, f)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		return entity.NormalizeVendor(out[i].VendorName) < entity.NormalizeVendor(out[j].VendorName)
	})
	return out
}

// Records lists processed-file records ordered by path.
func (b *MemoryBank) Records() []entity.ProcessedFile {
	b.mu.RLock()
	out := make([]entity.ProcessedFile, 0, len(b.state.ProcessedFiles))
	for _, r := range b.state.ProcessedFiles {
		out = append(out, cloneRecord(r))
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Rows rebuilds the export rows of every recorded invoice, ordered by path.
func (b *MemoryBank) Rows() []entity.Row {
	var rows []entity.Row
	for _, rec := range b.Records() {
		rows = append(rows, RecordRows(rec)...)
	}
	return rows
}

// RecordRows expands a stored record; records without an invoice yield one metadata row.
func RecordRows(rec entity.ProcessedFile) []entity.Row {
	if rec.Invoice != nil {
		return entity.ExpandRows(rec.Path, *rec.Invoice)
	}
	inv := entity.Invoice{
		VendorName:    rec.VendorName,
		InvoiceNumber: rec.InvoiceNumber,
		Status:        rec.Status,
		ReviewReason:  rec.ReviewReason,
	}
	return entity.ExpandRows(rec.Path, inv)
}

// Save persists a consistent snapshot. Concurrent saves are serialized so an
// older snapshot never overwrites a newer one.
func (b *MemoryBank) Save(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	b.saveMu.Lock()
	defer b.saveMu.Unlock()

	start := time.Now()
	snap := b.Snapshot()
	if err := b.store.Save(ctx, snap); err != nil {
		b.logger.Error("ledger.save.error", "error", err)
		if errors.Is(err, common.ErrPersistence) {
			return err
		}
		return fmt.Errorf("%w: %w", common.ErrPersistence, err)
	}
	b.logger.Debug("ledger.save.ok",
		"files", len(snap.ProcessedFiles),
		"flagged_vendors", len(snap.VendorFlags),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Summary renders the statistics and flagged vendors as plain text.
func (b *MemoryBank) Summary() string {
	s := b.Stats()
	flags := b.FlaggedVendors()

	var sb strings.Builder
	sb.WriteString("Memory bank summary\n")
	fmt.Fprintf(&sb, "  runs:                 %d\n", s.Runs)
	fmt.Fprintf(&sb, "  files seen:           %d\n", s.FilesSeen)
	fmt.Fprintf(&sb, "  ok:                   %d\n", s.OK)
	fmt.Fprintf(&sb, "  needs review:         %d\n", s.NeedsReview)
	fmt.Fprintf(&sb, "  error:                %d\n", s.Error)
	fmt.Fprintf(&sb, "  skipped:              %d\n", s.Skipped)
	fmt.Fprintf(&sb, "  llm files:            %d\n", s.LLMFiles)
	fmt.Fprintf(&sb, "  line items exported:  %d\n", s.LineItemsExported)
	fmt.Fprintf(&sb, "  flagged vendors:      %d\n", len(flags))
	for _, f := range flags {
		fmt.Fprintf(&sb, "    - %s (count %d, last seen %s): %s\n",
			f.VendorName, f.OccurrenceCount, f.LastSeenAt.Format(time.RFC3339), f.Reason)
	}
	return sb.String()
}

func cloneRecord(r entity.ProcessedFile) entity.ProcessedFile {
	if r.Invoice != nil {
		inv := r.Invoice.Clone()
		r.Invoice = &inv
	}
	return r
}
