package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

func okInvoice(vendor string, items int) entity.Invoice {
	inv := entity.Invoice{
		VendorName:    vendor,
		InvoiceNumber: "INV-1",
		TotalAmount:   entity.Float(100),
		Currency:      constants.CurrencyUSD,
		Status:        constants.StatusOK,
	}
	for i := 0; i < items; i++ {
		inv.LineItems = append(inv.LineItems, entity.LineItem{Description: "item", Amount: entity.Float(50)})
	}
	return inv
}

func TestMemoryBank_HasProcessed(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	id := entity.FileIdentity{Path: "/in/a.pdf", ContentHash: "h1"}

	assert.False(t, b.HasProcessed(id))

	b.RecordOutcome(id, okInvoice("Acme Co", 1), constants.StatusOK)
	assert.True(t, b.HasProcessed(id))

	t.Run("changed content invalidates skip", func(t *testing.T) {
		assert.False(t, b.HasProcessed(entity.FileIdentity{Path: "/in/a.pdf", ContentHash: "h2"}))
	})
	t.Run("other path", func(t *testing.T) {
		assert.False(t, b.HasProcessed(entity.FileIdentity{Path: "/in/b.pdf", ContentHash: "h1"}))
	})
	t.Run("missing hash never skips", func(t *testing.T) {
		b.RecordOutcome(entity.FileIdentity{Path: "/in/c.pdf"}, okInvoice("Acme Co", 1), constants.StatusOK)
		assert.False(t, b.HasProcessed(entity.FileIdentity{Path: "/in/c.pdf"}))
	})
}

func TestMemoryBank_RecordOutcomeUpserts(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	id := entity.FileIdentity{Path: "/in/a.pdf", ContentHash: "h1"}

	b.RecordOutcome(id, okInvoice("Acme Co", 2), constants.StatusOK)
	b.RecordOutcome(entity.FileIdentity{Path: "/in/a.pdf", ContentHash: "h2"}, okInvoice("Acme Co", 2), constants.StatusOK)

	snap := b.Snapshot()
	require.Len(t, snap.ProcessedFiles, 1)
	assert.Equal(t, "h2", snap.ProcessedFiles["/in/a.pdf"].ContentHash)
	assert.Equal(t, 2, snap.Stats.FilesSeen)
	assert.Equal(t, 2, snap.Stats.OK)
}

func TestMemoryBank_RecordOutcomeFlagsVendor(t *testing.T) {
	tests := []struct {
		name       string
		status     constants.InvoiceStatus
		reason     string
		opts       []RecordOption
		wantFlag   bool
		wantReason string
	}{
		{name: "ok does not flag", status: constants.StatusOK},
		{name: "needs review flags with review reason", status: constants.StatusNeedsReview, reason: "total mismatch", wantFlag: true, wantReason: "total mismatch"},
		{name: "error falls back to error text", status: constants.StatusError, opts: []RecordOption{WithError(errors.New("boom"))}, wantFlag: true, wantReason: "boom"},
		{name: "error without detail uses status", status: constants.StatusError, wantFlag: true, wantReason: "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(nil, nil, WithClock(fixedClock()))
			inv := okInvoice("Acme Co", 1)
			inv.ReviewReason = tt.reason
			b.RecordOutcome(entity.FileIdentity{Path: "/x.pdf", ContentHash: "h"}, inv, tt.status, tt.opts...)

			reason, flagged := b.IsVendorFlagged("acme co")
			assert.Equal(t, tt.wantFlag, flagged)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestMemoryBank_RecordOutcomeStats(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	b.RecordOutcome(entity.FileIdentity{Path: "/1", ContentHash: "a"}, okInvoice("A", 1), constants.StatusOK, WithLLM(true))
	b.RecordOutcome(entity.FileIdentity{Path: "/2", ContentHash: "b"}, okInvoice("B", 1), constants.StatusNeedsReview)
	b.RecordOutcome(entity.FileIdentity{Path: "/3", ContentHash: "c"}, entity.FailedInvoice("", "unreadable"), constants.StatusError)
	b.MarkSkipped(entity.FileIdentity{Path: "/4", ContentHash: "d"})
	b.AddExportedLineItems(5)
	b.AddExportedLineItems(-1)

	assert.Equal(t, entity.RunStats{
		FilesSeen:         3,
		OK:                1,
		NeedsReview:       1,
		Error:             1,
		LineItemsExported: 5,
		Skipped:           1,
		LLMFiles:          1,
	}, b.Stats())

	// A failure with no vendor name never creates an empty flag key.
	assert.Len(t, b.FlaggedVendors(), 1)
}

func TestMemoryBank_FlagVendorMonotonic(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	b.FlagVendor("Acme Co", "recurring total mismatch")
	b.FlagVendor("  ACME   co ", "")

	flags := b.FlaggedVendors()
	require.Len(t, flags, 1)
	f := flags[0]
	assert.Equal(t, 2, f.OccurrenceCount)
	assert.Equal(t, "Acme Co", f.VendorName)
	assert.Equal(t, "recurring total mismatch", f.Reason)
	assert.True(t, f.LastSeenAt.After(f.FirstFlaggedAt))

	reason, ok := b.IsVendorFlagged("ACME CO ")
	assert.True(t, ok)
	assert.Equal(t, "recurring total mismatch", reason)

	_, ok = b.IsVendorFlagged("")
	assert.False(t, ok)
}

func TestMemoryBank_FlaggedVendorsOrder(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	b.FlagVendor("Zeta", "r")
	b.FlagVendor("Beta", "r")
	b.FlagVendor("Beta", "r")
	b.FlagVendor("Alpha", "r")

	flags := b.FlaggedVendors()
	require.Len(t, flags, 3)
	assert.Equal(t, "Beta", flags[0].VendorName)
	assert.Equal(t, "Alpha", flags[1].VendorName)
	assert.Equal(t, "Zeta", flags[2].VendorName)
}

func TestMemoryBank_RunLifecycle(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	id := b.StartRun(entity.RunInfo{Mode: "mock"})
	require.NotEmpty(t, id)

	snap := b.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, id, snap.LastRun.RunID)
	assert.Nil(t, snap.LastRun.EndedAt)
	assert.Equal(t, 1, snap.Stats.Runs)

	b.EndRun()
	snap = b.Snapshot()
	require.NotNil(t, snap.LastRun.EndedAt)
	assert.True(t, snap.LastRun.EndedAt.After(snap.LastRun.StartedAt))
}

func TestMemoryBank_LastOutcomeAndRows(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	b.RecordOutcome(entity.FileIdentity{Path: "/in/b.pdf", ContentHash: "b"}, okInvoice("B", 3), constants.StatusOK)
	b.RecordOutcome(entity.FileIdentity{Path: "/in/a.pdf", ContentHash: "a"}, okInvoice("A", 0), constants.StatusOK)

	rec, ok := b.LastOutcome("/in/b.pdf")
	require.True(t, ok)
	assert.Equal(t, constants.StatusOK, rec.Status)
	require.NotNil(t, rec.Invoice)

	// Mutating the returned copy leaves the bank untouched.
	rec.Invoice.LineItems[0].Description = "changed"
	again, _ := b.LastOutcome("/in/b.pdf")
	assert.Equal(t, "item", again.Invoice.LineItems[0].Description)

	rows := b.Rows()
	require.Len(t, rows, 4)
	assert.Equal(t, "a.pdf", rows[0].File)
	assert.Equal(t, "b.pdf", rows[1].File)

	_, ok = b.LastOutcome("/missing")
	assert.False(t, ok)
}

func TestMemoryBank_ConcurrentMutations(t *testing.T) {
	b := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.FlagVendor("Acme Co", "r")
			_, _ = b.IsVendorFlagged("acme co")
			_ = b.Snapshot()
		}(i)
	}
	wg.Wait()
	f, ok := b.VendorFlag("ACME CO")
	require.True(t, ok)
	assert.Equal(t, 50, f.OccurrenceCount)
}

type failingStore struct {
	loadErr error
	saveErr error
	state   entity.LedgerState
	saves   int
}

func (s *failingStore) Load(context.Context) (entity.LedgerState, error) {
	return s.state, s.loadErr
}

func (s *failingStore) Save(_ context.Context, st entity.LedgerState) error {
	s.saves++
	s.state = st
	return s.saveErr
}

func TestLoad_SoftFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("missing state", func(t *testing.T) {
		b := Load(ctx, &failingStore{loadErr: common.ErrNotFound}, nil)
		assert.Empty(t, b.Snapshot().ProcessedFiles)
	})
	t.Run("corrupt state", func(t *testing.T) {
		b := Load(ctx, &failingStore{loadErr: errors.New("garbage")}, nil)
		snap := b.Snapshot()
		assert.Empty(t, snap.ProcessedFiles)
		assert.Equal(t, constants.LedgerSchemaVersion, snap.SchemaVersion)
	})
	t.Run("nil store", func(t *testing.T) {
		b := Load(ctx, nil, nil)
		assert.NoError(t, b.Save(ctx))
	})
}

func TestMemoryBank_SaveWrapsPersistenceError(t *testing.T) {
	store := &failingStore{saveErr: errors.New("disk full")}
	b := New(store, nil)
	b.FlagVendor("Acme", "r")

	err := b.Save(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrPersistence)
	assert.Equal(t, 1, store.saves)

	// In-memory state survives a failed save.
	_, ok := b.IsVendorFlagged("acme")
	assert.True(t, ok)
}

func TestMemoryBank_Summary(t *testing.T) {
	b := New(nil, nil, WithClock(fixedClock()))
	b.FlagVendor("Acme Co", "recurring total mismatch")
	b.RecordOutcome(entity.FileIdentity{Path: "/a", ContentHash: "a"}, okInvoice("X", 1), constants.StatusOK)

	out := b.Summary()
	assert.Regexp(t, `files seen:\s+1\n`, out)
	assert.Contains(t, out, "Acme Co (count 1")
	assert.Contains(t, out, "recurring total mismatch")
}
