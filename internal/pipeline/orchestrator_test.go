package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
	"github.com/joseph-ayodele/invoice-ledger/internal/ledger"
	"github.com/joseph-ayodele/invoice-ledger/internal/llm"
	"github.com/joseph-ayodele/invoice-ledger/internal/mocks"
	"github.com/joseph-ayodele/invoice-ledger/internal/pipeline"
)

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func invoiceFor(vendor string, items int) entity.Invoice {
	inv := entity.Invoice{
		VendorName:    vendor,
		InvoiceNumber: "INV-7",
		Currency:      constants.CurrencyUSD,
		TotalAmount:   entity.Float(float64(items) * 10),
		Status:        constants.StatusOK,
		LineItems:     []entity.LineItem{},
	}
	for i := 0; i < items; i++ {
		inv.LineItems = append(inv.LineItems, entity.LineItem{
			Description: "Consulting",
			Quantity:    entity.Float(1),
			UnitPrice:   entity.Float(10),
			Amount:      entity.Float(10),
		})
	}
	return inv
}

func firstPass(r llm.ParseRequest) bool { return r.VendorContext == "" }
func reparse(r llm.ParseRequest) bool   { return r.VendorContext != "" }

func newOrchestrator(text *mocks.MockTextProvider, ext *mocks.MockExtractor, exp pipeline.Exporter, cfg pipeline.Config) *pipeline.Orchestrator {
	return pipeline.New(text, ext, exp, cfg, nil)
}

func TestProcessFile_SkipsUnchangedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.pdf", "invoice one")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice from Globex", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.Anything).Return(invoiceFor("Globex", 2), nil)

	orch := newOrchestrator(text, ext, nil, pipeline.Config{})
	bank := ledger.New(nil, nil)

	first := orch.ProcessFile(context.Background(), bank, path)
	require.NoError(t, first.Err)
	assert.Equal(t, constants.StatusOK, first.Status)
	assert.Equal(t, constants.StageRecorded, first.Stage)
	assert.Len(t, first.Rows, 2)

	second := orch.ProcessFile(context.Background(), bank, path)
	assert.True(t, second.Skipped)
	assert.Equal(t, constants.StageSkipped, second.Stage)
	assert.Equal(t, constants.StatusOK, second.Status)
	assert.Zero(t, second.ExtractorCalls)
	assert.Empty(t, second.Rows)
	require.NotNil(t, second.Prior)
	assert.Equal(t, first.File.ContentHash, second.Prior.ContentHash)

	ext.AssertNumberOfCalls(t, "Parse", 1)
	text.AssertNumberOfCalls(t, "Text", 1)
	assert.Equal(t, 1, bank.Stats().Skipped)
	assert.Equal(t, 1, bank.Stats().FilesSeen)
}

func TestProcessFile_ChangedContentIsReprocessed(t *testing.T) {
	dir := t.TempDir()
	path := writeDoc(t, dir, "a.pdf", "v1")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.Anything).Return(invoiceFor("Globex", 1), nil)

	orch := newOrchestrator(text, ext, nil, pipeline.Config{})
	bank := ledger.New(nil, nil)

	first := orch.ProcessFile(context.Background(), bank, path)
	writeDoc(t, dir, "a.pdf", "v2")
	second := orch.ProcessFile(context.Background(), bank, path)

	assert.False(t, second.Skipped)
	assert.NotEqual(t, first.File.ContentHash, second.File.ContentHash)
	ext.AssertNumberOfCalls(t, "Parse", 2)

	rec, ok := bank.LastOutcome(second.File.Path)
	require.True(t, ok)
	assert.Equal(t, second.File.ContentHash, rec.ContentHash)
	assert.Len(t, bank.Records(), 1)
}

func TestProcessFile_ReparseOnlyForFlaggedVendor(t *testing.T) {
	dir := t.TempDir()
	flagged := writeDoc(t, dir, "acme.pdf", "acme")
	clean := writeDoc(t, dir, "globex.pdf", "globex")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, flagged).Return("From: Acme Co", nil)
	text.On("Text", mock.Anything, clean).Return("From: Globex", nil)

	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.MatchedBy(func(r llm.ParseRequest) bool {
		return firstPass(r) && r.FilenameHint == "acme.pdf"
	})).Return(invoiceFor("ACME CO ", 1), nil).Once()
	ext.On("Parse", mock.Anything, mock.MatchedBy(reparse)).Return(invoiceFor("Acme Co", 3), nil).Once()
	ext.On("Parse", mock.Anything, mock.MatchedBy(func(r llm.ParseRequest) bool {
		return firstPass(r) && r.FilenameHint == "globex.pdf"
	})).Return(invoiceFor("Globex", 1), nil).Once()

	orch := newOrchestrator(text, ext, nil, pipeline.Config{})
	bank := ledger.New(nil, nil)
	bank.FlagVendor("Acme Co", "recurring total mismatch")

	out := orch.ProcessFile(context.Background(), bank, flagged)
	require.NoError(t, out.Err)
	assert.True(t, out.Reparsed)
	assert.Equal(t, 2, out.ExtractorCalls)
	assert.Equal(t, constants.StatusNeedsReview, out.Status)
	assert.Equal(t, "recurring total mismatch", out.Invoice.ReviewReason)
	assert.Len(t, out.Invoice.LineItems, 3, "reparsed invoice is the one recorded")

	other := orch.ProcessFile(context.Background(), bank, clean)
	assert.False(t, other.Reparsed)
	assert.Equal(t, 1, other.ExtractorCalls)
	assert.Equal(t, constants.StatusOK, other.Status)

	f, ok := bank.VendorFlag("acme co")
	require.True(t, ok)
	assert.Equal(t, 2, f.OccurrenceCount)
	assert.Equal(t, "Acme Co", f.VendorName)
	ext.AssertExpectations(t)

	var reparseReq llm.ParseRequest
	for _, c := range ext.Calls {
		if r := c.Arguments.Get(1).(llm.ParseRequest); reparse(r) {
			reparseReq = r
		}
	}
	assert.Contains(t, reparseReq.VendorContext, "Acme Co")
	assert.Contains(t, reparseReq.VendorContext, "recurring total mismatch")
}

func TestProcessFile_ReparseWithoutVendorFails(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.MatchedBy(firstPass)).Return(invoiceFor("Initech", 1), nil)
	second := invoiceFor("", 1)
	ext.On("Parse", mock.Anything, mock.MatchedBy(reparse)).Return(second, nil)

	bank := ledger.New(nil, nil)
	bank.FlagVendor("Initech", "missing bill_to")
	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(context.Background(), bank, path)

	// an empty vendor fails validation, so the reparse result is an ERROR that keeps the first-pass vendor
	assert.Equal(t, constants.StatusError, out.Status)
	assert.Equal(t, "Initech", out.Invoice.VendorName)
	assert.True(t, errors.Is(out.Err, common.ErrSchemaViolation))
}

func TestProcessFile_ExtractorErrorStatusBeatsFlag(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.MatchedBy(firstPass)).Return(invoiceFor("Acme Co", 1), nil)
	bad := invoiceFor("Acme Co", 0)
	bad.Status = constants.StatusError
	bad.ReviewReason = "totals unreadable"
	ext.On("Parse", mock.Anything, mock.MatchedBy(reparse)).Return(bad, nil)

	bank := ledger.New(nil, nil)
	bank.FlagVendor("Acme Co", "recurring total mismatch")
	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(context.Background(), bank, path)

	assert.NoError(t, out.Err)
	assert.Equal(t, constants.StatusError, out.Status)
	assert.Equal(t, "totals unreadable", out.Invoice.ReviewReason)
	f, _ := bank.VendorFlag("Acme Co")
	assert.Equal(t, "totals unreadable", f.Reason)
}

func TestProcessFile_TextFailure(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "scan.png", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("", errors.New("tesseract: exit status 1"))
	ext := &mocks.MockExtractor{}

	bank := ledger.New(nil, nil)
	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(context.Background(), bank, path)

	assert.Equal(t, constants.StatusError, out.Status)
	assert.Equal(t, constants.StageRecorded, out.Stage)
	assert.Zero(t, out.ExtractorCalls)
	assert.Equal(t, "text_extraction", common.KindOf(out.Err))
	assert.True(t, strings.HasPrefix(out.Invoice.ReviewReason, "text extraction failed"))
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "scan.png", out.Rows[0].File)
	assert.Empty(t, out.Rows[0].Description)

	rec, ok := bank.LastOutcome(out.File.Path)
	require.True(t, ok)
	assert.Contains(t, rec.Error, "tesseract")
	assert.Empty(t, bank.FlaggedVendors(), "unknown vendor is never flagged")
	ext.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestProcessFile_BlankTextIsFailure(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("  \n ", nil)
	ext := &mocks.MockExtractor{}

	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(context.Background(), ledger.New(nil, nil), path)
	assert.Equal(t, constants.StatusError, out.Status)
	assert.True(t, errors.Is(out.Err, common.ErrTextExtraction))
}

func TestProcessFile_InvalidExtractorOutput(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.Anything).Return(entity.Invoice{LineItems: []entity.LineItem{}}, nil)

	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(context.Background(), ledger.New(nil, nil), path)
	assert.Equal(t, constants.StatusError, out.Status)
	assert.Equal(t, "schema_violation", common.KindOf(out.Err))
	assert.True(t, strings.HasPrefix(out.Invoice.ReviewReason, "extractor output invalid"))
}

func TestProcessFile_ExtractorTimeout(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(entity.Invoice{}, context.DeadlineExceeded)

	bank := ledger.New(nil, nil)
	orch := newOrchestrator(text, ext, nil, pipeline.Config{CallTimeout: 20 * time.Millisecond})
	out := orch.ProcessFile(context.Background(), bank, path)

	assert.Equal(t, constants.StatusError, out.Status)
	assert.Equal(t, constants.StageRecorded, out.Stage)
	assert.True(t, errors.Is(out.Err, common.ErrUpstreamService))
	assert.Contains(t, out.Invoice.ReviewReason, "timed out")
	assert.Equal(t, 1, bank.Stats().Error)
}

func TestProcessFile_CallerDeadlineIsRecorded(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return("", context.DeadlineExceeded)
	ext := &mocks.MockExtractor{}

	bank := ledger.New(nil, nil)
	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(ctx, bank, path)

	assert.Equal(t, constants.StageRecorded, out.Stage)
	assert.Equal(t, constants.StatusError, out.Status)
	assert.Equal(t, "text_extraction", common.KindOf(out.Err))
	assert.Contains(t, out.Invoice.ReviewReason, "timed out")
	assert.Equal(t, 1, bank.Stats().Error)
	ext.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestProcessFile_CanceledIsNotRecorded(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)
	ext := &mocks.MockExtractor{}

	bank := ledger.New(nil, nil)
	out := newOrchestrator(text, ext, nil, pipeline.Config{}).ProcessFile(ctx, bank, path)

	assert.True(t, errors.Is(out.Err, context.Canceled))
	assert.NotEqual(t, constants.StageRecorded, out.Stage)
	_, ok := bank.LastOutcome(out.File.Path)
	assert.False(t, ok)
	assert.Zero(t, bank.Stats().FilesSeen)
}

func TestProcessFile_MissingFile(t *testing.T) {
	text := &mocks.MockTextProvider{}
	ext := &mocks.MockExtractor{}
	bank := ledger.New(nil, nil)

	out := newOrchestrator(text, ext, nil, pipeline.Config{}).
		ProcessFile(context.Background(), bank, filepath.Join(t.TempDir(), "gone.pdf"))

	assert.Equal(t, constants.StatusError, out.Status)
	assert.False(t, bank.HasProcessed(out.File), "a file without a hash is retried")
	text.AssertNotCalled(t, "Text", mock.Anything, mock.Anything)
}

func TestProcessFile_UsedLLMFollowsConfig(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.Anything).Return(invoiceFor("Globex", 1), nil)

	bank := ledger.New(nil, nil)
	out := newOrchestrator(text, ext, nil, pipeline.Config{UsesLLM: true}).ProcessFile(context.Background(), bank, path)
	assert.True(t, out.UsedLLM)
	assert.Equal(t, 1, bank.Stats().LLMFiles)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []constants.InvoiceStatus
	passes   []string
	saves    int
}

func (r *recordingObserver) ObserveOutcome(out entity.ProcessingOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, out.Status)
}

func (r *recordingObserver) ObserveExtractorCall(pass string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, pass)
}

func (r *recordingObserver) ObserveSave(time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
}

func (r *recordingObserver) ObserveExport(int, error) {}

func TestProcessFile_Observer(t *testing.T) {
	path := writeDoc(t, t.TempDir(), "a.pdf", "x")

	text := &mocks.MockTextProvider{}
	text.On("Text", mock.Anything, mock.Anything).Return("Invoice", nil)
	ext := &mocks.MockExtractor{}
	ext.On("Parse", mock.Anything, mock.Anything).Return(invoiceFor("Acme Co", 1), nil)

	obs := &recordingObserver{}
	bank := ledger.New(nil, nil)
	bank.FlagVendor("Acme Co", "duplicate invoice number")
	orch := pipeline.New(text, ext, nil, pipeline.Config{}, nil, pipeline.WithObserver(obs))
	orch.ProcessFile(context.Background(), bank, path)

	assert.Equal(t, []string{pipeline.PassFirst, pipeline.PassReparse}, obs.passes)
	assert.Equal(t, []constants.InvoiceStatus{constants.StatusNeedsReview}, obs.outcomes)
}
