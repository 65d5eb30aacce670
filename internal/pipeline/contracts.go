package pipeline

import (
	"context"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// TextProvider extracts raw document text. Failures should wrap
// common.ErrTextExtraction.
type TextProvider interface {
	Text(ctx context.Context, path string) (string, error)
}

// Exporter writes flattened rows to dest.
type Exporter interface {
	Write(ctx context.Context, rows []entity.Row, dest string) error
}

// Observer receives pipeline events. metrics.Recorder implements it.
type Observer interface {
	ObserveOutcome(o entity.ProcessingOutcome)
	ObserveExtractorCall(pass string, elapsed time.Duration, err error)
	ObserveSave(elapsed time.Duration, err error)
	ObserveExport(rows int, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveOutcome(entity.ProcessingOutcome)           {}
func (noopObserver) ObserveExtractorCall(string, time.Duration, error) {}
func (noopObserver) ObserveSave(time.Duration, error)                  {}
func (noopObserver) ObserveExport(int, error)                          {}

// Extraction passes, used as metric labels.
const (
	PassFirst   = "first"
	PassReparse = "reparse"
)
