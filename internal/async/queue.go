// Package async feeds documents to a pipeline session from a bounded queue.
package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// Job is one document waiting to be processed.
type Job struct {
	Path        string
	SubmittedAt time.Time
	TraceID     string
}

// Processor handles one path; pipeline.Session implements it.
type Processor interface {
	Process(ctx context.Context, path string) (entity.ProcessingOutcome, error)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
