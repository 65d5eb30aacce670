package llm

import (
	"context"

	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// ParseRequest is the input of one extraction pass.
type ParseRequest struct {
	Text         string
	FilenameHint string
	// VendorContext is set only on a context reparse.
	VendorContext string
}

// Extractor turns document text into an Invoice. On success the invoice has
// passed schema validation; failures wrap common.ErrSchemaViolation or
// common.ErrUpstreamService.
type Extractor interface {
	Parse(ctx context.Context, req ParseRequest) (entity.Invoice, error)
}
