package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/invoice-ledger/internal/common"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// ExtractJSONObject returns the outermost {...} span of content, dropping
// markdown fences or prose a model may wrap around it.
func ExtractJSONObject(content string) (string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return "", false
	}
	return content[start : end+1], true
}

// DecodeInvoice validates model output strictly and, when lenient is set,
// retries once after NormalizeAndSanitizeJSON. Every failure wraps
// common.ErrSchemaViolation.
func DecodeInvoice(content string, lenient bool, logger *slog.Logger) (entity.Invoice, error) {
	if logger == nil {
		logger = slog.Default()
	}

	obj, ok := ExtractJSONObject(content)
	if !ok {
		return entity.Invoice{}, fmt.Errorf("%w: no JSON object in model output", common.ErrSchemaViolation)
	}
	raw := []byte(obj)

	if err := ValidateInvoiceJSON(raw); err != nil {
		if !lenient {
			logger.Error("llm.extract.schema_validation_failed", "error", err)
			return entity.Invoice{}, errors.Join(common.ErrSchemaViolation, err)
		}
		cleaned, dropped, sErr := NormalizeAndSanitizeJSON(raw, logger)
		if sErr != nil {
			logger.Error("llm.extract.sanitize_failed", "error", sErr)
			return entity.Invoice{}, errors.Join(common.ErrSchemaViolation, sErr)
		}
		if vErr := ValidateInvoiceJSON(cleaned); vErr != nil {
			logger.Error("llm.extract.schema_validation_failed", "error", vErr, "content", string(cleaned))
			return entity.Invoice{}, errors.Join(common.ErrSchemaViolation, vErr)
		}
		logger.Warn("llm.extract.lenient_sanitize_applied", "dropped", dropped)
		raw = cleaned
	}

	var inv entity.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return entity.Invoice{}, errors.Join(common.ErrSchemaViolation, fmt.Errorf("unmarshal invoice: %w", err))
	}
	if inv.LineItems == nil {
		inv.LineItems = []entity.LineItem{}
	}
	if err := inv.Validate(); err != nil {
		return entity.Invoice{}, errors.Join(common.ErrSchemaViolation, err)
	}
	return inv, nil
}
