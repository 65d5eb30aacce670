package llm

import (
	"github.com/joseph-ayodele/invoice-ledger/constants"
)

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the output contract and used locally to validate.
func BuildInvoiceJSONSchema() map[string]any {
	lineItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description": map[string]any{"type": "string", "minLength": 1},
			"quantity":    map[string]any{"type": "number"},
			"unit_price":  map[string]any{"type": "number"},
			"amount":      map[string]any{"type": "number"},
		},
		"required": []string{"description"},
	}

	props := map[string]any{
		"vendor_name":    map[string]any{"type": "string", "minLength": 1},
		"invoice_date":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"invoice_number": map[string]any{"type": "string"},
		"total_amount":   map[string]any{"type": "number"},
		"currency":       map[string]any{"type": "string", "enum": currencyEnum()},
		"bill_to":        map[string]any{"type": "string"},
		"line_items":     map[string]any{"type": "array", "items": lineItem},
		"status": map[string]any{"type": "string", "enum": []string{
			string(constants.StatusOK), string(constants.StatusNeedsReview), string(constants.StatusError),
		}},
		"review_reason": map[string]any{"type": "string"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             []string{"vendor_name", "line_items"},
	}
}

func currencyEnum() []string {
	out := make([]string, 0, len(constants.Currencies))
	for _, c := range constants.Currencies {
		out = append(out, string(c))
	}
	return out
}
