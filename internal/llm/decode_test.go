package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

const validInvoiceJSON = `{
  "vendor_name": "Acme Co",
  "invoice_date": "2024-10-03",
  "invoice_number": "A-17",
  "total_amount": 150.5,
  "currency": "USD",
  "bill_to": "Widgets Ltd",
  "line_items": [
    {"description": "Hosting", "quantity": 1, "unit_price": 100, "amount": 100},
    {"description": "Support", "amount": 50.5}
  ],
  "status": "OK"
}`

func TestDecodeInvoice_Strict(t *testing.T) {
	inv, err := DecodeInvoice(validInvoiceJSON, false, nil)
	require.NoError(t, err)

	assert.Equal(t, "Acme Co", inv.VendorName)
	require.NotNil(t, inv.InvoiceDate)
	assert.Equal(t, "2024-10-03", inv.InvoiceDate.String())
	assert.Equal(t, constants.CurrencyUSD, inv.Currency)
	assert.Equal(t, constants.StatusOK, inv.Status)
	require.Len(t, inv.LineItems, 2)
	assert.Nil(t, inv.LineItems[1].Quantity)
	assert.InDelta(t, 50.5, *inv.LineItems[1].Amount, 1e-9)
}

func TestDecodeInvoice_FencedOutput(t *testing.T) {
	content := "Here is the invoice:\n```json\n" + validInvoiceJSON + "\n```"
	inv, err := DecodeInvoice(content, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "A-17", inv.InvoiceNumber)
}

func TestDecodeInvoice_LenientRepairs(t *testing.T) {
	content := `{
	  "supplier": "Acme Co",
	  "date": "2024-10-03T00:00:00Z",
	  "total": "$1,234.50",
	  "currency": "€",
	  "items": [
	    {"name": "Hosting", "qty": "2", "rate": "10.00", "total": 20, "sku": "X1"},
	    {"qty": 1}
	  ],
	  "confidence": 0.9,
	  "status": "needs review"
	}`

	_, err := DecodeInvoice(content, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrSchemaViolation)

	inv, err := DecodeInvoice(content, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "Acme Co", inv.VendorName)
	assert.Equal(t, "2024-10-03", inv.InvoiceDate.String())
	assert.InDelta(t, 1234.50, *inv.TotalAmount, 1e-9)
	assert.Equal(t, constants.CurrencyEUR, inv.Currency)
	assert.Equal(t, constants.StatusNeedsReview, inv.Status)
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "Hosting", inv.LineItems[0].Description)
	assert.InDelta(t, 2, *inv.LineItems[0].Quantity, 1e-9)
	assert.InDelta(t, 10, *inv.LineItems[0].UnitPrice, 1e-9)
}

func TestDecodeInvoice_Failures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "I could not read this document."},
		{"missing vendor", `{"line_items": []}`},
		{"blank vendor", `{"vendor_name": "   ", "line_items": []}`},
		{"malformed", `{"vendor_name": "Acme", "line_items": [}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeInvoice(tt.content, true, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrSchemaViolation), "got %v", err)
		})
	}
}

func TestDecodeInvoice_MissingLineItemsBecomeEmpty(t *testing.T) {
	inv, err := DecodeInvoice(`{"vendor_name": "Acme"}`, true, nil)
	require.NoError(t, err)
	assert.NotNil(t, inv.LineItems)
	assert.Empty(t, inv.LineItems)
}

func TestNormalizeAndSanitizeJSON_DropsUnsupported(t *testing.T) {
	raw := []byte(`{"vendor_name": "Acme", "currency": "GBP", "invoice_date": "last tuesday", "status": "MAYBE", "bill_to": null, "line_items": "none"}`)

	out, dropped, err := NormalizeAndSanitizeJSON(raw, nil)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.NotContains(t, m, "currency")
	assert.NotContains(t, m, "invoice_date")
	assert.NotContains(t, m, "status")
	assert.NotContains(t, m, "bill_to")
	assert.Equal(t, []any{}, m["line_items"])
	assert.Contains(t, dropped, "currency(unsupported)")
	assert.Contains(t, dropped, "line_items(type)")
	require.NoError(t, ValidateInvoiceJSON(out))
}

func TestParseLooseNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{12.5, 12.5, true},
		{"1,234.50", 1234.50, true},
		{"$12", 12, true},
		{"₪ 40", 40, true},
		{"-3.25", -3.25, true},
		{"n/a", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLooseNumber(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, "%v", tt.in)
		}
	}
}

func TestValidateJSONAgainstSchema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []string{"a"},
	}
	assert.NoError(t, ValidateJSONAgainstSchema(schema, []byte(`{"a": 1}`)))
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(`{"b": 1}`)))
	assert.Error(t, ValidateJSONAgainstSchema(schema, []byte(`not json`)))
}
