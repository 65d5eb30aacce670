package llm

import (
	"encoding/json"
	"strings"
)

// maxPromptChars caps the document text sent per request.
const maxPromptChars = 12000

// BuildSystemPrompt composes the system message. vendorContext is the memory
// bank note for a flagged vendor and is empty on a first pass.
func BuildSystemPrompt(vendorContext string) string {
	parts := []string{
		"You are an invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"'vendor_name' is the company that ISSUED the invoice (usually in the header or logo).",
		"'bill_to' is the customer being billed; never copy it into 'vendor_name'.",
		"Use ISO-8601 dates (YYYY-MM-DD) for 'invoice_date'.",
		"'currency' must be one of USD, EUR or ILS; omit it if the document shows none of them.",
		"Emit one entry in 'line_items' per billed line with 'description', and 'quantity', 'unit_price' and 'amount' when visible.",
		"Copy numbers as printed; do not recompute totals.",
		"Set 'status' to OK when everything is legible, NEEDS_REVIEW with a short 'review_reason' when totals do not add up or fields are ambiguous, and ERROR when the document is not an invoice.",
		"Never output null. If a field is not present, omit it.",
	}

	if c := strings.TrimSpace(vendorContext); c != "" {
		parts = append(parts, "Memory context: "+c)
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the filename hint and the document text.
func BuildUserPrompt(req ParseRequest) string {
	var b strings.Builder
	if filename := strings.TrimSpace(req.FilenameHint); filename != "" {
		b.WriteString("Filename: ")
		b.WriteString(filename)
		b.WriteString("\n")
	}
	b.WriteString("\nInvoice text:\n")
	text := req.Text
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	b.WriteString(text)
	b.WriteString("\n\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}

// SchemaPrompt renders the invoice schema for inclusion in a prompt.
func SchemaPrompt() string {
	b, _ := json.MarshalIndent(BuildInvoiceJSONSchema(), "", "  ")
	return "JSON Schema:\n" + string(b)
}
