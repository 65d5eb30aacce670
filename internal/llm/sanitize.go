package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

var (
	topLevelKeys = map[string]struct{}{
		"vendor_name": {}, "invoice_date": {}, "invoice_number": {}, "total_amount": {},
		"currency": {}, "bill_to": {}, "line_items": {}, "status": {}, "review_reason": {},
	}
	lineItemKeys = map[string]struct{}{
		"description": {}, "quantity": {}, "unit_price": {}, "amount": {},
	}
	topLevelSynonyms = [][2]string{
		{"vendor", "vendor_name"},
		{"supplier", "vendor_name"},
		{"seller", "vendor_name"},
		{"date", "invoice_date"},
		{"issue_date", "invoice_date"},
		{"invoice_no", "invoice_number"},
		{"number", "invoice_number"},
		{"total", "total_amount"},
		{"amount_due", "total_amount"},
		{"currency_code", "currency"},
		{"customer", "bill_to"},
		{"billed_to", "bill_to"},
		{"items", "line_items"},
		{"lines", "line_items"},
	}
	lineItemSynonyms = [][2]string{
		{"qty", "quantity"},
		{"rate", "unit_price"},
		{"price", "unit_price"},
		{"total", "amount"},
		{"line_total", "amount"},
		{"name", "description"},
	}
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms (supplier -> vendor_name, qty -> quantity)
// - Drops null/empty optionals
// - Coerces money-ish strings ("$1,234.50") to numbers
// - Drops values the schema would reject (bad dates, unknown currencies)
// - Removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	dropped := make([]string, 0, 8)
	note := func(s string) { dropped = append(dropped, s) }

	renameKeys(m, topLevelSynonyms, "", note)

	for _, k := range []string{"vendor_name", "invoice_number", "bill_to", "review_reason"} {
		sanitizeString(m, k, "", note)
	}
	sanitizeNumber(m, "total_amount", "", note)

	if v, ok := m["currency"]; ok {
		s, _ := v.(string)
		if c, ok := constants.NormalizeCurrency(s); ok {
			m["currency"] = string(c)
		} else {
			delete(m, "currency")
			note("currency(unsupported)")
		}
	}
	if v, ok := m["invoice_date"]; ok {
		s, _ := v.(string)
		if d, err := entity.ParseDate(s); err == nil && !d.IsZero() {
			m["invoice_date"] = d.String()
		} else {
			delete(m, "invoice_date")
			note("invoice_date(unparseable)")
		}
	}
	if v, ok := m["status"]; ok {
		s, _ := v.(string)
		if st, ok := constants.ParseStatus(s); ok {
			m["status"] = string(st)
		} else {
			delete(m, "status")
			note("status(unknown)")
		}
	}

	m["line_items"] = sanitizeLineItems(m["line_items"], note)

	for k := range maps.Clone(m) {
		if _, ok := topLevelKeys[k]; !ok {
			delete(m, k)
			note(k + "(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func sanitizeLineItems(v any, note func(string)) []any {
	arr, ok := v.([]any)
	if !ok {
		if v != nil {
			note("line_items(type)")
		}
		return []any{}
	}

	out := make([]any, 0, len(arr))
	for i, raw := range arr {
		prefix := fmt.Sprintf("line_items[%d].", i)
		item, ok := raw.(map[string]any)
		if !ok {
			note(prefix[:len(prefix)-1] + "(type)")
			continue
		}
		renameKeys(item, lineItemSynonyms, prefix, note)
		sanitizeString(item, "description", prefix, note)
		for _, k := range []string{"quantity", "unit_price", "amount"} {
			sanitizeNumber(item, k, prefix, note)
		}
		for k := range maps.Clone(item) {
			if _, ok := lineItemKeys[k]; !ok {
				delete(item, k)
				note(prefix + k + "(unknown)")
			}
		}
		if _, ok := item["description"]; !ok {
			note(prefix[:len(prefix)-1] + "(no description)")
			continue
		}
		out = append(out, item)
	}
	return out
}

func renameKeys(m map[string]any, synonyms [][2]string, prefix string, note func(string)) {
	for _, pair := range synonyms {
		from, to := pair[0], pair[1]
		v, ok := m[from]
		if !ok {
			continue
		}
		// don't overwrite existing value if already present
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
		note(prefix + from + "->" + to)
	}
}

func sanitizeString(m map[string]any, k, prefix string, note func(string)) {
	v, ok := m[k]
	if !ok {
		return
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			delete(m, k)
			note(prefix + k + "(empty)")
			return
		}
		m[k] = s
	case float64:
		m[k] = strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		delete(m, k)
		note(prefix + k + "(null)")
	default:
		delete(m, k)
		note(prefix + k + "(type)")
	}
}

func sanitizeNumber(m map[string]any, k, prefix string, note func(string)) {
	v, ok := m[k]
	if !ok {
		return
	}
	if f, ok := parseLooseNumber(v); ok {
		m[k] = f
		return
	}
	delete(m, k)
	if v == nil {
		note(prefix + k + "(null)")
	} else {
		note(prefix + k + "(unparseable)")
	}
}

// parseLooseNumber accepts JSON numbers and strings like "1,234.50", "$12" or "₪ 40".
func parseLooseNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		s = strings.Map(func(r rune) rune {
			switch {
			case r >= '0' && r <= '9', r == '.', r == '-':
				return r
			default:
				return -1
			}
		}, s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
