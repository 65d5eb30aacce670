package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/common"
)

// DateLayout is the wire and export format of invoice dates.
const DateLayout = "2006-01-02"

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate builds a Date in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate accepts YYYY-MM-DD and tolerates a trailing time component.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LineItem is one billed line. Quantity, UnitPrice and Amount are independent;
// nothing ties quantity*unit_price to amount.
type LineItem struct {
	Description string   `json:"description"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

// Invoice is the structured result of one document.
type Invoice struct {
	VendorName    string                  `json:"vendor_name"`
	InvoiceDate   *Date                   `json:"invoice_date,omitempty"`
	InvoiceNumber string                  `json:"invoice_number,omitempty"`
	TotalAmount   *float64                `json:"total_amount,omitempty"`
	Currency      constants.Currency      `json:"currency,omitempty"`
	BillTo        string                  `json:"bill_to,omitempty"`
	LineItems     []LineItem              `json:"line_items"`
	Status        constants.InvoiceStatus `json:"status"`
	ReviewReason  string                  `json:"review_reason,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// FailedInvoice is the finalized form of a file whose pipeline broke down.
// vendor may be empty when the failure happened before the vendor was known.
func FailedInvoice(vendor, reason string) Invoice {
	return Invoice{
		VendorName:   vendor,
		LineItems:    []LineItem{},
		Status:       constants.StatusError,
		ReviewReason: reason,
	}
}

// Validate checks the structural rules of an extracted invoice.
func (inv Invoice) Validate() error {
	v := common.NewValidator()
	v.Field("vendor_name", inv.VendorName, common.Required)
	if inv.Currency != "" {
		v.Field("currency", string(inv.Currency), common.OneOf(currencyNames()...))
	}
	if inv.Status != "" {
		v.Field("status", string(inv.Status), common.OneOf(
			string(constants.StatusOK), string(constants.StatusNeedsReview), string(constants.StatusError)))
	}
	for i, li := range inv.LineItems {
		v.Field(fmt.Sprintf("line_items[%d].description", i), li.Description, common.Required)
	}
	if v.HasErrors() {
		return fmt.Errorf("%w: %s", common.ErrValidation, v.ErrorMessage())
	}
	return nil
}

// Clone returns a deep copy.
func (inv Invoice) Clone() Invoice {
	out := inv
	if inv.InvoiceDate != nil {
		d := *inv.InvoiceDate
		out.InvoiceDate = &d
	}
	out.TotalAmount = cloneFloat(inv.TotalAmount)
	out.LineItems = make([]LineItem, len(inv.LineItems))
	for i, li := range inv.LineItems {
		out.LineItems[i] = LineItem{
			Description: li.Description,
			Quantity:    cloneFloat(li.Quantity),
			UnitPrice:   cloneFloat(li.UnitPrice),
			Amount:      cloneFloat(li.Amount),
		}
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func currencyNames() []string {
	out := make([]string, 0, len(constants.Currencies))
	for _, c := range constants.Currencies {
		out = append(out, string(c))
	}
	return out
}
