package entity

import (
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/invoice-ledger/constants"
)

// FileIdentity identifies a source document. Path is the key; ContentHash is
// the change indicator (hex sha256 of the file bytes).
type FileIdentity struct {
	Path        string
	ContentHash string
}

// Key is the ledger key of the identity.
func (id FileIdentity) Key() string { return id.Path }

// ProcessingOutcome is the result value of one file's pipeline.
type ProcessingOutcome struct {
	File           FileIdentity
	Invoice        Invoice
	Status         constants.InvoiceStatus
	Stage          constants.Stage
	Skipped        bool
	Reparsed       bool
	ExtractorCalls int
	UsedLLM        bool
	Prior          *ProcessedFile
	Rows           []Row
	Err            error
	Duration       time.Duration
}

// Row is one flattened export record.
type Row struct {
	File          string
	VendorName    string
	InvoiceDate   string
	InvoiceNumber string
	Currency      string
	BillTo        string
	Description   string
	Quantity      *float64
	Rate          *float64
	Amount        *float64
	Status        constants.InvoiceStatus
}

// ExpandRows yields one row per line item, or a single metadata-only row
// when the invoice has none.
func ExpandRows(path string, inv Invoice) []Row {
	base := Row{
		File:          filepath.Base(path),
		VendorName:    inv.VendorName,
		InvoiceNumber: inv.InvoiceNumber,
		Currency:      string(inv.Currency),
		BillTo:        inv.BillTo,
		Status:        inv.Status,
	}
	if inv.InvoiceDate != nil {
		base.InvoiceDate = inv.InvoiceDate.String()
	}
	if len(inv.LineItems) == 0 {
		return []Row{base}
	}
	rows := make([]Row, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		r := base
		r.Description = li.Description
		r.Quantity = li.Quantity
		r.Rate = li.UnitPrice
		r.Amount = li.Amount
		rows = append(rows, r)
	}
	return rows
}
