// Package export writes invoice rows to an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// SheetName is the worksheet holding the rows.
const SheetName = "Invoices"

// Columns is the header row, in order.
var Columns = []string{
	"file",
	"vendor_name",
	"invoice_date",
	"invoice_number",
	"currency",
	"bill_to",
	"description",
	"quantity",
	"rate",
	"amount",
	"status",
}

var colWidths = map[string]float64{
	"A": 28, "B": 28, "C": 14, "D": 18, "E": 10, "F": 28,
	"G": 40, "H": 10, "I": 12, "J": 12, "K": 14,
}

// XLSXExporter writes rows to a single-sheet workbook. The destination is
// replaced atomically, so readers never see a half-written file.
type XLSXExporter struct {
	logger *slog.Logger
}

func NewXLSXExporter(logger *slog.Logger) *XLSXExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXExporter{logger: logger}
}

func (e *XLSXExporter) Write(ctx context.Context, rows []entity.Row, dest string) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := build(rows)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".export-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("xlsx write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", dest, err)
	}

	e.logger.Info("export.xlsx.ok",
		"dest", dest,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func build(rows []entity.Row) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &Columns); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Columns))
	_ = f.SetCellStyle(SheetName, "A1", lastCol+"1", bold)

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			r.File,
			r.VendorName,
			r.InvoiceDate,
			r.InvoiceNumber,
			r.Currency,
			r.BillTo,
			r.Description,
			number(r.Quantity),
			number(r.Rate),
			number(r.Amount),
			string(r.Status),
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	for col, w := range colWidths {
		_ = f.SetColWidth(SheetName, col, col, w)
	}
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	if len(rows) > 0 {
		_ = f.AutoFilter(SheetName, fmt.Sprintf("A1:%s%d", lastCol, len(rows)+1), nil)
	}
	return f, nil
}

// number leaves absent values as blank cells.
func number(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
