package constants

import "strings"

// InvoiceStatus is the terminal state of a finalized invoice.
type InvoiceStatus string

// Stable values (persisted as-is in the ledger and the export).
const (
	StatusOK          InvoiceStatus = "OK"
	StatusNeedsReview InvoiceStatus = "NEEDS_REVIEW"
	StatusError       InvoiceStatus = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusOK, StatusNeedsReview, StatusError:
		return true
	}
	return false
}

// Flags reports whether an outcome with this status should flag its vendor.
func (s InvoiceStatus) Flags() bool {
	return s == StatusNeedsReview || s == StatusError
}

// ParseStatus maps loose extractor spellings ("needs review", "ok") onto a status.
func ParseStatus(s string) (InvoiceStatus, bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	st := InvoiceStatus(v)
	return st, st.Valid()
}

// Stage is a step of the per-file pipeline state machine.
type Stage string

const (
	StagePending         Stage = "PENDING"
	StageTextLoaded      Stage = "TEXT_LOADED"
	StageFirstPassParsed Stage = "FIRST_PASS_PARSED"
	StageReparsed        Stage = "REPARSED"
	StageFinalized       Stage = "FINALIZED"
	StageRecorded        Stage = "RECORDED"
	StageSkipped         Stage = "SKIPPED"
)
