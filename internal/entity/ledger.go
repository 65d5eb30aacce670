package entity

import (
	"time"

	"github.com/joseph-ayodele/invoice-ledger/constants"
)

// ProcessedFile is the ledger record of the last processing of one file.
type ProcessedFile struct {
	Path          string                  `json:"path"`
	ContentHash   string                  `json:"content_hash"`
	Status        constants.InvoiceStatus `json:"status"`
	VendorName    string                  `json:"vendor_name"`
	InvoiceNumber string                  `json:"invoice_number,omitempty"`
	ReviewReason  string                  `json:"review_reason,omitempty"`
	Error         string                  `json:"error,omitempty"`
	UsedLLM       bool                    `json:"used_llm"`
	Timestamp     time.Time               `json:"timestamp"`
	Invoice       *Invoice                `json:"invoice,omitempty"`
}

// VendorFlag marks a vendor whose documents previously needed review or failed.
type VendorFlag struct {
	VendorName      string    `json:"vendor_name"`
	Reason          string    `json:"reason"`
	OccurrenceCount int       `json:"occurrence_count"`
	FirstFlaggedAt  time.Time `json:"first_flagged_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// RunStats are cumulative counters; they never decrease.
type RunStats struct {
	FilesSeen         int `json:"files_seen"`
	OK                int `json:"ok"`
	NeedsReview       int `json:"needs_review"`
	Error             int `json:"error"`
	LineItemsExported int `json:"line_items_exported"`
	Skipped           int `json:"skipped"`
	LLMFiles          int `json:"llm_files"`
	Runs              int `json:"runs"`
}

// Count bumps the per-status counters for one recorded file.
func (s *RunStats) Count(status constants.InvoiceStatus) {
	s.FilesSeen++
	switch status {
	case constants.StatusOK:
		s.OK++
	case constants.StatusNeedsReview:
		s.NeedsReview++
	case constants.StatusError:
		s.Error++
	}
}

// RunInfo describes the most recent run.
type RunInfo struct {
	RunID     string     `json:"run_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Mode      string     `json:"mode,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	InputDir  string     `json:"input_dir,omitempty"`
}

// LedgerState is the persisted memory bank aggregate.
type LedgerState struct {
	SchemaVersion  string                   `json:"schema_version"`
	ProcessedFiles map[string]ProcessedFile `json:"processed_files"`
	VendorFlags    map[string]VendorFlag    `json:"vendor_flags"`
	Stats          RunStats                 `json:"stats"`
	LastRun        *RunInfo                 `json:"last_run,omitempty"`
}

// NewLedgerState returns an empty aggregate.
func NewLedgerState() LedgerState {
	s := LedgerState{}
	s.Normalize()
	return s
}

// Normalize fills defaults for keys missing from a loaded aggregate and
// re-keys vendor flags under their normalized vendor name.
func (s *LedgerState) Normalize() {
	if s.SchemaVersion == "" {
		s.SchemaVersion = constants.LedgerSchemaVersion
	}
	if s.ProcessedFiles == nil {
		s.ProcessedFiles = map[string]ProcessedFile{}
	}
	flags := make(map[string]VendorFlag, len(s.VendorFlags))
	for k, f := range s.VendorFlags {
		key := NormalizeVendor(k)
		if key == "" {
			key = NormalizeVendor(f.VendorName)
		}
		if key == "" {
			continue
		}
		if f.VendorName == "" {
			f.VendorName = k
		}
		if f.OccurrenceCount < 1 {
			f.OccurrenceCount = 1
		}
		if prev, ok := flags[key]; ok {
			f = mergeFlags(prev, f)
		}
		flags[key] = f
	}
	s.VendorFlags = flags
}

// mergeFlags folds two entries for the same vendor: counts add up, the
// earliest first sighting and the most recent reason win.
func mergeFlags(a, b VendorFlag) VendorFlag {
	if b.LastSeenAt.After(a.LastSeenAt) || (b.LastSeenAt.Equal(a.LastSeenAt) && b.Reason > a.Reason) {
		a, b = b, a
	}
	out := a
	out.OccurrenceCount = a.OccurrenceCount + b.OccurrenceCount
	if out.FirstFlaggedAt.IsZero() || (!b.FirstFlaggedAt.IsZero() && b.FirstFlaggedAt.Before(out.FirstFlaggedAt)) {
		out.FirstFlaggedAt = b.FirstFlaggedAt
	}
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s LedgerState) Clone() LedgerState {
	out := LedgerState{
		SchemaVersion:  s.SchemaVersion,
		ProcessedFiles: make(map[string]ProcessedFile, len(s.ProcessedFiles)),
		VendorFlags:    make(map[string]VendorFlag, len(s.VendorFlags)),
		Stats:          s.Stats,
	}
	for k, v := range s.ProcessedFiles {
		if v.Invoice != nil {
			inv := v.Invoice.Clone()
			v.Invoice = &inv
		}
		out.ProcessedFiles[k] = v
	}
	for k, v := range s.VendorFlags {
		out.VendorFlags[k] = v
	}
	if s.LastRun != nil {
		r := *s.LastRun
		if r.EndedAt != nil {
			t := *r.EndedAt
			r.EndedAt = &t
		}
		out.LastRun = &r
	}
	return out
}
