// Package policy decides, from memory bank state alone, when a document needs a
// context reparse and what status a finalized invoice ends up with.
package policy

import (
	"fmt"

	"github.com/joseph-ayodele/invoice-ledger/constants"
	"github.com/joseph-ayodele/invoice-ledger/internal/entity"
)

// FlagSource is the read view of the memory bank used by the policy.
type FlagSource interface {
	VendorFlag(vendorName string) (entity.VendorFlag, bool)
}

const flaggedWithoutReason = "vendor previously flagged"

// NeedsContextReparse is true iff the candidate's vendor is flagged.
func NeedsContextReparse(flags FlagSource, inv entity.Invoice) bool {
	_, ok := flags.VendorFlag(inv.VendorName)
	return ok
}

// Apply finalizes the status of inv. ERROR from the extractor always wins;
// otherwise a flagged vendor forces NEEDS_REVIEW with the flag's reason.
func Apply(flags FlagSource, inv entity.Invoice) entity.Invoice {
	out := inv
	if out.Status == "" {
		out.Status = constants.StatusOK
	}

	if out.Status == constants.StatusError {
		if out.ReviewReason == "" {
			out.ReviewReason = "extractor reported an error"
		}
		return out
	}

	if f, ok := flags.VendorFlag(out.VendorName); ok {
		out.Status = constants.StatusNeedsReview
		out.ReviewReason = f.Reason
		if out.ReviewReason == "" {
			out.ReviewReason = flaggedWithoutReason
		}
		return out
	}

	if out.Status != constants.StatusOK && out.ReviewReason == "" {
		out.ReviewReason = fmt.Sprintf("extractor marked invoice %s", out.Status)
	}
	return out
}

// VendorContext is the extra extractor input for a context reparse.
func VendorContext(f entity.VendorFlag) string {
	reason := f.Reason
	if reason == "" {
		reason = flaggedWithoutReason
	}
	return fmt.Sprintf(
		"Vendor '%s' was previously flagged %d time(s). Last issue: %s. "+
			"Be extra careful with totals, line items, bill_to and invoice metadata for this vendor.",
		f.VendorName, f.OccurrenceCount, reason,
	)
}
