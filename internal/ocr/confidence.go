package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate      = regexp.MustCompile(`\b(20\d{2}[-/.]\d{1,2}[-/.]\d{1,2}|\d{1,2}[-/.]\d{1,2}[-/.]20\d{2})\b`)
	reCurr      = regexp.MustCompile(`\b(usd|eur|ils|nis)\b|[$€₪]`)
	reAmount    = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reInvoiceNo = regexp.MustCompile(`\b(invoice|inv)\s*(no|number|#)?\s*[:#]?\s*[a-z0-9-]{2,}`)
)

// heuristicConfidence scores OCR output 0..1 by the invoice artifacts it shows.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2)
	if reDate.MatchString(txtL) {
		score += 0.2
	}
	if reCurr.MatchString(txtL) {
		score += 0.15
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reInvoiceNo.MatchString(txtL) {
		score += 0.1
	}
	if strings.Contains(txtL, "bill to") {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
