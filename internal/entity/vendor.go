package entity

import "strings"

// NormalizeVendor folds case and collapses whitespace so "ACME  Co " and "acme co" share a key.
func NormalizeVendor(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
