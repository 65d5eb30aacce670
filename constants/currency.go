package constants

import "strings"

// Currency is the closed set of invoice currencies.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyILS Currency = "ILS"
)

// Currencies lists every supported currency in a stable order.
var Currencies = []Currency{CurrencyUSD, CurrencyEUR, CurrencyILS}

var currencySymbols = map[string]Currency{
	"$":   CurrencyUSD,
	"US$": CurrencyUSD,
	"€":   CurrencyEUR,
	"₪":   CurrencyILS,
	"NIS": CurrencyILS,
}

// Valid reports whether c is supported.
func (c Currency) Valid() bool {
	for _, v := range Currencies {
		if c == v {
			return true
		}
	}
	return false
}

// NormalizeCurrency uppercases codes and maps common symbols; ok is false for anything unsupported.
func NormalizeCurrency(s string) (Currency, bool) {
	v := strings.TrimSpace(s)
	if c, ok := currencySymbols[strings.ToUpper(v)]; ok {
		return c, true
	}
	c := Currency(strings.ToUpper(v))
	return c, c.Valid()
}
