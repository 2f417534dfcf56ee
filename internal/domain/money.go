package domain

import (
	"math"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is the ISO 4217 code used when a session omits one.
const DefaultCurrency = "GBP"

// NormalizeCurrency upper-cases a currency code, falling back to the default.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return DefaultCurrency
	}
	return code
}

// FormatAmount renders a minor-unit amount as a human readable currency string.
func FormatAmount(code string, minor int64) string {
	unit, err := currency.ParseISO(NormalizeCurrency(code))
	if err != nil {
		unit = currency.GBP
	}
	scale, _ := currency.Cash.Rounding(unit)
	value := float64(minor) / math.Pow10(scale)
	printer := message.NewPrinter(language.BritishEnglish)
	return printer.Sprintf("%v", currency.Symbol(unit.Amount(value)))
}
