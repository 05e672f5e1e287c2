package core

import (
	"errors"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// currencyInfo pairs an ISO currency code with the locale used to format it.
type currencyInfo struct {
	Code   string
	Locale language.Tag
}

// Currencies a user can pick in settings. The locale drives digit grouping
// and decimal separators when rendering amounts.
var supportedCurrencies = []currencyInfo{
	{Code: "USD", Locale: language.MustParse("en-US")},
	{Code: "EUR", Locale: language.MustParse("de-DE")},
	{Code: "GBP", Locale: language.MustParse("en-GB")},
	{Code: "JPY", Locale: language.MustParse("ja-JP")},
	{Code: "BRL", Locale: language.MustParse("pt-BR")},
	{Code: "INR", Locale: language.MustParse("hi-IN")},
}

var ErrUnknownCurrency = errors.New("unknown currency")

// DefaultCurrency is assigned when user settings are created lazily.
const DefaultCurrency = "USD"

// ValidCurrency reports whether code is in the supported table.
func ValidCurrency(code string) bool {
	for _, c := range supportedCurrencies {
		if c.Code == code {
			return true
		}
	}
	return false
}

// CurrencyCodes lists the supported ISO codes in table order.
func CurrencyCodes() []string {
	codes := make([]string, len(supportedCurrencies))
	for i, c := range supportedCurrencies {
		codes[i] = c.Code
	}
	return codes
}

// CurrencyFormatter renders Money as a locale-formatted string for one
// currency, e.g. "$1,234.50" for USD. Safe for concurrent use.
type CurrencyFormatter struct {
	unit    currency.Unit
	printer *message.Printer
}

// NewCurrencyFormatter builds a formatter for a supported currency code.
func NewCurrencyFormatter(code string) (*CurrencyFormatter, error) {
	var info *currencyInfo
	for i := range supportedCurrencies {
		if supportedCurrencies[i].Code == code {
			info = &supportedCurrencies[i]
			break
		}
	}
	if info == nil {
		return nil, ErrUnknownCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, ErrUnknownCurrency
	}
	return &CurrencyFormatter{
		unit:    unit,
		printer: message.NewPrinter(info.Locale),
	}, nil
}

// Format renders the amount with the currency symbol in the formatter's
// locale.
func (f *CurrencyFormatter) Format(m Money) string {
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(m.Float())))
}
