package query

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// money keeps one running total per currency code.
type money map[string]decimal.Decimal

func (m money) add(code string, amount decimal.Decimal) {
	code = strings.ToUpper(code)
	m[code] = m[code].Add(amount)
}

func (m money) total() decimal.Decimal {
	sum := decimal.Zero
	for _, v := range m {
		sum = sum.Add(v)
	}
	return sum
}

type formatter struct {
	printer *message.Printer
}

func newFormatter(tag language.Tag) formatter {
	return formatter{printer: message.NewPrinter(tag)}
}

// amount renders a single amount in its currency, for example "$ 15.80".
// Unknown currency codes fall back to the bare code before the number.
func (f formatter) amount(code string, amount decimal.Decimal) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return f.printer.Sprintf("%s %.2f", strings.ToUpper(code), amount.InexactFloat64())
	}
	return f.printer.Sprint(currency.Symbol(unit.Amount(amount.InexactFloat64())))
}

// money renders per-currency totals joined with " + ", ordered by code.
func (f formatter) money(m money) string {
	if len(m) == 0 {
		return f.amount("USD", decimal.Zero)
	}
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, f.amount(code, m[code]))
	}
	return strings.Join(parts, " + ")
}

func (f formatter) count(n int, singular, plural string) string {
	if n == 1 {
		return f.printer.Sprintf("%d %s", n, singular)
	}
	return f.printer.Sprintf("%d %s", n, plural)
}
