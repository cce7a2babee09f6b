package shared

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var moneyPrinter = message.NewPrinter(language.English)

// FormatAmount renders a currency amount with grouping separators for
// user-facing messages. Persisted values always use decimal, never this form.
// The amount never passes through a float, so digits stay exact at any
// magnitude.
func FormatAmount(amount decimal.Decimal) string {
	rounded := amount.Round(2)
	abs := rounded.Abs()
	units := abs.Truncate(0)
	cents := abs.Sub(units).Shift(2).IntPart()

	grouped := units.String()
	if bi := units.BigInt(); bi.IsInt64() {
		grouped = moneyPrinter.Sprintf("%v", number.Decimal(bi.Int64()))
	}
	if rounded.IsNegative() {
		grouped = "-" + grouped
	}
	return fmt.Sprintf("%s.%02d", grouped, cents)
}
