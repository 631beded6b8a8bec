package market

import (
	"github.com/cockroachdb/apd/v3"
)

// QuoteDecimals is the number of fractional digits in a quote.
const QuoteDecimals = 6

const zeroQuote = "0.000000"

var quoteContext = apd.BaseContext.WithPrecision(34)

// Quote returns usd / price with six fractional digits. A missing, malformed,
// zero or negative price yields "0.000000".
func Quote(usd, price string) string {
	amount, _, err := apd.NewFromString(usd)
	if err != nil || amount.Form != apd.Finite || amount.Negative {
		return zeroQuote
	}
	px, _, err := apd.NewFromString(price)
	if err != nil || px.Form != apd.Finite || px.IsZero() || px.Negative {
		return zeroQuote
	}

	var out apd.Decimal
	if _, err := quoteContext.Quo(&out, amount, px); err != nil {
		return zeroQuote
	}
	if _, err := quoteContext.Quantize(&out, &out, -QuoteDecimals); err != nil {
		return zeroQuote
	}
	return out.Text('f')
}
