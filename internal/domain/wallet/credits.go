package wallet

import "github.com/shopspring/decimal"

// Credits are stored with two decimal places and rounded after every step.
const creditPlaces = 2

var floorTolerance = decimal.RequireFromString("-0.005")

// Round rounds to the ledger precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(creditPlaces)
}

// Sub returns round(balance - amount) and whether the result stays above the
// zero floor (within half a cent). A result inside the tolerance clamps to 0.
func Sub(balance, amount decimal.Decimal) (decimal.Decimal, bool) {
	raw := Round(balance).Sub(Round(amount))
	if raw.LessThan(floorTolerance) {
		return Round(raw), false
	}
	next := Round(raw)
	if next.IsNegative() {
		next = decimal.Zero
	}
	return next, true
}

// Add returns round(balance + amount).
func Add(balance, amount decimal.Decimal) decimal.Decimal {
	return Round(Round(balance).Add(Round(amount)))
}

// Format renders a credit amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(creditPlaces)
}
