package money

import "fmt"

// Amounts are carried as int64 minor units (cents) everywhere; this package
// only formats and converts at the edges.

// Format renders cents as a dollar string, e.g. 3214 -> "$32.14".
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// Share applies a basis-point share to an amount, flooring the result.
// 8000 bps of 3214 cents is 2571 cents.
func Share(cents, bps int64) int64 {
	return cents * bps / 10000
}
