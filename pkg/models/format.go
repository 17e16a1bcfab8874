package models

import (
	"github.com/shopspring/decimal"
)

// FormatValue renders value for display. "%" scales by 100 and appends a
// percent sign, "$" prefixes a dollar sign; any other symbol yields the plain
// fixed-place number.
func FormatValue(symbol string, value float64, places int32) string {
	d := decimal.NewFromFloat(value)
	switch symbol {
	case "%":
		return d.Mul(decimal.NewFromInt(100)).StringFixed(places) + "%"
	case "$":
		return "$" + d.StringFixed(places)
	default:
		return d.StringFixed(places)
	}
}
