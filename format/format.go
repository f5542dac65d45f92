// Package format renders counts and sizes for people.
package format

import "fmt"

const (
	Thousand = 1000
	Million  = Thousand * 1000
	Billion  = Million * 1000
)

// Parameters renders a parameter count such as 1.25M.
func Parameters(n int) string {
	switch {
	case n >= Billion:
		return decimalPlace(float64(n)/Billion) + "B"
	case n >= Million:
		return decimalPlace(float64(n)/Million) + "M"
	case n >= Thousand:
		return decimalPlace(float64(n)/Thousand) + "K"
	default:
		return fmt.Sprintf("%d", n)
	}
}

func decimalPlace(number float64) string {
	switch {
	case number >= 100:
		return fmt.Sprintf("%.0f", number)
	case number >= 10:
		return fmt.Sprintf("%.1f", number)
	default:
		return fmt.Sprintf("%.2f", number)
	}
}

// Shape renders a rows x cols matrix shape.
func Shape(rows, cols int) string {
	return fmt.Sprintf("[%d %d]", rows, cols)
}
