package format

import (
	"fmt"
	"math"
	"strings"
)

// Amount returns a two-decimal currency string without separators, suitable
// for response header values (e.g., "12345.60").
func Amount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// NumericCurrency returns a currency string with thousands separators
// (e.g., "-1,234.56") for summaries and log output.
func NumericCurrency(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
	}
	formatted := formatPositiveCurrency(math.Abs(amount))
	return sign + formatted
}

func formatPositiveCurrency(value float64) string {
	formatted := fmt.Sprintf("%.2f", value)
	parts := strings.SplitN(formatted, ".", 2)
	intPart := parts[0]
	decPart := "00"
	if len(parts) == 2 {
		decPart = parts[1]
	}

	if len(intPart) > 3 {
		var builder strings.Builder
		for i, digit := range intPart {
			if i > 0 && (len(intPart)-i)%3 == 0 {
				builder.WriteByte(',')
			}
			builder.WriteRune(digit)
		}
		intPart = builder.String()
	}

	return intPart + "." + decPart
}
