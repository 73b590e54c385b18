package catalog

import (
	"fmt"
	"strings"
)

// ParsePrice converts a spreadsheet price cell into integer cents.
//
// Accepted input is a non-negative decimal, optionally carrying a
// currency symbol or thousands separators ("$1,299.90"). Values with
// more than two decimal places are rounded half-up at the second place,
// so "12.345" becomes 1235. Negative values are rejected.
//
// Rounding works on the digit string directly: float64 math would turn
// 12.345 into 12.344999... and round the wrong way.
func ParsePrice(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	if cleaned == "" {
		return 0, fmt.Errorf("price is empty")
	}

	for _, sym := range []string{"$", "€", "£"} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	if strings.HasPrefix(cleaned, "-") || (strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) {
		return 0, fmt.Errorf("price must be non-negative: %q", s)
	}
	cleaned = strings.TrimPrefix(cleaned, "+")

	intPart, fracPart, hasDot := strings.Cut(cleaned, ".")
	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("invalid price: %q", s)
	}
	if hasDot && strings.Contains(fracPart, ".") {
		return 0, fmt.Errorf("invalid price: %q", s)
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("invalid price: %q", s)
	}

	var cents int64
	for _, d := range intPart {
		cents = cents*10 + int64(d-'0')
		if cents > (1<<62)/100 {
			return 0, fmt.Errorf("price out of range: %q", s)
		}
	}
	cents *= 100

	// Two decimal places, half-up on the third.
	frac := fracPart + "00"
	cents += int64(frac[0]-'0')*10 + int64(frac[1]-'0')
	if len(fracPart) > 2 && fracPart[2] >= '5' {
		cents++
	}

	return cents, nil
}

// FormatPrice renders cents as a plain decimal string ("1235" → "12.35").
func FormatPrice(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
