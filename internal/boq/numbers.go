package boq

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// currencyNoise strips currency symbols and codes that commonly prefix
// rates in exported sheets ("R 1 250,00", "$250", "ZAR 12").
var currencyNoise = regexp.MustCompile(`(?i)^(zar|usd|eur|gbp|r|\$|€|£)\s*`)

// parseNumber reads a spreadsheet cell as a float. It accepts thousands
// separators (comma, dot or space), decimal commas, a leading currency
// marker, and parenthesised negatives. Returns false for blanks, dashes and
// anything non-numeric.
func parseNumber(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if s == "" || s == "-" || s == "--" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = currencyNoise.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	s = normalizeSeparators(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// normalizeSeparators rewrites thousands and decimal separators to plain
// dot-decimal form. With both "." and "," present the last one is the
// decimal separator. A lone comma followed by one or two digits is a decimal
// comma; repeated dots without a comma are thousands separators.
func normalizeSeparators(s string) string {
	dot, comma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		if strings.Count(s, ",") == 1 {
			if frac := len(s) - comma - 1; frac == 1 || frac == 2 {
				return s[:comma] + "." + s[comma+1:]
			}
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// parseNumberPtr is parseNumber returning nil when the cell is not numeric.
func parseNumberPtr(cell string) *float64 {
	v, ok := parseNumber(cell)
	if !ok {
		return nil
	}
	return &v
}

var rateOnlyPattern = regexp.MustCompile(`(?i)^\s*(rate\s*only|r/o|r\.o\.?|ro)\s*$`)

// isRateOnlyCell reports whether a quantity cell marks a rate-only item.
func isRateOnlyCell(cell string) bool {
	return rateOnlyPattern.MatchString(cell)
}

var purelyNumeric = regexp.MustCompile(`^[\d\s.,\-()]+$`)

// isPurelyNumeric reports whether s contains only digits and numeric punctuation.
func isPurelyNumeric(s string) bool {
	return purelyNumeric.MatchString(strings.TrimSpace(s))
}
