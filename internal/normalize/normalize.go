// Package normalize converts the free-form value and period strings produced
// by the extraction service into canonical numbers and "Q<n> <yyyy>" periods.
// The functions are pure and never fail: unparsable input is reported through
// the boolean result and the caller decides how severe that is.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// UnknownPeriod is stored when no quarter can be recovered from either the
// extracted period or the original text.
const UnknownPeriod = "Unknown"

var (
	currencyGlyphs = strings.NewReplacer("$", "", "£", "", "€", "", "¥", "")

	thousandsSep = regexp.MustCompile(`(\d),(\d{3})\b`)

	// The number may appear anywhere; scale words usually trail it. A scale
	// letter may be followed by more letters ("5.3MM", "1.5 bil").
	valuePattern = regexp.MustCompile(`(?i)([-+]?\d*\.?\d+)(?:\s*(thousand|million|billion|trillion|bn|mn|k|m|b|t))?`)

	quarterFirst = regexp.MustCompile(`(?i)Q([1-4])\s*(\d{4})`)
	yearFirst    = regexp.MustCompile(`(?i)(\d{4})\s*Q([1-4])`)
)

var scales = map[string]float64{
	"thousand": 1e3,
	"k":        1e3,
	"million":  1e6,
	"mn":       1e6,
	"m":        1e6,
	"billion":  1e9,
	"bn":       1e9,
	"b":        1e9,
	"trillion": 1e12,
	"t":        1e12,
}

// writtenQuarters is checked in order; the first name that matches wins.
var writtenQuarters = []struct {
	pattern *regexp.Regexp
	digit   string
}{
	{regexp.MustCompile(`(?i)first\s+quarter\s+of\s+(\d{4})`), "1"},
	{regexp.MustCompile(`(?i)second\s+quarter\s+of\s+(\d{4})`), "2"},
	{regexp.MustCompile(`(?i)third\s+quarter\s+of\s+(\d{4})`), "3"},
	{regexp.MustCompile(`(?i)fourth\s+quarter\s+of\s+(\d{4})`), "4"},
}

// ParseFinancialValue turns strings such as "$5.3 million" or "1.2B" into a
// float. ok is false when no number is present or the scaled value is not
// finite, in which case the value is 0.
func ParseFinancialValue(text string) (value float64, ok bool) {
	cleaned := strings.TrimSpace(currencyGlyphs.Replace(text))
	for {
		next := thousandsSep.ReplaceAllString(cleaned, "$1$2")
		if next == cleaned {
			break
		}
		cleaned = next
	}

	m := valuePattern.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if m[2] != "" {
		n *= scales[strings.ToLower(m[2])]
	}
	if math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// FormatValue renders a parsed value so that ParseFinancialValue reads it
// back unchanged.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParsePeriod recognises "Q1 2024", "2024 Q1" and "first quarter of 2024",
// in that priority, and returns the canonical "Q1 2024" form.
func ParsePeriod(text string) (string, bool) {
	if m := quarterFirst.FindStringSubmatch(text); m != nil {
		return canonicalPeriod(m[1], m[2]), true
	}
	if m := yearFirst.FindStringSubmatch(text); m != nil {
		return canonicalPeriod(m[2], m[1]), true
	}
	for _, wq := range writtenQuarters {
		if m := wq.pattern.FindStringSubmatch(text); m != nil {
			return canonicalPeriod(wq.digit, m[1]), true
		}
	}
	return "", false
}

// ResolvePeriod tries each source in order and falls back to UnknownPeriod.
func ResolvePeriod(sources ...string) string {
	for _, s := range sources {
		if p, ok := ParsePeriod(s); ok {
			return p
		}
	}
	return UnknownPeriod
}

func canonicalPeriod(quarter, year string) string {
	return fmt.Sprintf("Q%s %s", quarter, year)
}
