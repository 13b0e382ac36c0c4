package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFinancialValue(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$5.3 million", 5_300_000, true},
		{"1.2B", 1_200_000_000, true},
		{"5.3M", 5_300_000, true},
		{"€ 750 thousand", 750_000, true},
		{"2 trillion", 2_000_000_000_000, true},
		{"£12k", 12_000, true},
		{"-4.5 Billion", -4_500_000_000, true},
		{"revenue of 3.1 billion dollars", 3_100_000_000, true},
		{"$1,250,000", 1_250_000, true},
		{"1.2bn", 1_200_000_000, true},
		{"$5.3MM", 5_300_000, true},
		{"5.3Mil", 5_300_000, true},
		{"1.5 bil", 1_500_000_000, true},
		{"2.1 mln", 2_100_000, true},
		{"42", 42, true},
		{"garbage", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParseFinancialValue(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.InDelta(t, tc.want, got, 1e-6)
		})
	}
}

func TestParseFinancialValueRejectsOverflow(t *testing.T) {
	huge := "1" + strings.Repeat("0", 300) + " trillion"
	got, ok := ParseFinancialValue(huge)
	assert.False(t, ok)
	assert.Zero(t, got)

	got, ok = ParseFinancialValue("-" + huge)
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestParseFinancialValueRoundTrip(t *testing.T) {
	for _, in := range []string{"$5.3 million", "1.2B", "0.75k", "-3", "123456789.25"} {
		v, ok := ParseFinancialValue(in)
		assert.True(t, ok, in)
		again, ok := ParseFinancialValue(FormatValue(v))
		assert.True(t, ok, in)
		assert.Equal(t, v, again, in)
	}
}

func TestParsePeriod(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Q1 2024", "Q1 2024", true},
		{"2024 Q3", "Q3 2024", true},
		{"first quarter of 2023", "Q1 2023", true},
		{"Fourth Quarter of 2022", "Q4 2022", true},
		{"q2 2021", "Q2 2021", true},
		{"Q42024", "Q4 2024", true},
		{"results for the period ending 2020Q2", "Q2 2020", true},
		{"Q5 2024", "", false},
		{"no period here", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := ParsePeriod(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParsePeriodPriority(t *testing.T) {
	// Quarter-first notation outranks year-first and written forms.
	got, ok := ParsePeriod("2023 Q4 compared with Q1 2024")
	assert.True(t, ok)
	assert.Equal(t, "Q1 2024", got)

	// Among written forms the table order decides, not position.
	got, ok = ParsePeriod("second quarter of 2023 versus first quarter of 2024")
	assert.True(t, ok)
	assert.Equal(t, "Q1 2024", got)
}

func TestParsePeriodIdempotent(t *testing.T) {
	for _, in := range []string{"Q1 2024", "2024 Q3", "third quarter of 2019"} {
		p, ok := ParsePeriod(in)
		assert.True(t, ok)
		again, ok := ParsePeriod(p)
		assert.True(t, ok)
		assert.Equal(t, p, again)
	}
}

func TestResolvePeriod(t *testing.T) {
	assert.Equal(t, "Q2 2024", ResolvePeriod("Q2 2024", "Q1 2020"))
	assert.Equal(t, "Q1 2020", ResolvePeriod("latest quarter", "profit rose in Q1 2020"))
	assert.Equal(t, UnknownPeriod, ResolvePeriod("latest quarter", "nothing here"))
	assert.Equal(t, UnknownPeriod, ResolvePeriod())
}
