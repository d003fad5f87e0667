package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNights(t *testing.T) {
	t.Run("Four Nights", func(t *testing.T) {
		n, err := Nights(date(2025, 6, 10), date(2025, 6, 14))
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("Single Night", func(t *testing.T) {
		n, err := Nights(date(2025, 6, 10), date(2025, 6, 11))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Zero Span Rejected", func(t *testing.T) {
		_, err := Nights(date(2025, 6, 10), date(2025, 6, 10))
		assert.Error(t, err)
	})

	t.Run("Negative Span Rejected", func(t *testing.T) {
		_, err := Nights(date(2025, 6, 14), date(2025, 6, 10))
		assert.Error(t, err)
	})
}

func TestQuote(t *testing.T) {
	t.Run("Four Nights At 75", func(t *testing.T) {
		// 75.00 x 4 nights = 300.00
		total, err := Quote(7500, date(2025, 6, 10), date(2025, 6, 14))
		require.NoError(t, err)
		assert.Equal(t, int64(30000), total)
		assert.Equal(t, "300.00", FormatAmount(total))
	})

	t.Run("Single Night", func(t *testing.T) {
		total, err := Quote(9999, date(2025, 6, 10), date(2025, 6, 11))
		require.NoError(t, err)
		assert.Equal(t, int64(9999), total)
	})

	t.Run("Determinism", func(t *testing.T) {
		a, err := Quote(12345, date(2026, 1, 1), date(2026, 1, 20))
		require.NoError(t, err)
		b, err := Quote(12345, date(2026, 1, 1), date(2026, 1, 20))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Invalid Rate", func(t *testing.T) {
		_, err := Quote(0, date(2025, 6, 10), date(2025, 6, 14))
		assert.Error(t, err)
	})

	t.Run("Invalid Span", func(t *testing.T) {
		_, err := Quote(7500, date(2025, 6, 14), date(2025, 6, 10))
		assert.Error(t, err)
	})
}

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, int64(1), RoundHalfUp(5, 10))
	assert.Equal(t, int64(0), RoundHalfUp(4, 10))
	assert.Equal(t, int64(1), RoundHalfUp(6, 10))
	assert.Equal(t, int64(-1), RoundHalfUp(-5, 10))
	assert.Equal(t, int64(0), RoundHalfUp(1, 0))
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"75.00", 7500},
		{"75", 7500},
		{"0.99", 99},
		{".50", 50},
		{"100.5", 10050},
		{"10.005", 1001}, // third decimal rounds half-up
		{"10.004", 1000},
		{"-12.34", -1234},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseAmount("abc")
	assert.Error(t, err)
	_, err = ParseAmount("12.x9")
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "300.00", FormatAmount(30000))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "-12.34", FormatAmount(-1234))
}
