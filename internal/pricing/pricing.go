// Package pricing computes reservation totals. It is pure: the same inputs
// always produce the same total, so the creator and the audit re-verification
// path share it.
package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Nights returns the number of whole days in the half-open range [start, end),
// minimum 1. Zero and negative spans are rejected.
func Nights(start, end time.Time) (int, error) {
	if !start.Before(end) {
		return 0, fmt.Errorf("invalid span: end %s is not after start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	nights := int(end.Sub(start).Hours() / 24)
	if nights < 1 {
		nights = 1
	}
	return nights, nil
}

// Quote returns the total in minor units for renting at nightlyRateCents
// over [start, end): nights × nightly rate.
func Quote(nightlyRateCents int64, start, end time.Time) (int64, error) {
	if nightlyRateCents <= 0 {
		return 0, fmt.Errorf("invalid nightly rate: %d", nightlyRateCents)
	}
	nights, err := Nights(start, end)
	if err != nil {
		return 0, err
	}
	return nightlyRateCents * int64(nights), nil
}

// RoundHalfUp divides numerator by denominator rounding half away from zero,
// for reducing sub-minor-unit amounts to the currency's minor unit.
func RoundHalfUp(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	if (numerator < 0) != (denominator < 0) {
		return (numerator - denominator/2) / denominator
	}
	return (numerator + denominator/2) / denominator
}

// ParseAmount converts a decimal amount string like "75.00" into minor units.
// More than two decimal places are rounded half-up. Used at the catalog and
// provider boundaries; internally everything is int64 cents.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	cents := units * 100
	if frac != "" {
		// Parse up to three fractional digits, round the third half-up
		padded := frac + "000"
		fracVal, err := strconv.ParseInt(padded[:3], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q: %w", s, err)
		}
		cents += RoundHalfUp(fracVal, 10)
	}
	if neg {
		cents = -cents
	}
	return cents, nil
}

// FormatAmount renders minor units as a two-decimal string, e.g. 30000 -> "300.00"
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
