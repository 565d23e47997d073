// Package ratesize parses the rate-limit size strings accepted at the
// controller boundary: a decimal number with an optional binary unit
// suffix (K, KB, M, MB, G, GB, T, TB), case-insensitive.
package ratesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	kb = 1024
	mb = kb * 1024
	gb = mb * 1024
	tb = gb * 1024
)

var units = map[string]float64{
	"":   1,
	"b":  1,
	"k":  kb,
	"kb": kb,
	"m":  mb,
	"mb": mb,
	"g":  gb,
	"gb": gb,
	"t":  tb,
	"tb": tb,
}

// Parse converts a string like "1MB", "1.5GB" or "100" into a byte count.
// Negative values are rejected. An empty number is rejected.
func Parse(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("ratesize: empty value")
	}

	i := 0
	for i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == '-' || trimmed[i] == '+' || (trimmed[i] >= '0' && trimmed[i] <= '9')) {
		i++
	}
	numPart := trimmed[:i]
	unitPart := strings.ToLower(strings.TrimSpace(trimmed[i:]))

	if numPart == "" {
		return 0, fmt.Errorf("ratesize: no numeric component in %q", s)
	}

	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("ratesize: invalid number %q: %w", numPart, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("ratesize: negative value %q rejected", s)
	}

	mult, ok := units[unitPart]
	if !ok {
		return 0, fmt.Errorf("ratesize: unknown unit %q", unitPart)
	}

	result := n * mult
	if result > math.MaxInt64 {
		return 0, fmt.Errorf("ratesize: value %q overflows", s)
	}
	return int64(math.Round(result)), nil
}

// Format renders a byte count back into a human string using the largest
// unit that divides evenly-ish, for log lines and config round-trips.
func Format(n int64) string {
	switch {
	case n >= tb:
		return fmt.Sprintf("%.2fTB", float64(n)/tb)
	case n >= gb:
		return fmt.Sprintf("%.2fGB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.2fMB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.2fKB", float64(n)/kb)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
