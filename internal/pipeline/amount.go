package pipeline

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseAmount parses a human-entered money string into an integer amount.
// Currency symbols, thousands separators, and whitespace are stripped. A
// trailing case-insensitive "m" multiplies the parsed value by 1,000,000 and
// "k" by 1,000, then the result is rounded to the nearest integer. Returns
// false on any non-numeric remainder.
//
// Deterministic and side-effect-free; the state machine also uses it as the
// "does this text lexically resemble a price" guard.
func ParseAmount(s string) (int64, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.',
			r == 'm', r == 'M', r == 'k', r == 'K':
			b.WriteRune(r)
		case r == ',', unicode.IsSpace(r), unicode.Is(unicode.Sc, r):
			// separators and currency symbols
		default:
			return 0, false
		}
	}

	t := b.String()
	if t == "" {
		return 0, false
	}

	multiplier := 1.0
	switch t[len(t)-1] {
	case 'm', 'M':
		multiplier = 1_000_000
		t = t[:len(t)-1]
	case 'k', 'K':
		multiplier = 1_000
		t = t[:len(t)-1]
	}

	value, err := strconv.ParseFloat(t, 64)
	if err != nil || value < 0 {
		return 0, false
	}

	return int64(math.Round(value * multiplier)), true
}
