package wallet

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount is a fixed-point value with exactly three decimal places (spec §3
// Wallet: "balance (fixed-point, three decimals)"), stored as an integer
// count of thousandths to keep every arithmetic operation exact — the
// engine never represents money as a float.
type Amount int64

// MustParse parses a decimal string like "100.000" into an Amount, panicking
// on malformed input. Used only for package-level constant-like literals
// (fee tiers, InitialBalance) where the input is a compile-time string.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Parse parses a decimal string with up to three fractional digits.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac {
		if len(frac) > 3 {
			return 0, fmt.Errorf("amount %q: too many fractional digits", s)
		}
		for len(frac) < 3 {
			frac += "0"
		}
	} else {
		frac = "000"
	}
	w, err := strconv.ParseInt(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	total := w*1000 + f
	if neg {
		total = -total
	}
	return Amount(total), nil
}

// String renders the amount as a three-decimal string (e.g. "0.025").
func (a Amount) String() string {
	neg := a < 0
	v := int64(a)
	if neg {
		v = -v
	}
	s := fmt.Sprintf("%d.%03d", v/1000, v%1000)
	if neg {
		s = "-" + s
	}
	return s
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// LessThan reports whether a < b.
func (a Amount) LessThan(b Amount) bool { return a < b }

// Zero is the zero amount.
const Zero Amount = 0
