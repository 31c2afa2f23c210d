package formula

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"libprep/api/internal/sample"
)

// Empty is the stored sentinel for a derived value whose precondition is
// not met.
const Empty = ""

func num(s string) float64 {
	return sample.ParseNumber(s)
}

// number renders v the way a plain numeric write is stored: shortest
// decimal form, no exponent.
func number(v float64) string {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// fixed2 renders v with exactly two decimals. The exact binary value of
// v is rounded, and a tie goes to the larger magnitude: 0.125 is "0.13"
// while 1.005, stored just below the tie, is "1.00".
func fixed2(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Empty
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	scaled := new(big.Float).SetPrec(256).SetFloat64(v)
	scaled.Mul(scaled, big.NewFloat(100))
	cents, _ := scaled.Int(nil)
	frac := new(big.Float).SetPrec(256).SetInt(cents)
	frac.Sub(scaled, frac)
	if frac.Cmp(big.NewFloat(0.5)) >= 0 {
		cents.Add(cents, big.NewInt(1))
	}

	digits := cents.String()
	if len(digits) < 3 {
		digits = strings.Repeat("0", 3-len(digits)) + digits
	}
	return sign + digits[:len(digits)-2] + "." + digits[len(digits)-2:]
}

// round2 rounds v to two decimals and keeps it numeric.
func round2(v float64) float64 {
	s := fixed2(v)
	if s == Empty {
		return 0
	}
	out, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return out
}
