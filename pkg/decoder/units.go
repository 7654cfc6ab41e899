package decoder

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of native values and monitored tokens.
const Decimals = 18

// FormatUnits converts an integer amount of the smallest unit into an exact
// decimal string. The result always carries a fractional part, so zero
// renders as "0.0" and one whole unit as "1.0".
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(v, -Decimals).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// ParseAmount parses a decimal amount string as produced by FormatUnits.
func ParseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
