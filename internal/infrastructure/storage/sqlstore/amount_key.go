package sqlstore

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const exponentBias = 500000

// AmountKey encodes d as text whose byte order matches numeric order, so
// amount sorts and keyset comparisons stay exact on any backend.
//
// A value 0.d1d2..dn x 10^e (d1 != 0, no trailing zeros) becomes
// "2" + biased e + digits when positive. Negatives use "0", a mirrored
// exponent and nines-complemented digits closed by '~'. Zero is "1".
func AmountKey(d decimal.Decimal) string {
	if d.IsZero() {
		return "1"
	}
	digits := d.Coefficient().String()
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	trimmed := strings.TrimRight(digits, "0")
	e := len(digits) + int(d.Exponent())

	if !neg {
		return fmt.Sprintf("2%07d%s", exponentBias+e, trimmed)
	}
	var b strings.Builder
	b.Grow(len(trimmed) + 9)
	fmt.Fprintf(&b, "0%07d", exponentBias-e)
	for i := 0; i < len(trimmed); i++ {
		b.WriteByte('9' - trimmed[i] + '0')
	}
	b.WriteByte('~')
	return b.String()
}
