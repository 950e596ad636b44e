package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const weiDecimals = 18

// FormatWei renders a wei amount in whole native units, e.g. 1.5 for
// 1500000000000000000. Nil renders as 0.
func FormatWei(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -weiDecimals).String()
}

// ParseEther converts a decimal amount of native units into wei. Fractions
// below one wei are truncated.
func ParseEther(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	return d.Shift(weiDecimals).BigInt(), nil
}
