package cdp

import "math/big"

const (
	bpsDenominator = 10_000
	secondsPerYear = 31_536_000
	millisPerYear  = secondsPerYear * 1_000
)

var (
	basisPoints = big.NewInt(bpsDenominator)
	feeDivisor  = new(big.Int).Mul(big.NewInt(millisPerYear), basisPoints)
	pow10Cache  = func() [78]*big.Int {
		var table [78]*big.Int
		table[0] = big.NewInt(1)
		for i := 1; i < len(table); i++ {
			table[i] = new(big.Int).Mul(table[i-1], big.NewInt(10))
		}
		return table
	}()
)

func pow10(n uint8) *big.Int {
	if int(n) < len(pow10Cache) {
		return pow10Cache[n]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func bpsInt(bps uint64) *big.Int {
	return new(big.Int).SetUint64(bps)
}

// mulDiv returns floor(a*b/c) for non-negative operands. c must be positive.
func mulDiv(a, b, c *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, c)
}

// mulDivCeil returns ceil(a*b/c) for non-negative operands. c must be positive.
func mulDivCeil(a, b, c *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, c, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// applyBps returns floor(amount*bps/10000).
func applyBps(amount *big.Int, bps uint64) *big.Int {
	if amount.Sign() == 0 || bps == 0 {
		return new(big.Int)
	}
	return mulDiv(amount, bpsInt(bps), basisPoints)
}

// collateralNumerator is collateral*price, the value of the collateral in debt
// units scaled by 10^decimals.
func collateralNumerator(collateral Amount, price Price) *big.Int {
	return new(big.Int).Mul(collateral.int(), price.Value.int())
}

// collateralValue converts a collateral quantity into debt units, truncating.
func collateralValue(collateral Amount, price Price) Amount {
	return amountOf(new(big.Int).Quo(collateralNumerator(collateral, price), price.scale()))
}
