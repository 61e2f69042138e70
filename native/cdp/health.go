package cdp

import (
	"math"
	"math/big"
)

// Health is an exact health factor num/den. A zero denominator represents
// +Inf, the value for positions without debt. Band comparisons are performed
// on the exact fraction so there is no floating point tolerance around 1.0.
type Health struct {
	num *big.Int
	den *big.Int
}

// InfiniteHealth is the health of a debt-free position.
func InfiniteHealth() Health { return Health{} }

// HealthFromFloat converts a float health factor into its exact binary value.
// NaN and negative inputs are treated as zero.
func HealthFromFloat(f float64) Health {
	if math.IsInf(f, 1) {
		return InfiniteHealth()
	}
	if math.IsNaN(f) || f <= 0 {
		return Health{num: new(big.Int), den: big.NewInt(1)}
	}
	r := new(big.Rat).SetFloat64(f)
	return Health{num: new(big.Int).Set(r.Num()), den: new(big.Int).Set(r.Denom())}
}

// IsInfinite reports whether the position carries no debt.
func (h Health) IsInfinite() bool {
	return h.den == nil || h.den.Sign() == 0
}

// Float64 returns the nearest float64, or +Inf.
func (h Health) Float64() float64 {
	if h.IsInfinite() {
		return math.Inf(1)
	}
	f, _ := new(big.Rat).SetFrac(h.num, h.den).Float64()
	return f
}

// BelowBps reports whether h < bps/10000.
func (h Health) BelowBps(bps uint64) bool {
	if h.IsInfinite() {
		return false
	}
	left := new(big.Int).Mul(h.num, basisPoints)
	right := new(big.Int).Mul(bpsInt(bps), h.den)
	return left.Cmp(right) < 0
}

// Below reports whether h < other.
func (h Health) Below(other Health) bool {
	if h.IsInfinite() {
		return false
	}
	if other.IsInfinite() {
		return true
	}
	left := new(big.Int).Mul(h.num, other.den)
	right := new(big.Int).Mul(other.num, h.den)
	return left.Cmp(right) < 0
}

// Liquidatable reports whether the health factor is strictly below 1.0.
func (h Health) Liquidatable() bool {
	return h.BelowBps(bpsDenominator)
}

// Ratio is a collateralization ratio in basis points. Infinite is set when the
// position has no debt.
type Ratio struct {
	Bps      Amount
	Infinite bool
}

// Below reports whether the ratio is strictly below bps.
func (r Ratio) Below(bps uint64) bool {
	if r.Infinite {
		return false
	}
	return r.Bps.int().Cmp(bpsInt(bps)) < 0
}

func (r Ratio) String() string {
	if r.Infinite {
		return "inf"
	}
	return r.Bps.String()
}

// CollateralizationRatio returns floor(C*P*10000 / (D*10^dec)) in basis
// points, or an infinite ratio when debt is zero.
func CollateralizationRatio(collateral, debt Amount, price Price) Ratio {
	if debt.IsZero() {
		return Ratio{Infinite: true}
	}
	num := new(big.Int).Mul(collateralNumerator(collateral, price), basisPoints)
	den := new(big.Int).Mul(debt.int(), price.scale())
	return Ratio{Bps: amountOf(num.Quo(num, den))}
}

// debtRatioBps returns floor(D*10^dec*10000 / (C*P)). ok is false when the
// collateral is worthless.
func debtRatioBps(collateral, debt Amount, price Price) (*big.Int, bool) {
	den := collateralNumerator(collateral, price)
	if den.Sign() == 0 {
		return nil, false
	}
	num := new(big.Int).Mul(debt.int(), price.scale())
	num.Mul(num, basisPoints)
	return num.Quo(num, den), true
}

// CalculateHealthFactor returns (C*P) / (D*liquidationRatio/10000) with the
// price scale applied, computed exactly. Debt of zero yields +Inf.
func CalculateHealthFactor(collateral, debt Amount, price Price, liquidationRatioBps uint64) Health {
	if debt.IsZero() {
		return InfiniteHealth()
	}
	if liquidationRatioBps == 0 {
		return InfiniteHealth()
	}
	num := new(big.Int).Mul(collateralNumerator(collateral, price), basisPoints)
	den := new(big.Int).Mul(debt.int(), price.scale())
	den.Mul(den, bpsInt(liquidationRatioBps))
	return Health{num: num, den: den}
}

// LiquidationPrice returns the smallest scaled price at which the health
// factor is at least 1.0. Any lower price makes the position liquidatable.
// Zero is returned when there is no debt or no collateral.
func LiquidationPrice(collateral, debt Amount, decimals uint8, liquidationRatioBps uint64) Amount {
	if debt.IsZero() || collateral.IsZero() {
		return Amount{}
	}
	num := new(big.Int).Mul(debt.int(), bpsInt(liquidationRatioBps))
	num.Mul(num, pow10(decimals))
	den := new(big.Int).Mul(collateral.int(), basisPoints)
	return amountOf(mulDivCeil(num, big.NewInt(1), den))
}

// StatusFor classifies a health factor into a lifecycle status for a position
// that is not yet liquidating.
func StatusFor(h Health, bands StatusBands) Status {
	switch {
	case h.Liquidatable():
		return StatusLiquidating
	case h.BelowBps(bands.WarningBps):
		return StatusWarning
	default:
		return StatusActive
	}
}

// InitialStatus is StatusFor applied to a floating point health factor.
func InitialStatus(healthFactor float64, bands StatusBands) Status {
	return StatusFor(HealthFromFloat(healthFactor), bands)
}

// RiskFor classifies a health factor into a risk level.
func RiskFor(h Health, bands RiskBands) RiskLevel {
	switch {
	case h.BelowBps(bands.CriticalBps):
		return RiskCritical
	case h.BelowBps(bands.HighBps):
		return RiskHigh
	case h.BelowBps(bands.MediumBps):
		return RiskMedium
	default:
		return RiskLow
	}
}
