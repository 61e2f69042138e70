package cdp

import (
	"math"
	"math/big"

	"stablecdp/native/result"
)

// Portfolio is a read-only roll-up of one owner's open positions.
type Portfolio struct {
	Owner     string
	Positions int

	TotalCollateralValue Amount
	TotalDebt            Amount
	AvailableCredit      Amount
	// HealthFactor is weighted by collateral value over positions with debt;
	// +Inf when none carry debt.
	HealthFactor float64
	RiskLevel    RiskLevel
	Liquidatable int
}

// StressPosition is the projection of a single CDP under a price shock.
type StressPosition struct {
	ID            ID
	ShockedPrice  Price
	HealthFactor  float64
	RiskLevel     RiskLevel
	Liquidatable  bool
	Seized        Amount
	Penalty       Amount
	BadDebt       Amount
	ShockedValue  Amount
	EffectiveDebt Amount
}

// StressReport aggregates the projections of a uniform price shock.
type StressReport struct {
	Owner     string
	ShockBps  int64
	Positions []StressPosition

	Liquidatable     int
	CollateralAtRisk Amount
	PotentialPenalty Amount
	PotentialBadDebt Amount
	// PotentialLoss is penalty plus bad debt, in debt units.
	PotentialLoss Amount
	HealthFactor  float64
	RiskLevel     RiskLevel
}

// Summarize aggregates owner's positions. Closed and liquidated positions are
// skipped; positions belonging to anyone else are rejected.
func (e *Engine) Summarize(owner string, positions []CDP) result.Result[Portfolio, error] {
	open, err := openPositions(owner, positions)
	if err != nil {
		return result.Err[Portfolio, error](err)
	}
	summary := Portfolio{Owner: owner, Positions: len(open), RiskLevel: RiskLow}
	weights := newWeightedHealth()
	for _, position := range open {
		debt := position.EffectiveDebt()
		value := collateralValue(position.CollateralAmount, position.Price)
		summary.TotalCollateralValue = summary.TotalCollateralValue.Add(value)
		summary.TotalDebt = summary.TotalDebt.Add(debt)

		EstimateMaxDebt(position.CollateralAmount, position.Price, position.Config.MinCollateralizationRatio).Tap(func(limit Amount) {
			summary.AvailableCredit = summary.AvailableCredit.Add(limit.SubFloor(debt))
		})

		health := position.Health()
		summary.RiskLevel = summary.RiskLevel.Worse(RiskFor(health, e.policy.Risk))
		if e.CheckLiquidatable(position, position.Price) {
			summary.Liquidatable++
		}
		weights.add(value, debt, health)
	}
	summary.HealthFactor = weights.value()
	return result.Ok[Portfolio, error](summary)
}

// StressTest re-prices every open position of owner at its current price
// moved by shockBps basis points (negative for a drop) and projects the
// outcome of liquidating everything that would fall below 1.0.
func (e *Engine) StressTest(owner string, positions []CDP, shockBps int64) result.Result[StressReport, error] {
	if shockBps < -bpsDenominator {
		return result.Err[StressReport, error](newError(KindInvalidInput, "shock %d bps below -100%%", shockBps))
	}
	open, err := openPositions(owner, positions)
	if err != nil {
		return result.Err[StressReport, error](err)
	}
	report := StressReport{Owner: owner, ShockBps: shockBps, RiskLevel: RiskLow}
	weights := newWeightedHealth()
	for _, position := range open {
		projected := e.stress(position, position.Price.Shocked(shockBps))
		report.Positions = append(report.Positions, projected)
		report.RiskLevel = report.RiskLevel.Worse(projected.RiskLevel)
		weights.add(projected.ShockedValue, projected.EffectiveDebt, position.HealthAt(projected.ShockedPrice))
		if !projected.Liquidatable {
			continue
		}
		report.Liquidatable++
		report.CollateralAtRisk = report.CollateralAtRisk.Add(collateralValue(projected.Seized, projected.ShockedPrice))
		report.PotentialPenalty = report.PotentialPenalty.Add(projected.Penalty)
		report.PotentialBadDebt = report.PotentialBadDebt.Add(projected.BadDebt)
	}
	report.PotentialLoss = report.PotentialPenalty.Add(report.PotentialBadDebt)
	report.HealthFactor = weights.value()
	return result.Ok[StressReport, error](report)
}

// stress projects a full liquidation at the shocked price without applying
// the close factor, so the figures are an upper bound on a single event.
func (e *Engine) stress(position CDP, shocked Price) StressPosition {
	debt := position.EffectiveDebt()
	health := position.HealthAt(shocked)
	projected := StressPosition{
		ID:            position.ID,
		ShockedPrice:  shocked,
		HealthFactor:  health.Float64(),
		RiskLevel:     RiskFor(health, e.policy.Risk),
		ShockedValue:  collateralValue(position.CollateralAmount, shocked),
		EffectiveDebt: debt,
	}
	if debt.IsZero() || !health.Liquidatable() {
		return projected
	}
	projected.Liquidatable = true
	owed := withPenalty(debt, e.policy.PenaltyBps)
	if !shocked.valid() {
		projected.Seized = position.CollateralAmount
		projected.BadDebt = debt
		return projected
	}
	required := amountOf(mulDivCeil(owed.int(), shocked.scale(), shocked.Value.int()))
	projected.Seized = required.Min(position.CollateralAmount)
	covered := collateralValue(projected.Seized, shocked).Min(owed)
	projected.Penalty = covered.SubFloor(debt)
	if covered.Cmp(debt) < 0 {
		projected.BadDebt = debt.SubFloor(covered)
	}
	return projected
}

func openPositions(owner string, positions []CDP) ([]CDP, error) {
	open := make([]CDP, 0, len(positions))
	for _, position := range positions {
		if position.Owner != owner {
			return nil, newError(KindInvalidInput, "cdp %s belongs to another owner", position.ID)
		}
		if position.Status.Terminal() {
			continue
		}
		open = append(open, position)
	}
	return open, nil
}

// weightedHealth accumulates Σ(value·hf) / Σ(value) exactly over positions
// carrying debt.
type weightedHealth struct {
	sum    *big.Rat
	weight *big.Int
	seen   bool
}

func newWeightedHealth() *weightedHealth {
	return &weightedHealth{sum: new(big.Rat), weight: new(big.Int)}
}

func (w *weightedHealth) add(value, debt Amount, health Health) {
	if debt.IsZero() || health.IsInfinite() {
		return
	}
	w.seen = true
	term := new(big.Rat).SetFrac(health.num, health.den)
	term.Mul(term, new(big.Rat).SetInt(value.int()))
	w.sum.Add(w.sum, term)
	w.weight.Add(w.weight, value.int())
}

func (w *weightedHealth) value() float64 {
	if !w.seen {
		return math.Inf(1)
	}
	if w.weight.Sign() == 0 {
		return 0
	}
	avg := new(big.Rat).Quo(w.sum, new(big.Rat).SetInt(w.weight))
	f, _ := avg.Float64()
	return f
}
