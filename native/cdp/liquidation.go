package cdp

import "stablecdp/native/result"

// LiquidationOutcome describes one liquidation round. Collateral quantities
// are in collateral units, everything else in debt units.
type LiquidationOutcome struct {
	// CDP is the position after the round.
	CDP   CDP
	Price Price

	DebtBefore       Amount
	CollateralBefore Amount
	// Target is the share of debt this round set out to cover.
	Target  Amount
	Penalty Amount

	CollateralSeized   Amount
	SeizedValue        Amount
	LiquidatorReward   Amount
	ProtocolCollateral Amount

	DebtCovered         Amount
	PenaltyCovered      Amount
	RemainingDebt       Amount
	RemainingCollateral Amount
	// BadDebt is the debt left once no collateral remains.
	BadDebt Amount
	Final   bool
}

// CheckLiquidatable reports whether position may be liquidated at price: it
// must be live, carry debt, hold collateral to seize and have a health factor
// strictly below 1.0. A liquidating position is held to the same test, so a
// deposit that restores health stops further rounds.
func (e *Engine) CheckLiquidatable(position CDP, price Price) bool {
	if position.Status.Terminal() || position.EffectiveDebt().IsZero() || position.CollateralAmount.IsZero() {
		return false
	}
	return position.HealthAt(price).Liquidatable()
}

// Liquidate seizes collateral to cover debt plus the liquidation penalty.
//
// The round covers at most CloseFactorBps of the debt. The penalty is charged
// once per round, on the round's target, and any part the seized collateral
// does not cover stays on the position as debt. When the collateral is
// exhausted before the debt is covered the round is returned as a
// *ShortfallError carrying the outcome; the position stays liquidating with
// the uncovered amount as its debt.
func (e *Engine) Liquidate(position CDP, price Price, now Timestamp) result.Result[LiquidationOutcome, error] {
	if position.Status.Terminal() {
		return result.Err[LiquidationOutcome, error](newError(KindCDPAlreadyClosed, "cdp %s is %s", position.ID, position.Status))
	}
	if !price.valid() {
		return result.Err[LiquidationOutcome, error](newError(KindInvalidInput, "collateral price must be positive"))
	}
	if now < position.LastUpdated {
		return result.Err[LiquidationOutcome, error](newError(KindTimestampRegression, "cdp updated at %d, liquidation at %d", position.LastUpdated, now))
	}
	return result.FlatMap(AccrueFees(position, now), func(accrued CDP) result.Result[LiquidationOutcome, error] {
		if accrued.CollateralAmount.IsZero() && !accrued.EffectiveDebt().IsZero() {
			// An exhausted position keeps its recorded bad debt; another round
			// would only charge the penalty again.
			return result.Err[LiquidationOutcome, error](newError(KindNotLiquidatable, "cdp %s has no collateral left, bad debt %s", accrued.ID, accrued.EffectiveDebt()))
		}
		if !e.CheckLiquidatable(accrued, price) {
			return result.Err[LiquidationOutcome, error](newError(KindNotLiquidatable, "cdp %s health factor %.4f at price %s", accrued.ID, accrued.HealthAt(price).Float64(), price))
		}
		outcome, err := e.liquidate(accrued, price, now)
		if err != nil {
			return result.Err[LiquidationOutcome, error](err)
		}
		if !outcome.BadDebt.IsZero() {
			return result.Err[LiquidationOutcome, error](&ShortfallError{Outcome: outcome})
		}
		return result.Ok[LiquidationOutcome, error](outcome)
	})
}

func (e *Engine) liquidate(position CDP, price Price, now Timestamp) (LiquidationOutcome, error) {
	debt := position.EffectiveDebt()
	collateral := position.CollateralAmount

	target := amountOf(applyBps(debt.int(), e.policy.CloseFactorBps))
	if target.IsZero() {
		target = debt
	}
	penalty := amountOf(applyBps(target.int(), e.policy.PenaltyBps))
	owed := target.Add(penalty)

	required := amountOf(mulDivCeil(owed.int(), price.scale(), price.Value.int()))
	seized := required.Min(collateral)
	seizedValue := collateralValue(seized, price)
	covered := seizedValue.Min(owed)

	debtCovered := covered.Min(target)
	penaltyCovered := covered.SubFloor(debtCovered)
	remainingDebt := debt.SubFloor(debtCovered).Add(penalty.SubFloor(penaltyCovered))
	remainingCollateral := collateral.SubFloor(seized)

	reward := amountOf(applyBps(seized.int(), e.policy.RewardBps))

	next := position
	next.CollateralAmount = remainingCollateral
	next.DebtAmount = remainingDebt
	next.AccruedFees = Amount{}
	next.Price = price
	next = next.withMetrics(e.policy.Risk)
	next.LastUpdated = now

	status := StatusLiquidating
	if remainingDebt.IsZero() {
		status = StatusLiquidated
	}
	if next.Status != StatusLiquidating {
		moved, err := transition(next, StatusLiquidating)
		if err != nil {
			return LiquidationOutcome{}, err
		}
		next = moved
	}
	next, err := transition(next, status)
	if err != nil {
		return LiquidationOutcome{}, err
	}

	outcome := LiquidationOutcome{
		CDP:                 next,
		Price:               price,
		DebtBefore:          debt,
		CollateralBefore:    collateral,
		Target:              target,
		Penalty:             penalty,
		CollateralSeized:    seized,
		SeizedValue:         seizedValue,
		LiquidatorReward:    reward,
		ProtocolCollateral:  seized.SubFloor(reward),
		DebtCovered:         debtCovered,
		PenaltyCovered:      penaltyCovered,
		RemainingDebt:       remainingDebt,
		RemainingCollateral: remainingCollateral,
		Final:               status == StatusLiquidated,
	}
	if remainingCollateral.IsZero() && !remainingDebt.IsZero() {
		outcome.BadDebt = remainingDebt
	}
	return outcome, nil
}

// withPenalty returns debt plus the liquidation penalty charged on it.
func withPenalty(debt Amount, penaltyBps uint64) Amount {
	return debt.Add(amountOf(applyBps(debt.int(), penaltyBps)))
}
