package cdp

import (
	"fmt"

	"stablecdp/native/result"
)

// Operation names a collateral or debt mutation.
type Operation string

const (
	OpDeposit  Operation = "deposit"
	OpWithdraw Operation = "withdraw"
	OpMint     Operation = "mint"
	OpBurn     Operation = "burn"
	OpClose    Operation = "close"
)

// ParseOperation maps a wire name onto an Operation.
func ParseOperation(name string) (Operation, error) {
	switch op := Operation(name); op {
	case OpDeposit, OpWithdraw, OpMint, OpBurn, OpClose:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", name)
}

// MutationRequest describes a single operation against an existing CDP.
type MutationRequest struct {
	CDPID     ID
	Caller    string
	Operation Operation
	Amount    Amount
	// Price is the current oracle price for the CDP's collateral.
	Price Price
	Now   Timestamp

	EnforceHealthFactor           bool
	EnforceCollateralizationRatio bool
	// MinHealthFactorAfter defaults to 1.0 when zero.
	MinHealthFactorAfter float64
	// MinCollateralizationRatioAfter defaults to the CDP's creation minimum
	// when zero.
	MinCollateralizationRatioAfter uint64
}

// Apply executes req against position. On any failure the input is returned
// untouched inside the error path; on success a new CDP is returned.
func (e *Engine) Apply(position CDP, req MutationRequest) result.Result[CDP, error] {
	if err := checkMutation(position, req); err != nil {
		return result.Err[CDP, error](err)
	}
	return result.FlatMap(AccrueFees(position, req.Now), func(accrued CDP) result.Result[CDP, error] {
		next, err := e.mutate(accrued, req)
		if err != nil {
			return result.Err[CDP, error](err)
		}
		return result.Ok[CDP, error](next)
	})
}

func checkMutation(position CDP, req MutationRequest) error {
	if req.CDPID != position.ID {
		return newError(KindCDPNotFound, "cdp %s not found", req.CDPID)
	}
	if req.Caller != position.Owner {
		return ErrUnauthorized
	}
	if position.Status.Terminal() {
		return newError(KindCDPAlreadyClosed, "cdp %s is %s", position.ID, position.Status)
	}
	if _, err := ParseOperation(string(req.Operation)); err != nil {
		return newError(KindInvalidInput, "%v", err)
	}
	if req.Operation != OpClose && req.Amount.IsZero() {
		return newError(KindInvalidAmount, "%s amount must be positive", req.Operation)
	}
	if !req.Price.valid() {
		return newError(KindInvalidInput, "collateral price must be positive")
	}
	if req.Now < position.LastUpdated {
		return newError(KindTimestampRegression, "cdp updated at %d, request at %d", position.LastUpdated, req.Now)
	}
	if position.Status == StatusLiquidating {
		switch req.Operation {
		case OpDeposit, OpBurn, OpClose:
		default:
			return newError(KindInvalidTransition, "%s not permitted while liquidating", req.Operation)
		}
	}
	return nil
}

func (e *Engine) mutate(position CDP, req MutationRequest) (CDP, error) {
	next := position
	cfg := position.Config
	switch req.Operation {
	case OpDeposit:
		next.CollateralAmount = position.CollateralAmount.Add(req.Amount)
	case OpWithdraw:
		remaining, ok := position.CollateralAmount.Sub(req.Amount)
		if !ok {
			return CDP{}, newError(KindInvalidAmount, "withdraw %s exceeds collateral %s", req.Amount, position.CollateralAmount)
		}
		if remaining.Cmp(cfg.MinCollateralAmount) < 0 {
			return CDP{}, newError(KindBelowMinCollateral, "collateral %s would fall below minimum %s", remaining, cfg.MinCollateralAmount)
		}
		next.CollateralAmount = remaining
	case OpMint:
		principal := position.DebtAmount.Add(req.Amount)
		if principal.Cmp(cfg.MinDebtAmount) < 0 || principal.Cmp(cfg.MaxDebtAmount) > 0 {
			return CDP{}, newError(KindDebtOutOfRange, "debt %s outside [%s, %s]", principal, cfg.MinDebtAmount, cfg.MaxDebtAmount)
		}
		next.DebtAmount = principal
	case OpBurn:
		if req.Amount.Cmp(position.EffectiveDebt()) > 0 {
			return CDP{}, newError(KindInvalidAmount, "burn %s exceeds outstanding debt %s", req.Amount, position.EffectiveDebt())
		}
		towardsFees := req.Amount.Min(position.AccruedFees)
		next.AccruedFees = position.AccruedFees.SubFloor(towardsFees)
		next.DebtAmount = position.DebtAmount.SubFloor(req.Amount.SubFloor(towardsFees))
		if !next.DebtAmount.IsZero() && next.DebtAmount.Cmp(cfg.MinDebtAmount) < 0 {
			return CDP{}, newError(KindDebtOutOfRange, "remaining debt %s below minimum %s", next.DebtAmount, cfg.MinDebtAmount)
		}
	case OpClose:
		if !position.EffectiveDebt().IsZero() {
			return CDP{}, newError(KindInvalidAmount, "close requires zero debt, %s outstanding", position.EffectiveDebt())
		}
		next.CollateralAmount = Amount{}
	}

	next.Price = req.Price
	next = next.withMetrics(e.policy.Risk)
	next.LastUpdated = req.Now

	if err := e.enforce(position, next, req); err != nil {
		return CDP{}, err
	}
	return e.advanceStatus(next, req.Operation == OpClose)
}

// enforce applies the collateralization invariant to risk-increasing
// operations and the caller requested thresholds to every operation.
func (e *Engine) enforce(before, after CDP, req MutationRequest) error {
	riskIncreasing := req.Operation == OpWithdraw || req.Operation == OpMint
	if riskIncreasing && after.CollateralizationRatio.Below(before.Config.MinCollateralizationRatio) {
		return newError(KindBelowMinCollateralizationRatio, "collateralization ratio %s bps would fall below minimum %d bps", after.CollateralizationRatio, before.Config.MinCollateralizationRatio)
	}
	if req.Operation == OpClose {
		return nil
	}
	if req.EnforceHealthFactor {
		threshold := HealthFromFloat(1.0)
		if req.MinHealthFactorAfter > 0 {
			threshold = HealthFromFloat(req.MinHealthFactorAfter)
		}
		if after.Health().Below(threshold) {
			return newError(KindHealthFactorTooLow, "health factor %.4f would fall below %.4f", after.HealthFactor, threshold.Float64())
		}
	}
	if req.EnforceCollateralizationRatio {
		threshold := before.Config.MinCollateralizationRatio
		if req.MinCollateralizationRatioAfter > 0 {
			threshold = req.MinCollateralizationRatioAfter
		}
		if after.CollateralizationRatio.Below(threshold) {
			return newError(KindCollateralizationTooLow, "collateralization ratio %s bps would fall below %d bps", after.CollateralizationRatio, threshold)
		}
	}
	return nil
}

// advanceStatus picks the status implied by the position's health and checks
// the move against the lifecycle.
func (e *Engine) advanceStatus(next CDP, closing bool) (CDP, error) {
	var target Status
	switch {
	case closing:
		target = StatusClosed
	case next.Status == StatusLiquidating:
		target = StatusLiquidating
		if next.EffectiveDebt().IsZero() {
			target = StatusActive
		}
	default:
		target = StatusFor(next.Health(), e.policy.Status)
	}
	return transition(next, target)
}

// Reprice marks position to a new oracle price, accruing fees up to now.
// Active and warning positions move between bands; a position whose health
// falls below 1.0 becomes liquidating.
func (e *Engine) Reprice(position CDP, price Price, now Timestamp) result.Result[CDP, error] {
	if position.Status.Terminal() {
		return result.Err[CDP, error](newError(KindCDPAlreadyClosed, "cdp %s is %s", position.ID, position.Status))
	}
	if !price.valid() {
		return result.Err[CDP, error](newError(KindInvalidInput, "collateral price must be positive"))
	}
	if now < position.LastUpdated {
		return result.Err[CDP, error](newError(KindTimestampRegression, "cdp updated at %d, reprice at %d", position.LastUpdated, now))
	}
	return result.FlatMap(AccrueFees(position, now), func(accrued CDP) result.Result[CDP, error] {
		accrued.Price = price
		accrued = accrued.withMetrics(e.policy.Risk)
		accrued.LastUpdated = now
		next, err := e.advanceStatus(accrued, false)
		if err != nil {
			return result.Err[CDP, error](err)
		}
		return result.Ok[CDP, error](next)
	})
}

func (e *Engine) single(position CDP, op Operation, amount Amount, price Price, now Timestamp) result.Result[CDP, error] {
	return e.Apply(position, MutationRequest{
		CDPID:     position.ID,
		Caller:    position.Owner,
		Operation: op,
		Amount:    amount,
		Price:     price,
		Now:       now,
	})
}

// DepositCollateral adds collateral on behalf of the owner.
func (e *Engine) DepositCollateral(position CDP, amount Amount, price Price, now Timestamp) result.Result[CDP, error] {
	return e.single(position, OpDeposit, amount, price, now)
}

// WithdrawCollateral removes collateral on behalf of the owner.
func (e *Engine) WithdrawCollateral(position CDP, amount Amount, price Price, now Timestamp) result.Result[CDP, error] {
	return e.single(position, OpWithdraw, amount, price, now)
}

// MintDebt increases the principal on behalf of the owner.
func (e *Engine) MintDebt(position CDP, amount Amount, price Price, now Timestamp) result.Result[CDP, error] {
	return e.single(position, OpMint, amount, price, now)
}

// BurnDebt repays accrued fees and then principal on behalf of the owner.
func (e *Engine) BurnDebt(position CDP, amount Amount, price Price, now Timestamp) result.Result[CDP, error] {
	return e.single(position, OpBurn, amount, price, now)
}

// Close releases all collateral of a debt-free position.
func (e *Engine) Close(position CDP, price Price, now Timestamp) result.Result[CDP, error] {
	return e.single(position, OpClose, Amount{}, price, now)
}
