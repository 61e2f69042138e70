package cdp

import (
	"math/big"
	"strings"

	"stablecdp/native/result"
)

// CreationParams are the caller supplied inputs for opening a CDP.
type CreationParams struct {
	Owner            string
	CollateralType   string
	CollateralAmount Amount
	DebtAmount       Amount
	// Config is optional; when set it must match the context config.
	Config CreationConfig
	// Nonce disambiguates positions opened by the same owner for the same
	// collateral within one millisecond.
	Nonce uint64
}

// CreationContext carries the environment a creation is evaluated in.
type CreationContext struct {
	CollateralPrice   Price
	CurrentTime       Timestamp
	Config            CreationConfig
	EmergencyShutdown bool
}

// ValidateCreation checks a creation request against the context without
// building the CDP.
func ValidateCreation(params CreationParams, ctx CreationContext) result.Result[struct{}, error] {
	if err := validateCreation(params, ctx); err != nil {
		return result.Err[struct{}, error](err)
	}
	return result.Ok[struct{}, error](struct{}{})
}

func validateCreation(params CreationParams, ctx CreationContext) error {
	if ctx.EmergencyShutdown {
		return ErrEmergencyShutdown
	}
	if strings.TrimSpace(params.Owner) == "" {
		return newError(KindInvalidInput, "owner required")
	}
	if strings.TrimSpace(params.CollateralType) == "" {
		return newError(KindInvalidInput, "collateral type required")
	}
	if !ctx.CollateralPrice.valid() {
		return newError(KindInvalidInput, "collateral price must be positive")
	}
	cfg := ctx.Config
	if err := cfg.Validate(); err != nil {
		return newError(KindInvalidInput, "creation config: %v", err)
	}
	if !params.Config.IsZero() && !params.Config.Equal(cfg) {
		return newError(KindInvalidInput, "request config does not match the configured limits")
	}

	if params.CollateralAmount.Cmp(cfg.MinCollateralAmount) < 0 {
		return newError(KindBelowMinCollateral, "collateral %s below minimum %s", params.CollateralAmount, cfg.MinCollateralAmount)
	}
	if params.DebtAmount.Cmp(cfg.MinDebtAmount) < 0 || params.DebtAmount.Cmp(cfg.MaxDebtAmount) > 0 {
		return newError(KindDebtOutOfRange, "debt %s outside [%s, %s]", params.DebtAmount, cfg.MinDebtAmount, cfg.MaxDebtAmount)
	}
	ratio := CollateralizationRatio(params.CollateralAmount, params.DebtAmount, ctx.CollateralPrice)
	if ratio.Below(cfg.MinCollateralizationRatio) {
		return newError(KindBelowMinCollateralizationRatio, "collateralization ratio %s bps below minimum %d bps", ratio, cfg.MinCollateralizationRatio)
	}
	if !params.DebtAmount.IsZero() {
		debtRatio, ok := debtRatioBps(params.CollateralAmount, params.DebtAmount, ctx.CollateralPrice)
		if !ok || debtRatio.Cmp(bpsInt(cfg.MaxDebtRatio)) > 0 {
			return newError(KindExceedsMaxDebtRatio, "debt ratio above maximum %d bps", cfg.MaxDebtRatio)
		}
	}
	return nil
}

// Create validates the request and returns the new position.
func (e *Engine) Create(params CreationParams, ctx CreationContext) result.Result[CDP, error] {
	return result.FlatMap(ValidateCreation(params, ctx), func(struct{}) result.Result[CDP, error] {
		return result.Ok[CDP, error](e.build(params, ctx))
	})
}

func (e *Engine) build(params CreationParams, ctx CreationContext) CDP {
	now := ctx.CurrentTime
	position := CDP{
		ID:                  GenerateIDWithNonce(params.Owner, params.CollateralType, now, params.Nonce),
		Owner:               params.Owner,
		CollateralType:      params.CollateralType,
		Nonce:               params.Nonce,
		CollateralAmount:    params.CollateralAmount,
		DebtAmount:          params.DebtAmount,
		Price:               ctx.CollateralPrice,
		StabilityFeeBps:     e.policy.StabilityFeeBps,
		LiquidationRatioBps: e.policy.LiquidationRatioBps,
		Config:              ctx.Config,
		LastFeeUpdate:       now,
		CreatedAt:           now,
		LastUpdated:         now,
	}
	position = position.withMetrics(e.policy.Risk)
	position.Status = StatusFor(position.Health(), e.policy.Status)
	return position
}

// CreateBatch creates every request in order. The first failure aborts the
// batch and is returned as a *BatchError; no positions are returned with it.
func (e *Engine) CreateBatch(requests []CreationParams, ctx CreationContext) result.Result[[]CDP, error] {
	seen := make(map[ID]int, len(requests))
	traversed := result.Traverse(requests, func(i int, params CreationParams) result.Result[CDP, error] {
		return result.FlatMap(e.Create(params, ctx), func(position CDP) result.Result[CDP, error] {
			if prior, dup := seen[position.ID]; dup {
				return result.Err[CDP, error](newError(KindDuplicateID, "request %d repeats the id of request %d", i, prior))
			}
			seen[position.ID] = i
			return result.Ok[CDP, error](position)
		})
	})
	return result.MapErr(traversed, func(failure result.IndexedError[error]) error {
		return &BatchError{Index: failure.Index, Err: failure.Err}
	})
}

// EstimateMaxDebt returns the largest debt that collateral can back at price
// while keeping the collateralization ratio at or above minRatioBps.
func EstimateMaxDebt(collateral Amount, price Price, minRatioBps uint64) result.Result[Amount, error] {
	if minRatioBps == 0 {
		return result.Err[Amount, error](newError(KindInvalidInput, "min ratio must be positive"))
	}
	num := new(big.Int).Mul(collateralNumerator(collateral, price), basisPoints)
	den := new(big.Int).Mul(bpsInt(minRatioBps), price.scale())
	return result.Ok[Amount, error](amountOf(num.Quo(num, den)))
}

// EstimateMinCollateral returns the smallest collateral that backs debt at
// price with a collateralization ratio of at least minRatioBps.
func EstimateMinCollateral(debt Amount, price Price, minRatioBps uint64) result.Result[Amount, error] {
	if !price.valid() {
		return result.Err[Amount, error](newError(KindInvalidInput, "collateral price must be positive"))
	}
	num := new(big.Int).Mul(debt.int(), bpsInt(minRatioBps))
	num.Mul(num, price.scale())
	den := new(big.Int).Mul(price.Value.int(), basisPoints)
	return result.Ok[Amount, error](amountOf(mulDivCeil(num, big.NewInt(1), den)))
}
