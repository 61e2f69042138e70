package cdp

import "math"

// Status is the lifecycle state of a CDP.
type Status string

const (
	StatusActive      Status = "active"
	StatusWarning     Status = "warning"
	StatusLiquidating Status = "liquidating"
	StatusLiquidated  Status = "liquidated"
	StatusClosed      Status = "closed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusLiquidated || s == StatusClosed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWarning, StatusLiquidating, StatusLiquidated, StatusClosed:
		return true
	}
	return false
}

// RiskLevel is the health-factor band of a CDP.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// Worse returns the riskier of two levels.
func (r RiskLevel) Worse(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

var transitions = map[Status][]Status{
	StatusActive:      {StatusWarning, StatusLiquidating, StatusClosed},
	StatusWarning:     {StatusActive, StatusLiquidating, StatusClosed},
	StatusLiquidating: {StatusActive, StatusLiquidated, StatusClosed},
}

// CanTransition reports whether a CDP may move from one status to another.
// Staying in a non-terminal status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CDP is a collateralized debt position. Values are immutable: every engine
// operation returns a new CDP and never modifies its input.
type CDP struct {
	ID             ID
	Owner          string
	CollateralType string
	Nonce          uint64

	CollateralAmount Amount
	// CollateralValue is CollateralAmount priced at Price, in debt units.
	CollateralValue Amount
	Price           Price
	// DebtAmount is the outstanding principal.
	DebtAmount Amount
	// AccruedFees holds stability fees not yet repaid. Effective debt is
	// DebtAmount + AccruedFees.
	AccruedFees Amount

	CollateralizationRatio Ratio
	// HealthFactor is for presentation only; decisions use Health().
	HealthFactor     float64
	LiquidationPrice Amount
	RiskLevel        RiskLevel
	Status           Status

	StabilityFeeBps     uint64
	LiquidationRatioBps uint64
	Config              CreationConfig

	LastFeeUpdate Timestamp
	CreatedAt     Timestamp
	LastUpdated   Timestamp
}

// EffectiveDebt returns principal plus accrued stability fees.
func (c CDP) EffectiveDebt() Amount {
	return c.DebtAmount.Add(c.AccruedFees)
}

// Health recomputes the exact health factor at the stored price.
func (c CDP) Health() Health {
	return CalculateHealthFactor(c.CollateralAmount, c.EffectiveDebt(), c.Price, c.LiquidationRatioBps)
}

// HealthAt returns the exact health factor at an arbitrary price.
func (c CDP) HealthAt(price Price) Health {
	return CalculateHealthFactor(c.CollateralAmount, c.EffectiveDebt(), price, c.LiquidationRatioBps)
}

// withMetrics returns c with every derived field recomputed at c.Price.
func (c CDP) withMetrics(risk RiskBands) CDP {
	debt := c.EffectiveDebt()
	health := c.Health()
	c.CollateralValue = collateralValue(c.CollateralAmount, c.Price)
	c.CollateralizationRatio = CollateralizationRatio(c.CollateralAmount, debt, c.Price)
	c.HealthFactor = health.Float64()
	c.LiquidationPrice = LiquidationPrice(c.CollateralAmount, debt, c.Price.Decimals, c.LiquidationRatioBps)
	c.RiskLevel = RiskFor(health, risk)
	return c
}

// CheckInvariants verifies the data model invariants that hold for every CDP
// returned by the engine.
func CheckInvariants(c CDP) error {
	if c.ID == "" || c.Owner == "" {
		return newError(KindInvalidInput, "cdp identity incomplete")
	}
	if !c.Status.Valid() {
		return newError(KindInvalidInput, "unknown status %q", c.Status)
	}
	// Liquidation rounds fold fees and penalties into the remaining debt and
	// may leave dust collateral, so limits only bind healthy lifecycles.
	if c.Status.Terminal() || c.Status == StatusLiquidating {
		return nil
	}
	if !c.Config.MaxDebtAmount.IsZero() && c.DebtAmount.Cmp(c.Config.MaxDebtAmount) > 0 {
		return newError(KindDebtOutOfRange, "debt %s exceeds maximum %s", c.DebtAmount, c.Config.MaxDebtAmount)
	}
	if c.CollateralAmount.Cmp(c.Config.MinCollateralAmount) < 0 {
		return newError(KindBelowMinCollateral, "collateral %s below minimum %s", c.CollateralAmount, c.Config.MinCollateralAmount)
	}
	if c.EffectiveDebt().IsZero() {
		if !c.CollateralizationRatio.Infinite || !math.IsInf(c.HealthFactor, 1) {
			return newError(KindInvalidInput, "debt-free cdp must report infinite ratio and health")
		}
	}
	return nil
}
