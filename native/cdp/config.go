package cdp

import "fmt"

// CreationConfig captures the per-collateral limits a CDP is validated against.
// Ratios are expressed in basis points.
type CreationConfig struct {
	MinCollateralizationRatio uint64 `toml:"MinCollateralizationRatio"`
	MaxDebtRatio              uint64 `toml:"MaxDebtRatio"`
	MinDebtAmount             Amount `toml:"MinDebtAmount"`
	MaxDebtAmount             Amount `toml:"MaxDebtAmount"`
	MinCollateralAmount       Amount `toml:"MinCollateralAmount"`
}

// Validate rejects internally inconsistent configurations.
func (c CreationConfig) Validate() error {
	if c.MinCollateralizationRatio == 0 {
		return fmt.Errorf("min collateralization ratio must be positive")
	}
	if c.MaxDebtRatio == 0 {
		return fmt.Errorf("max debt ratio must be positive")
	}
	if c.MaxDebtAmount.IsZero() {
		return fmt.Errorf("max debt amount must be positive")
	}
	if c.MinDebtAmount.Cmp(c.MaxDebtAmount) > 0 {
		return fmt.Errorf("min debt amount %s exceeds max debt amount %s", c.MinDebtAmount, c.MaxDebtAmount)
	}
	return nil
}

// Equal reports whether two configurations are identical.
func (c CreationConfig) Equal(o CreationConfig) bool {
	return c.MinCollateralizationRatio == o.MinCollateralizationRatio &&
		c.MaxDebtRatio == o.MaxDebtRatio &&
		c.MinDebtAmount.Cmp(o.MinDebtAmount) == 0 &&
		c.MaxDebtAmount.Cmp(o.MaxDebtAmount) == 0 &&
		c.MinCollateralAmount.Cmp(o.MinCollateralAmount) == 0
}

// IsZero reports whether no field has been set.
func (c CreationConfig) IsZero() bool {
	return c.Equal(CreationConfig{})
}

// StatusBands places the warning boundary. The liquidation boundary is fixed
// at a health factor of 1.0.
type StatusBands struct {
	WarningBps uint64 `toml:"WarningBps"`
}

// RiskBands places the risk level boundaries, as health factors in basis
// points. A health factor below CriticalBps is critical, below HighBps high,
// below MediumBps medium and low otherwise.
type RiskBands struct {
	CriticalBps uint64 `toml:"CriticalBps"`
	HighBps     uint64 `toml:"HighBps"`
	MediumBps   uint64 `toml:"MediumBps"`
}

// Policy groups the governance controlled parameters shared by every CDP an
// Engine creates.
type Policy struct {
	// LiquidationRatioBps is the collateralization ratio at which the health
	// factor equals 1.0.
	LiquidationRatioBps uint64 `toml:"LiquidationRatioBps"`
	// StabilityFeeBps is the annual stability fee rate.
	StabilityFeeBps uint64 `toml:"StabilityFeeBps"`
	// PenaltyBps is charged on the debt covered by a liquidation round.
	PenaltyBps uint64 `toml:"PenaltyBps"`
	// RewardBps is the share of seized collateral paid to the liquidator.
	RewardBps uint64 `toml:"RewardBps"`
	// CloseFactorBps caps the share of debt covered in one liquidation round.
	CloseFactorBps uint64      `toml:"CloseFactorBps"`
	Status         StatusBands `toml:"status"`
	Risk           RiskBands   `toml:"risk"`
}

// DefaultPolicy returns the stock parameters.
func DefaultPolicy() Policy {
	return Policy{
		LiquidationRatioBps: 15_000,
		StabilityFeeBps:     200,
		PenaltyBps:          1_000,
		RewardBps:           500,
		CloseFactorBps:      10_000,
		Status:              StatusBands{WarningBps: 12_000},
		Risk:                RiskBands{CriticalBps: 10_000, HighBps: 12_000, MediumBps: 15_000},
	}
}

// EnsureDefaults fills unset fields from DefaultPolicy.
func (p *Policy) EnsureDefaults() {
	def := DefaultPolicy()
	if p.LiquidationRatioBps == 0 {
		p.LiquidationRatioBps = def.LiquidationRatioBps
	}
	if p.CloseFactorBps == 0 {
		p.CloseFactorBps = def.CloseFactorBps
	}
	if p.Status.WarningBps == 0 {
		p.Status = def.Status
	}
	if p.Risk == (RiskBands{}) {
		p.Risk = def.Risk
	}
}

// Validate rejects malformed policies.
func (p Policy) Validate() error {
	if p.LiquidationRatioBps == 0 {
		return fmt.Errorf("liquidation ratio must be positive")
	}
	if p.RewardBps > bpsDenominator {
		return fmt.Errorf("reward %d bps exceeds 100%%", p.RewardBps)
	}
	if p.CloseFactorBps == 0 || p.CloseFactorBps > bpsDenominator {
		return fmt.Errorf("close factor %d bps outside (0, 10000]", p.CloseFactorBps)
	}
	if p.Status.WarningBps < bpsDenominator {
		return fmt.Errorf("warning band %d bps must not be below the liquidation boundary", p.Status.WarningBps)
	}
	r := p.Risk
	if !(r.CriticalBps <= r.HighBps && r.HighBps <= r.MediumBps) {
		return fmt.Errorf("risk bands must be ordered critical <= high <= medium")
	}
	return nil
}
