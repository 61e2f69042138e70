package storage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"stablecdp/native/cdp"
)

// cdpRecord is the persisted form of a position. Only source fields are
// stored; ratios, health and risk are recomputed from them on load.
type cdpRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	Owner          string `gorm:"index;not null"`
	CollateralType string `gorm:"index;not null"`
	Nonce          uint64

	CollateralAmount string `gorm:"not null"`
	DebtAmount       string `gorm:"not null"`
	AccruedFees      string `gorm:"not null"`
	PriceValue       string `gorm:"not null"`
	PriceDecimals    uint8
	PriceAsOf        int64

	Status              string `gorm:"index;not null"`
	StabilityFeeBps     uint64
	LiquidationRatioBps uint64

	MinCollateralizationRatio uint64
	MaxDebtRatio              uint64
	MinDebtAmount             string
	MaxDebtAmount             string
	MinCollateralAmount       string

	LastFeeUpdate int64
	CreatedAtMs   int64 `gorm:"column:created_at_ms;index"`
	LastUpdated   int64 `gorm:"index"`
}

func (cdpRecord) TableName() string { return "cdps" }

// LiquidationEvent is the audit record of a single liquidation round.
type LiquidationEvent struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey"`
	CDPID               string    `gorm:"column:cdp_id;index;not null"`
	Owner               string    `gorm:"index"`
	CollateralType      string
	Price               string
	PriceDecimals       uint8
	DebtBefore          string
	CollateralSeized    string
	LiquidatorReward    string
	DebtCovered         string
	PenaltyCovered      string
	RemainingDebt       string
	RemainingCollateral string
	BadDebt             string
	Final               bool
	ExecutedAt          int64 `gorm:"index"`
	CreatedAt           time.Time
}

func (LiquidationEvent) TableName() string { return "liquidation_events" }

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&cdpRecord{}, &LiquidationEvent{})
}

func toRecord(position cdp.CDP) cdpRecord {
	return cdpRecord{
		ID:                        string(position.ID),
		Owner:                     position.Owner,
		CollateralType:            position.CollateralType,
		Nonce:                     position.Nonce,
		CollateralAmount:          position.CollateralAmount.String(),
		DebtAmount:                position.DebtAmount.String(),
		AccruedFees:               position.AccruedFees.String(),
		PriceValue:                position.Price.Value.String(),
		PriceDecimals:             position.Price.Decimals,
		PriceAsOf:                 int64(position.Price.AsOf),
		Status:                    string(position.Status),
		StabilityFeeBps:           position.StabilityFeeBps,
		LiquidationRatioBps:       position.LiquidationRatioBps,
		MinCollateralizationRatio: position.Config.MinCollateralizationRatio,
		MaxDebtRatio:              position.Config.MaxDebtRatio,
		MinDebtAmount:             position.Config.MinDebtAmount.String(),
		MaxDebtAmount:             position.Config.MaxDebtAmount.String(),
		MinCollateralAmount:       position.Config.MinCollateralAmount.String(),
		LastFeeUpdate:             int64(position.LastFeeUpdate),
		CreatedAtMs:               int64(position.CreatedAt),
		LastUpdated:               int64(position.LastUpdated),
	}
}

type amountField struct {
	name string
	raw  string
	dst  *cdp.Amount
}

func (r cdpRecord) toCDP() (cdp.CDP, error) {
	var (
		collateral, debt, fees, price cdp.Amount
		minDebt, maxDebt, minColl     cdp.Amount
	)
	fields := []amountField{
		{"collateral_amount", r.CollateralAmount, &collateral},
		{"debt_amount", r.DebtAmount, &debt},
		{"accrued_fees", r.AccruedFees, &fees},
		{"price_value", r.PriceValue, &price},
		{"min_debt_amount", r.MinDebtAmount, &minDebt},
		{"max_debt_amount", r.MaxDebtAmount, &maxDebt},
		{"min_collateral_amount", r.MinCollateralAmount, &minColl},
	}
	for _, field := range fields {
		if field.raw == "" {
			continue
		}
		parsed, err := cdp.ParseAmount(field.raw)
		if err != nil {
			return cdp.CDP{}, fmt.Errorf("cdp %s: decode %s: %w", r.ID, field.name, err)
		}
		*field.dst = parsed
	}
	return cdp.CDP{
		ID:               cdp.ID(r.ID),
		Owner:            r.Owner,
		CollateralType:   r.CollateralType,
		Nonce:            r.Nonce,
		CollateralAmount: collateral,
		DebtAmount:       debt,
		AccruedFees:      fees,
		Price: cdp.Price{
			Value:    price,
			Decimals: r.PriceDecimals,
			AsOf:     cdp.Timestamp(r.PriceAsOf),
		},
		Status:              cdp.Status(r.Status),
		StabilityFeeBps:     r.StabilityFeeBps,
		LiquidationRatioBps: r.LiquidationRatioBps,
		Config: cdp.CreationConfig{
			MinCollateralizationRatio: r.MinCollateralizationRatio,
			MaxDebtRatio:              r.MaxDebtRatio,
			MinDebtAmount:             minDebt,
			MaxDebtAmount:             maxDebt,
			MinCollateralAmount:       minColl,
		},
		LastFeeUpdate: cdp.Timestamp(r.LastFeeUpdate),
		CreatedAt:     cdp.Timestamp(r.CreatedAtMs),
		LastUpdated:   cdp.Timestamp(r.LastUpdated),
	}, nil
}

func newLiquidationEvent(outcome cdp.LiquidationOutcome, executedAt cdp.Timestamp) LiquidationEvent {
	position := outcome.CDP
	return LiquidationEvent{
		ID:                  uuid.New(),
		CDPID:               string(position.ID),
		Owner:               position.Owner,
		CollateralType:      position.CollateralType,
		Price:               outcome.Price.Value.String(),
		PriceDecimals:       outcome.Price.Decimals,
		DebtBefore:          outcome.DebtBefore.String(),
		CollateralSeized:    outcome.CollateralSeized.String(),
		LiquidatorReward:    outcome.LiquidatorReward.String(),
		DebtCovered:         outcome.DebtCovered.String(),
		PenaltyCovered:      outcome.PenaltyCovered.String(),
		RemainingDebt:       outcome.RemainingDebt.String(),
		RemainingCollateral: outcome.RemainingCollateral.String(),
		BadDebt:             outcome.BadDebt.String(),
		Final:               outcome.Final,
		ExecutedAt:          int64(executedAt),
	}
}
