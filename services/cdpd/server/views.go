package server

import (
	"math"
	"strconv"
	"time"

	"stablecdp/native/cdp"
	"stablecdp/services/cdpd/storage"
)

type priceView struct {
	Value    cdp.Amount `json:"value"`
	Decimals uint8      `json:"decimals"`
	AsOf     time.Time  `json:"as_of"`
}

type cdpView struct {
	ID                     string     `json:"id"`
	Owner                  string     `json:"owner"`
	CollateralType         string     `json:"collateral_type"`
	Nonce                  uint64     `json:"nonce"`
	Status                 string     `json:"status"`
	RiskLevel              string     `json:"risk_level"`
	CollateralAmount       cdp.Amount `json:"collateral_amount"`
	CollateralValue        cdp.Amount `json:"collateral_value"`
	Price                  priceView  `json:"price"`
	DebtAmount             cdp.Amount `json:"debt_amount"`
	AccruedFees            cdp.Amount `json:"accrued_fees"`
	EffectiveDebt          cdp.Amount `json:"effective_debt"`
	CollateralizationRatio string     `json:"collateralization_ratio_bps"`
	HealthFactor           string     `json:"health_factor"`
	LiquidationPrice       cdp.Amount `json:"liquidation_price"`
	StabilityFeeBps        uint64     `json:"stability_fee_bps"`
	LiquidationRatioBps    uint64     `json:"liquidation_ratio_bps"`
	CreatedAt              time.Time  `json:"created_at"`
	LastUpdated            time.Time  `json:"last_updated"`
	LastFeeUpdate          time.Time  `json:"last_fee_update"`
}

func newPriceView(p cdp.Price) priceView {
	return priceView{Value: p.Value, Decimals: p.Decimals, AsOf: p.AsOf.Time()}
}

func newCDPView(c cdp.CDP) cdpView {
	return cdpView{
		ID:                     string(c.ID),
		Owner:                  c.Owner,
		CollateralType:         c.CollateralType,
		Nonce:                  c.Nonce,
		Status:                 string(c.Status),
		RiskLevel:              string(c.RiskLevel),
		CollateralAmount:       c.CollateralAmount,
		CollateralValue:        c.CollateralValue,
		Price:                  newPriceView(c.Price),
		DebtAmount:             c.DebtAmount,
		AccruedFees:            c.AccruedFees,
		EffectiveDebt:          c.EffectiveDebt(),
		CollateralizationRatio: c.CollateralizationRatio.String(),
		HealthFactor:           formatHealth(c.HealthFactor),
		LiquidationPrice:       c.LiquidationPrice,
		StabilityFeeBps:        c.StabilityFeeBps,
		LiquidationRatioBps:    c.LiquidationRatioBps,
		CreatedAt:              c.CreatedAt.Time(),
		LastUpdated:            c.LastUpdated.Time(),
		LastFeeUpdate:          c.LastFeeUpdate.Time(),
	}
}

func newCDPViews(positions []cdp.CDP) []cdpView {
	views := make([]cdpView, 0, len(positions))
	for _, position := range positions {
		views = append(views, newCDPView(position))
	}
	return views
}

// formatHealth renders the health factor as a string since JSON has no
// infinity.
func formatHealth(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}

type portfolioView struct {
	Owner                string     `json:"owner"`
	Positions            int        `json:"positions"`
	TotalCollateralValue cdp.Amount `json:"total_collateral_value"`
	TotalDebt            cdp.Amount `json:"total_debt"`
	AvailableCredit      cdp.Amount `json:"available_credit"`
	HealthFactor         string     `json:"health_factor"`
	RiskLevel            string     `json:"risk_level"`
	Liquidatable         int        `json:"liquidatable"`
}

func newPortfolioView(p cdp.Portfolio) portfolioView {
	return portfolioView{
		Owner:                p.Owner,
		Positions:            p.Positions,
		TotalCollateralValue: p.TotalCollateralValue,
		TotalDebt:            p.TotalDebt,
		AvailableCredit:      p.AvailableCredit,
		HealthFactor:         formatHealth(p.HealthFactor),
		RiskLevel:            string(p.RiskLevel),
		Liquidatable:         p.Liquidatable,
	}
}

type stressPositionView struct {
	ID            string     `json:"id"`
	ShockedPrice  priceView  `json:"shocked_price"`
	HealthFactor  string     `json:"health_factor"`
	RiskLevel     string     `json:"risk_level"`
	Liquidatable  bool       `json:"liquidatable"`
	Seized        cdp.Amount `json:"seized"`
	Penalty       cdp.Amount `json:"penalty"`
	BadDebt       cdp.Amount `json:"bad_debt"`
	ShockedValue  cdp.Amount `json:"shocked_value"`
	EffectiveDebt cdp.Amount `json:"effective_debt"`
}

type stressView struct {
	Owner            string               `json:"owner"`
	ShockBps         int64                `json:"shock_bps"`
	Positions        []stressPositionView `json:"positions"`
	Liquidatable     int                  `json:"liquidatable"`
	CollateralAtRisk cdp.Amount           `json:"collateral_at_risk"`
	PotentialPenalty cdp.Amount           `json:"potential_penalty"`
	PotentialBadDebt cdp.Amount           `json:"potential_bad_debt"`
	PotentialLoss    cdp.Amount           `json:"potential_loss"`
	HealthFactor     string               `json:"health_factor"`
	RiskLevel        string               `json:"risk_level"`
}

func newStressView(r cdp.StressReport) stressView {
	view := stressView{
		Owner:            r.Owner,
		ShockBps:         r.ShockBps,
		Positions:        make([]stressPositionView, 0, len(r.Positions)),
		Liquidatable:     r.Liquidatable,
		CollateralAtRisk: r.CollateralAtRisk,
		PotentialPenalty: r.PotentialPenalty,
		PotentialBadDebt: r.PotentialBadDebt,
		PotentialLoss:    r.PotentialLoss,
		HealthFactor:     formatHealth(r.HealthFactor),
		RiskLevel:        string(r.RiskLevel),
	}
	for _, p := range r.Positions {
		view.Positions = append(view.Positions, stressPositionView{
			ID:            string(p.ID),
			ShockedPrice:  newPriceView(p.ShockedPrice),
			HealthFactor:  formatHealth(p.HealthFactor),
			RiskLevel:     string(p.RiskLevel),
			Liquidatable:  p.Liquidatable,
			Seized:        p.Seized,
			Penalty:       p.Penalty,
			BadDebt:       p.BadDebt,
			ShockedValue:  p.ShockedValue,
			EffectiveDebt: p.EffectiveDebt,
		})
	}
	return view
}

type outcomeView struct {
	CDP                 cdpView    `json:"cdp"`
	Price               priceView  `json:"price"`
	DebtBefore          cdp.Amount `json:"debt_before"`
	CollateralBefore    cdp.Amount `json:"collateral_before"`
	Target              cdp.Amount `json:"target"`
	Penalty             cdp.Amount `json:"penalty"`
	CollateralSeized    cdp.Amount `json:"collateral_seized"`
	SeizedValue         cdp.Amount `json:"seized_value"`
	LiquidatorReward    cdp.Amount `json:"liquidator_reward"`
	ProtocolCollateral  cdp.Amount `json:"protocol_collateral"`
	DebtCovered         cdp.Amount `json:"debt_covered"`
	PenaltyCovered      cdp.Amount `json:"penalty_covered"`
	RemainingDebt       cdp.Amount `json:"remaining_debt"`
	RemainingCollateral cdp.Amount `json:"remaining_collateral"`
	BadDebt             cdp.Amount `json:"bad_debt"`
	Final               bool       `json:"final"`
	Shortfall           bool       `json:"shortfall"`
}

func newOutcomeView(o cdp.LiquidationOutcome, shortfall bool) outcomeView {
	return outcomeView{
		CDP:                 newCDPView(o.CDP),
		Price:               newPriceView(o.Price),
		DebtBefore:          o.DebtBefore,
		CollateralBefore:    o.CollateralBefore,
		Target:              o.Target,
		Penalty:             o.Penalty,
		CollateralSeized:    o.CollateralSeized,
		SeizedValue:         o.SeizedValue,
		LiquidatorReward:    o.LiquidatorReward,
		ProtocolCollateral:  o.ProtocolCollateral,
		DebtCovered:         o.DebtCovered,
		PenaltyCovered:      o.PenaltyCovered,
		RemainingDebt:       o.RemainingDebt,
		RemainingCollateral: o.RemainingCollateral,
		BadDebt:             o.BadDebt,
		Final:               o.Final,
		Shortfall:           shortfall,
	}
}

type liquidationEventView struct {
	ID                  string    `json:"id"`
	CollateralType      string    `json:"collateral_type"`
	Price               string    `json:"price"`
	PriceDecimals       uint8     `json:"price_decimals"`
	DebtBefore          string    `json:"debt_before"`
	CollateralSeized    string    `json:"collateral_seized"`
	LiquidatorReward    string    `json:"liquidator_reward"`
	DebtCovered         string    `json:"debt_covered"`
	PenaltyCovered      string    `json:"penalty_covered"`
	RemainingDebt       string    `json:"remaining_debt"`
	RemainingCollateral string    `json:"remaining_collateral"`
	BadDebt             string    `json:"bad_debt"`
	Final               bool      `json:"final"`
	ExecutedAt          time.Time `json:"executed_at"`
}

func newLiquidationEventViews(events []storage.LiquidationEvent) []liquidationEventView {
	views := make([]liquidationEventView, 0, len(events))
	for _, e := range events {
		views = append(views, liquidationEventView{
			ID:                  e.ID.String(),
			CollateralType:      e.CollateralType,
			Price:               e.Price,
			PriceDecimals:       e.PriceDecimals,
			DebtBefore:          e.DebtBefore,
			CollateralSeized:    e.CollateralSeized,
			LiquidatorReward:    e.LiquidatorReward,
			DebtCovered:         e.DebtCovered,
			PenaltyCovered:      e.PenaltyCovered,
			RemainingDebt:       e.RemainingDebt,
			RemainingCollateral: e.RemainingCollateral,
			BadDebt:             e.BadDebt,
			Final:               e.Final,
			ExecutedAt:          cdp.Timestamp(e.ExecutedAt).Time(),
		})
	}
	return views
}
