package cdp

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"stablecdp/native/result"
)

func TestHealthFactorMonotonicity(t *testing.T) {
	price := NewPrice(2_000, t0)
	prev := math.Inf(1)
	for debt := uint64(100); debt <= 5_000; debt += 100 {
		hf := CalculateHealthFactor(NewAmount(3), NewAmount(debt), price, 15_000).Float64()
		if !(hf < prev) {
			t.Fatalf("health factor did not decrease at debt %d: %v >= %v", debt, hf, prev)
		}
		prev = hf
	}

	prev = 0
	for collateral := uint64(1); collateral <= 50; collateral++ {
		hf := CalculateHealthFactor(NewAmount(collateral), NewAmount(1_000), price, 15_000).Float64()
		if !(hf > prev) {
			t.Fatalf("health factor did not increase at collateral %d", collateral)
		}
		prev = hf
	}

	prev = 0
	for p := uint64(100); p <= 5_000; p += 100 {
		hf := CalculateHealthFactor(NewAmount(1), NewAmount(1_000), NewPrice(p, t0), 15_000).Float64()
		if !(hf > prev) {
			t.Fatalf("health factor did not increase at price %d", p)
		}
		prev = hf
	}
}

func TestHealthFactorExactAtLargeMagnitudes(t *testing.T) {
	// Values far beyond float64 mantissa precision still compare exactly.
	collateral := MustAmount("1000000000000000000000000000001")
	debt := MustAmount("1000000000000000000000000000000")
	h := CalculateHealthFactor(collateral, debt, NewPrice(1, t0), bpsDenominator)
	if h.Liquidatable() {
		t.Fatalf("health factor just above 1.0 reported liquidatable")
	}
	h = CalculateHealthFactor(debt, collateral, NewPrice(1, t0), bpsDenominator)
	if !h.Liquidatable() {
		t.Fatalf("health factor just below 1.0 not reported liquidatable")
	}
}

func TestLiquidationPriceBoundary(t *testing.T) {
	collateral := NewAmount(3)
	debt := NewAmount(1_000)
	liq := LiquidationPrice(collateral, debt, 0, 15_000)
	expectAmount(t, "liquidation price", liq, 500)

	at := CalculateHealthFactor(collateral, debt, Price{Value: liq}, 15_000)
	if at.Liquidatable() {
		t.Fatalf("position liquidatable at its liquidation price")
	}
	below := CalculateHealthFactor(collateral, debt, Price{Value: liq.SubFloor(NewAmount(1))}, 15_000)
	if !below.Liquidatable() {
		t.Fatalf("position not liquidatable below its liquidation price")
	}

	scaled := LiquidationPrice(NewAmount(7), NewAmount(1_000), 6, 15_000)
	atScaled := CalculateHealthFactor(NewAmount(7), NewAmount(1_000), Price{Value: scaled, Decimals: 6}, 15_000)
	belowScaled := CalculateHealthFactor(NewAmount(7), NewAmount(1_000), Price{Value: scaled.SubFloor(NewAmount(1)), Decimals: 6}, 15_000)
	if atScaled.Liquidatable() || !belowScaled.Liquidatable() {
		t.Fatalf("scaled liquidation price %s is not the boundary", scaled)
	}
}

func TestRiskBands(t *testing.T) {
	bands := DefaultPolicy().Risk
	cases := []struct {
		hf   float64
		want RiskLevel
	}{
		{0.5, RiskCritical},
		{1.0, RiskHigh},
		{1.25, RiskMedium},
		{1.5, RiskLow},
		{math.Inf(1), RiskLow},
	}
	for _, tc := range cases {
		if got := RiskFor(HealthFromFloat(tc.hf), bands); got != tc.want {
			t.Fatalf("RiskFor(%v) = %s, want %s", tc.hf, got, tc.want)
		}
	}
	if RiskLow.Worse(RiskHigh) != RiskHigh || RiskCritical.Worse(RiskMedium) != RiskCritical {
		t.Fatalf("Worse does not pick the riskier level")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusActive, StatusWarning},
		{StatusWarning, StatusActive},
		{StatusWarning, StatusLiquidating},
		{StatusLiquidating, StatusLiquidated},
		{StatusLiquidating, StatusActive},
		{StatusActive, StatusClosed},
		{StatusLiquidating, StatusLiquidating},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}
	denied := [][2]Status{
		{StatusActive, StatusLiquidated},
		{StatusLiquidated, StatusActive},
		{StatusClosed, StatusActive},
		{StatusClosed, StatusClosed},
		{StatusLiquidating, StatusWarning},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}
}

func TestStabilityFee(t *testing.T) {
	cases := []struct {
		principal uint64
		bps       uint64
		elapsed   int64
		want      uint64
	}{
		{1_000, 200, millisPerYear, 20},
		{1_000, 200, millisPerYear / 2, 10},
		{1_000, 200, 0, 0},
		{1, 200, 1_000, 0},
		{1_000_000_000, 500, 86_400_000, 136_986},
	}
	for _, tc := range cases {
		got := StabilityFee(NewAmount(tc.principal), tc.bps, tc.elapsed)
		expectAmount(t, fmt.Sprintf("fee(%d, %d, %d)", tc.principal, tc.bps, tc.elapsed), got, tc.want)
	}
}

func TestAccrueFees(t *testing.T) {
	engine := newTestEngine(t, nil)
	position := openPosition(t, engine, 10, 1_000, 200, testConfig())

	accrued, err := result.ToError(AccrueFees(position, t0+Timestamp(millisPerYear)))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	expectAmount(t, "fees", accrued.AccruedFees, 20)
	if accrued.LastUpdated != position.LastUpdated {
		t.Fatalf("accrual must not touch LastUpdated")
	}
	expectAmount(t, "effective debt", accrued.EffectiveDebt(), 1_020)

	_, err = result.ToError(AccrueFees(accrued, t0))
	expectKind(t, err, KindTimestampRegression)
}

func TestGenerateID(t *testing.T) {
	a := GenerateID(testOwner, testCollateralType, t0)
	if a != GenerateID(testOwner, testCollateralType, t0) {
		t.Fatalf("id generation is not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected id length %d", len(a))
	}
	distinct := []ID{
		GenerateID(testOwner, testCollateralType, t0+1),
		GenerateID("owner-bob", testCollateralType, t0),
		GenerateID(testOwner, "WBTC", t0),
		GenerateIDWithNonce(testOwner, testCollateralType, t0, 1),
		// Field boundaries are delimited.
		GenerateID(testOwner+"E", "TH", t0),
	}
	for _, id := range distinct {
		if id == a {
			t.Fatalf("expected distinct ids")
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &BatchError{Index: 2, Err: newError(KindDebtOutOfRange, "debt 5 outside [100, 1000]")})
	if KindOf(err) != KindDebtOutOfRange {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
	if !errors.Is(err, ErrDebtOutOfRange) || errors.Is(err, ErrBelowMinCollateral) {
		t.Fatalf("sentinel matching by kind failed")
	}
	if KindOf(errors.New("boom")) != "" || KindOf(nil) != "" {
		t.Fatalf("foreign errors must report no kind")
	}
	if KindEmergencyShutdown.Category() != "policy" || KindCDPNotFound.Category() != "state" || KindDebtOutOfRange.Category() != "validation" {
		t.Fatalf("unexpected categories")
	}
}

func TestAmountText(t *testing.T) {
	var a Amount
	if err := a.UnmarshalText([]byte("123456789012345678901234567890")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	text, _ := a.MarshalText()
	if string(text) != "123456789012345678901234567890" {
		t.Fatalf("unexpected text %s", text)
	}
	if _, err := ParseAmount("-1"); err == nil {
		t.Fatalf("negative amounts must be rejected")
	}
	if _, ok := NewAmount(1).Sub(NewAmount(2)); ok {
		t.Fatalf("underflow must be reported")
	}
}

func TestRestoreRecomputesDerivedFields(t *testing.T) {
	engine := newTestEngine(t, nil)
	position := openPosition(t, engine, 10, 1_000, 200, testConfig())

	stripped := position
	stripped.CollateralValue = Amount{}
	stripped.CollateralizationRatio = Ratio{}
	stripped.HealthFactor = 0
	stripped.LiquidationPrice = Amount{}
	stripped.RiskLevel = ""

	restored := engine.Restore(stripped)
	expectAmount(t, "collateral value", restored.CollateralValue, 2_000)
	if restored.CollateralizationRatio.String() != position.CollateralizationRatio.String() {
		t.Fatalf("ratio not restored: %s", restored.CollateralizationRatio)
	}
	if restored.HealthFactor != position.HealthFactor || restored.RiskLevel != position.RiskLevel {
		t.Fatalf("health not restored: %v %s", restored.HealthFactor, restored.RiskLevel)
	}
	if restored.Status != position.Status || restored.LastUpdated != position.LastUpdated {
		t.Fatalf("restore must not touch lifecycle fields")
	}
}
