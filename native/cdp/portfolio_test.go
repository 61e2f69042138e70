package cdp

import (
	"math"
	"testing"

	"stablecdp/native/result"
)

func portfolioFixture(t *testing.T, engine *Engine) []CDP {
	t.Helper()
	cfg := testConfig()
	cfg.MinDebtAmount = Amount{}

	borrowing := openPosition(t, engine, 1, 1_000, 2_000, cfg)

	idle := openPosition(t, engine, 10, 0, 200, cfg)
	idle.ID = GenerateIDWithNonce(testOwner, "WBTC", t0, 1)

	closed := openPosition(t, engine, 1, 0, 2_000, cfg)
	closed, err := result.ToError(engine.Close(closed, NewPrice(2_000, t0), t0))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	return []CDP{borrowing, idle, closed}
}

func TestSummarize(t *testing.T) {
	engine := newTestEngine(t, nil)
	positions := portfolioFixture(t, engine)

	summary, err := result.ToError(engine.Summarize(testOwner, positions))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.Positions != 2 {
		t.Fatalf("closed position should be skipped, got %d positions", summary.Positions)
	}
	expectAmount(t, "collateral value", summary.TotalCollateralValue, 4_000)
	expectAmount(t, "debt", summary.TotalDebt, 1_000)
	expectAmount(t, "available credit", summary.AvailableCredit, 333+1_333)
	if math.Abs(summary.HealthFactor-4.0/3.0) > 1e-12 {
		t.Fatalf("unexpected weighted health factor %v", summary.HealthFactor)
	}
	if summary.RiskLevel != RiskMedium {
		t.Fatalf("expected worst-case risk medium, got %s", summary.RiskLevel)
	}
	if summary.Liquidatable != 0 {
		t.Fatalf("unexpected liquidatable count %d", summary.Liquidatable)
	}

	_, err = result.ToError(engine.Summarize("owner-bob", positions))
	expectKind(t, err, KindInvalidInput)
}

func TestSummarizeWeightsByCollateralValue(t *testing.T) {
	engine := newTestEngine(t, nil)
	cfg := testConfig()
	// HF 2.0 with value 6000 and HF 1.0 with value 3000: (12000+3000)/9000.
	strong := openPosition(t, engine, 3, 2_000, 2_000, cfg)
	cfg.MinCollateralizationRatio = bpsDenominator
	cfg.MaxDebtRatio = bpsDenominator
	weak := openPosition(t, engine, 3, 2_000, 1_000, cfg)
	weak.ID = "weak"

	summary, err := result.ToError(engine.Summarize(testOwner, []CDP{strong, weak}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if math.Abs(summary.HealthFactor-15_000.0/9_000.0) > 1e-12 {
		t.Fatalf("unexpected weighted health factor %v", summary.HealthFactor)
	}
	if summary.RiskLevel != RiskHigh {
		t.Fatalf("expected worst-case risk high, got %s", summary.RiskLevel)
	}
}

func TestSummarizeWithoutDebt(t *testing.T) {
	engine := newTestEngine(t, nil)
	summary, err := result.ToError(engine.Summarize(testOwner, nil))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !math.IsInf(summary.HealthFactor, 1) || summary.RiskLevel != RiskLow {
		t.Fatalf("empty portfolio should be infinitely healthy: %+v", summary)
	}
}

func TestStressTest(t *testing.T) {
	engine := newTestEngine(t, nil)
	positions := portfolioFixture(t, engine)

	mild, err := result.ToError(engine.StressTest(testOwner, positions, -3_000))
	if err != nil {
		t.Fatalf("stress: %v", err)
	}
	if len(mild.Positions) != 2 || mild.Liquidatable != 1 {
		t.Fatalf("expected one liquidatable of two positions, got %d of %d", mild.Liquidatable, len(mild.Positions))
	}
	projected := mild.Positions[0]
	expectAmount(t, "shocked price", projected.ShockedPrice.Value, 1_400)
	if !projected.Liquidatable || projected.RiskLevel != RiskCritical {
		t.Fatalf("unexpected projection %+v", projected)
	}
	expectAmount(t, "collateral at risk", mild.CollateralAtRisk, 1_400)
	expectAmount(t, "potential penalty", mild.PotentialPenalty, 100)
	expectAmount(t, "potential bad debt", mild.PotentialBadDebt, 0)
	expectAmount(t, "potential loss", mild.PotentialLoss, 100)

	severe, err := result.ToError(engine.StressTest(testOwner, positions, -6_000))
	if err != nil {
		t.Fatalf("stress: %v", err)
	}
	expectAmount(t, "potential penalty", severe.PotentialPenalty, 0)
	expectAmount(t, "potential bad debt", severe.PotentialBadDebt, 200)
	expectAmount(t, "potential loss", severe.PotentialLoss, 200)

	wipeout, err := result.ToError(engine.StressTest(testOwner, positions, -10_000))
	if err != nil {
		t.Fatalf("stress: %v", err)
	}
	expectAmount(t, "potential bad debt", wipeout.PotentialBadDebt, 1_000)

	rally, err := result.ToError(engine.StressTest(testOwner, positions, 5_000))
	if err != nil {
		t.Fatalf("stress: %v", err)
	}
	if rally.Liquidatable != 0 || !rally.PotentialLoss.IsZero() {
		t.Fatalf("price rally should not project losses: %+v", rally)
	}

	_, err = result.ToError(engine.StressTest(testOwner, positions, -10_001))
	expectKind(t, err, KindInvalidInput)
}

func TestStressTestDoesNotMutateInput(t *testing.T) {
	engine := newTestEngine(t, nil)
	positions := portfolioFixture(t, engine)
	before := positions[0]
	if res := engine.StressTest(testOwner, positions, -5_000); res.IsErr() {
		t.Fatalf("stress: %v", res.ErrValue())
	}
	if positions[0].Price.Value.Cmp(before.Price.Value) != 0 || positions[0].Status != before.Status {
		t.Fatalf("stress test modified its input")
	}
}
