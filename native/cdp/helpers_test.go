package cdp

import (
	"errors"
	"testing"

	"stablecdp/native/result"
)

const (
	testOwner          = "owner-alice"
	testCollateralType = "ETH"
	t0                 = Timestamp(1_700_000_000_000)
)

func testConfig() CreationConfig {
	return CreationConfig{
		MinCollateralizationRatio: 15_000,
		MaxDebtRatio:              6_667,
		MinDebtAmount:             NewAmount(100),
		MaxDebtAmount:             NewAmount(1_000_000),
		MinCollateralAmount:       NewAmount(1),
	}
}

func newTestEngine(t *testing.T, adjust func(*Policy)) *Engine {
	t.Helper()
	policy := DefaultPolicy()
	if adjust != nil {
		adjust(&policy)
	}
	engine, err := NewEngine(policy)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func creationContext(price uint64, cfg CreationConfig) CreationContext {
	return CreationContext{
		CollateralPrice: NewPrice(price, t0),
		CurrentTime:     t0,
		Config:          cfg,
	}
}

func openPosition(t *testing.T, engine *Engine, collateral, debt, price uint64, cfg CreationConfig) CDP {
	t.Helper()
	params := CreationParams{
		Owner:            testOwner,
		CollateralType:   testCollateralType,
		CollateralAmount: NewAmount(collateral),
		DebtAmount:       NewAmount(debt),
	}
	position, err := result.ToError(engine.Create(params, creationContext(price, cfg)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := CheckInvariants(position); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	return position
}

func expectKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
	if !errors.Is(err, &Error{Kind: kind}) {
		t.Fatalf("errors.Is does not match kind %s for %v", kind, err)
	}
}

func expectAmount(t *testing.T, name string, got Amount, want uint64) {
	t.Helper()
	if got.Cmp(NewAmount(want)) != 0 {
		t.Fatalf("unexpected %s: got %s want %d", name, got, want)
	}
}
