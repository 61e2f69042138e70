package cdp

import (
	"testing"

	"stablecdp/native/result"
)

func mutation(position CDP, op Operation, amount uint64, price uint64, now Timestamp) MutationRequest {
	return MutationRequest{
		CDPID:     position.ID,
		Caller:    position.Owner,
		Operation: op,
		Amount:    NewAmount(amount),
		Price:     NewPrice(price, now),
		Now:       now,
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())

	deposited, err := result.ToError(engine.DepositCollateral(base, NewAmount(10), NewPrice(200, t0), t0+1))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expectAmount(t, "collateral", deposited.CollateralAmount, 20)
	expectAmount(t, "ratio", deposited.CollateralizationRatio.Bps, 40_000)
	if deposited.Status != StatusActive || deposited.LastUpdated != t0+1 {
		t.Fatalf("unexpected deposit result: status=%s updated=%d", deposited.Status, deposited.LastUpdated)
	}

	withdrawn, err := result.ToError(engine.WithdrawCollateral(base, NewAmount(2), NewPrice(200, t0), t0))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "ratio", withdrawn.CollateralizationRatio.Bps, 16_000)
	if withdrawn.Status != StatusWarning {
		t.Fatalf("expected warning after withdraw, got %s", withdrawn.Status)
	}
	if err := CheckInvariants(withdrawn); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	_, err = result.ToError(engine.WithdrawCollateral(base, NewAmount(3), NewPrice(200, t0), t0))
	expectKind(t, err, KindBelowMinCollateralizationRatio)
	_, err = result.ToError(engine.WithdrawCollateral(base, NewAmount(10), NewPrice(200, t0), t0))
	expectKind(t, err, KindBelowMinCollateral)
	_, err = result.ToError(engine.WithdrawCollateral(base, NewAmount(11), NewPrice(200, t0), t0))
	expectKind(t, err, KindInvalidAmount)

	expectAmount(t, "original collateral", base.CollateralAmount, 10)
	if base.LastUpdated != t0 {
		t.Fatalf("input position was modified")
	}
}

func TestMintDebt(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())

	minted, err := result.ToError(engine.MintDebt(base, NewAmount(333), NewPrice(200, t0), t0))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	expectAmount(t, "debt", minted.DebtAmount, 1_333)
	if minted.Status != StatusWarning {
		t.Fatalf("expected warning, got %s", minted.Status)
	}

	_, err = result.ToError(engine.MintDebt(base, NewAmount(334), NewPrice(200, t0), t0))
	expectKind(t, err, KindBelowMinCollateralizationRatio)

	rich := openPosition(t, engine, 1_000_000, 1_000, 200, testConfig())
	_, err = result.ToError(engine.MintDebt(rich, NewAmount(1_000_000), NewPrice(200, t0), t0))
	expectKind(t, err, KindDebtOutOfRange)
}

func TestMutationEnforcementFlags(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())

	req := mutation(base, OpWithdraw, 2, 200, t0)
	req.EnforceHealthFactor = true
	if res := engine.Apply(base, req); res.IsErr() {
		t.Fatalf("default health threshold should pass: %v", res.ErrValue())
	}
	req.MinHealthFactorAfter = 1.2
	_, err := result.ToError(engine.Apply(base, req))
	expectKind(t, err, KindHealthFactorTooLow)

	req = mutation(base, OpWithdraw, 1, 200, t0)
	req.EnforceCollateralizationRatio = true
	req.MinCollateralizationRatioAfter = 18_000
	if res := engine.Apply(base, req); res.IsErr() {
		t.Fatalf("ratio at threshold should pass: %v", res.ErrValue())
	}
	req.Amount = NewAmount(2)
	_, err = result.ToError(engine.Apply(base, req))
	expectKind(t, err, KindCollateralizationTooLow)

	// Deposits are checked too when enforcement is requested.
	req = mutation(base, OpDeposit, 1, 200, t0)
	req.EnforceHealthFactor = true
	req.MinHealthFactorAfter = 3
	_, err = result.ToError(engine.Apply(base, req))
	expectKind(t, err, KindHealthFactorTooLow)
}

func TestWithdrawSeesAccruedFees(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())
	tenYears := t0 + Timestamp(10*millisPerYear)

	_, err := result.ToError(engine.WithdrawCollateral(base, NewAmount(2), NewPrice(200, tenYears), tenYears))
	expectKind(t, err, KindBelowMinCollateralizationRatio)

	next, err := result.ToError(engine.WithdrawCollateral(base, NewAmount(1), NewPrice(200, tenYears), tenYears))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expectAmount(t, "accrued fees", next.AccruedFees, 200)
	expectAmount(t, "ratio", next.CollateralizationRatio.Bps, 15_000)
	if next.LastFeeUpdate != tenYears {
		t.Fatalf("fee clock not advanced: %d", next.LastFeeUpdate)
	}
}

func TestBurnRepaysFeesFirst(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())
	oneYear := t0 + Timestamp(millisPerYear)

	burned, err := result.ToError(engine.BurnDebt(base, NewAmount(30), NewPrice(200, oneYear), oneYear))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	expectAmount(t, "accrued fees", burned.AccruedFees, 0)
	expectAmount(t, "debt", burned.DebtAmount, 990)

	_, err = result.ToError(engine.BurnDebt(base, NewAmount(1_021), NewPrice(200, oneYear), oneYear))
	expectKind(t, err, KindInvalidAmount)
	_, err = result.ToError(engine.BurnDebt(base, NewAmount(970), NewPrice(200, oneYear), oneYear))
	expectKind(t, err, KindDebtOutOfRange)

	repaid, err := result.ToError(engine.BurnDebt(base, NewAmount(1_020), NewPrice(200, oneYear), oneYear))
	if err != nil {
		t.Fatalf("full burn: %v", err)
	}
	if !repaid.EffectiveDebt().IsZero() || !repaid.CollateralizationRatio.Infinite {
		t.Fatalf("expected debt-free position, got debt=%s ratio=%s", repaid.EffectiveDebt(), repaid.CollateralizationRatio)
	}
	if err := CheckInvariants(repaid); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestCloseLifecycle(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())

	_, err := result.ToError(engine.Close(base, NewPrice(200, t0), t0))
	expectKind(t, err, KindInvalidAmount)

	repaid := result.FlatMap(engine.BurnDebt(base, NewAmount(1_000), NewPrice(200, t0), t0), func(position CDP) result.Result[CDP, error] {
		return engine.Close(position, NewPrice(200, t0), t0)
	})
	closed, err := result.ToError(repaid)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != StatusClosed || !closed.CollateralAmount.IsZero() {
		t.Fatalf("unexpected closed position: status=%s collateral=%s", closed.Status, closed.CollateralAmount)
	}

	_, err = result.ToError(engine.DepositCollateral(closed, NewAmount(1), NewPrice(200, t0), t0))
	expectKind(t, err, KindCDPAlreadyClosed)
	_, err = result.ToError(engine.Reprice(closed, NewPrice(200, t0), t0))
	expectKind(t, err, KindCDPAlreadyClosed)
}

func TestMutationGuards(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())

	cases := []struct {
		name   string
		adjust func(*MutationRequest)
		kind   Kind
	}{
		{"foreign caller", func(r *MutationRequest) { r.Caller = "owner-mallory" }, KindUnauthorized},
		{"wrong id", func(r *MutationRequest) { r.CDPID = "missing" }, KindCDPNotFound},
		{"zero amount", func(r *MutationRequest) { r.Amount = Amount{} }, KindInvalidAmount},
		{"unknown operation", func(r *MutationRequest) { r.Operation = "swap" }, KindInvalidInput},
		{"missing price", func(r *MutationRequest) { r.Price = Price{} }, KindInvalidInput},
		{"clock regression", func(r *MutationRequest) { r.Now = t0 - 1 }, KindTimestampRegression},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := mutation(base, OpDeposit, 1, 200, t0)
			tc.adjust(&req)
			_, err := result.ToError(engine.Apply(base, req))
			expectKind(t, err, tc.kind)
		})
	}
}

func TestRepriceMovesBetweenBands(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())

	warning, err := result.ToError(engine.Reprice(base, NewPrice(170, t0+1), t0+1))
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if warning.Status != StatusWarning {
		t.Fatalf("expected warning, got %s", warning.Status)
	}
	active, err := result.ToError(engine.Reprice(warning, NewPrice(200, t0+2), t0+2))
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if active.Status != StatusActive {
		t.Fatalf("expected active, got %s", active.Status)
	}

	liquidating, err := result.ToError(engine.Reprice(active, NewPrice(140, t0+3), t0+3))
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if liquidating.Status != StatusLiquidating || liquidating.RiskLevel != RiskCritical {
		t.Fatalf("expected critical liquidating position, got %s/%s", liquidating.Status, liquidating.RiskLevel)
	}

	recovered, err := result.ToError(engine.Reprice(liquidating, NewPrice(400, t0+4), t0+4))
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}
	if recovered.Status != StatusLiquidating {
		t.Fatalf("price recovery alone must not leave liquidating, got %s", recovered.Status)
	}

	_, err = result.ToError(engine.Reprice(recovered, NewPrice(400, t0), t0))
	expectKind(t, err, KindTimestampRegression)
}

func TestLiquidatingPositionRestrictions(t *testing.T) {
	engine := newTestEngine(t, nil)
	base := openPosition(t, engine, 10, 1_000, 200, testConfig())
	liquidating, err := result.ToError(engine.Reprice(base, NewPrice(140, t0), t0))
	if err != nil {
		t.Fatalf("reprice: %v", err)
	}

	_, err = result.ToError(engine.MintDebt(liquidating, NewAmount(1), NewPrice(140, t0), t0))
	expectKind(t, err, KindInvalidTransition)
	_, err = result.ToError(engine.WithdrawCollateral(liquidating, NewAmount(1), NewPrice(140, t0), t0))
	expectKind(t, err, KindInvalidTransition)

	topped, err := result.ToError(engine.DepositCollateral(liquidating, NewAmount(5), NewPrice(140, t0), t0))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if topped.Status != StatusLiquidating {
		t.Fatalf("deposit must not leave liquidating, got %s", topped.Status)
	}

	repaid, err := result.ToError(engine.BurnDebt(topped, NewAmount(1_000), NewPrice(140, t0), t0))
	if err != nil {
		t.Fatalf("burn: %v", err)
	}
	if repaid.Status != StatusActive {
		t.Fatalf("full repayment should return the position to active, got %s", repaid.Status)
	}
}

func TestParseOperation(t *testing.T) {
	for _, name := range []string{"deposit", "withdraw", "mint", "burn", "close"} {
		if _, err := ParseOperation(name); err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
	}
	if _, err := ParseOperation("liquidate"); err == nil {
		t.Fatalf("expected unknown operation error")
	}
}
