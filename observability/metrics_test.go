package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCDPdMetricsObserveOperation(t *testing.T) {
	metrics := newCDPdMetrics()

	metrics.ObserveOperation("create", 5*time.Millisecond, "", nil)
	metrics.ObserveOperation("create", 5*time.Millisecond, "BelowMinCollateral", errors.New("rejected"))
	metrics.ObserveOperation("", time.Millisecond, "", errors.New("boom"))

	if got := testutil.ToFloat64(metrics.operations.WithLabelValues("create", "success")); got != 1 {
		t.Fatalf("expected one successful create, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.errors.WithLabelValues("create", "BelowMinCollateral")); got != 1 {
		t.Fatalf("expected one kind-labelled error, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.errors.WithLabelValues("unknown", "internal")); got != 1 {
		t.Fatalf("expected unlabelled failure to fall back to internal, got %f", got)
	}
}

func TestCDPdMetricsLiquidationAndShutdown(t *testing.T) {
	metrics := newCDPdMetrics()

	metrics.RecordLiquidation("eth", "shortfall", big.NewInt(150))
	metrics.RecordLiquidation("ETH", "liquidated", nil)
	if got := testutil.ToFloat64(metrics.badDebt.WithLabelValues("ETH")); got != 150 {
		t.Fatalf("unexpected bad debt total %f", got)
	}
	if got := testutil.ToFloat64(metrics.liquidations.WithLabelValues("ETH", "liquidated")); got != 1 {
		t.Fatalf("unexpected liquidation count %f", got)
	}

	metrics.SetShutdown(true)
	if got := testutil.ToFloat64(metrics.shutdown); got != 1 {
		t.Fatalf("expected shutdown gauge engaged, got %f", got)
	}
	metrics.SetShutdown(false)
	if got := testutil.ToFloat64(metrics.shutdown); got != 0 {
		t.Fatalf("expected shutdown gauge released, got %f", got)
	}

	metrics.RecordQuoteAge("wbtc", -time.Second)
	if got := testutil.ToFloat64(metrics.oracleAge.WithLabelValues("WBTC")); got != 0 {
		t.Fatalf("negative ages must clamp to zero, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var metrics *CDPdMetrics
	metrics.ObserveOperation("create", time.Second, "", nil)
	metrics.RecordLiquidation("ETH", "liquidated", big.NewInt(1))
	metrics.RecordConflict()
	metrics.SetShutdown(true)
}
