package cdp

import (
	"math/big"

	"stablecdp/native/result"
)

// StabilityFee returns the fee accrued on principal at feeBps per year over
// elapsedMillis: principal*feeBps*elapsedSeconds/secondsPerYear/10000,
// truncated, with sub-second precision.
func StabilityFee(principal Amount, feeBps uint64, elapsedMillis int64) Amount {
	if principal.IsZero() || feeBps == 0 || elapsedMillis <= 0 {
		return Amount{}
	}
	num := new(big.Int).Mul(principal.int(), bpsInt(feeBps))
	num.Mul(num, big.NewInt(elapsedMillis))
	return amountOf(num.Quo(num, feeDivisor))
}

// AccrueFees brings AccruedFees up to now and advances LastFeeUpdate. It does
// not change LastUpdated; accrual alone is a view, not a committed mutation.
func AccrueFees(position CDP, now Timestamp) result.Result[CDP, error] {
	if now < position.LastFeeUpdate {
		return result.Err[CDP, error](newError(KindTimestampRegression, "fee clock at %d, asked to accrue to %d", position.LastFeeUpdate, now))
	}
	if position.Status.Terminal() {
		return result.Ok[CDP, error](position)
	}
	elapsed := int64(now - position.LastFeeUpdate)
	fee := StabilityFee(position.DebtAmount, position.StabilityFeeBps, elapsed)
	position.AccruedFees = position.AccruedFees.Add(fee)
	position.LastFeeUpdate = now
	return result.Ok[CDP, error](position)
}
