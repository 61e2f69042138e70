package cdp

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Amount is an immutable, non-negative integer quantity expressed in the
// smallest unit of its token. The zero value is zero.
type Amount struct {
	v *big.Int
}

// ID is the opaque identifier of a CDP.
type ID string

// Timestamp is a point in time in milliseconds since the Unix epoch.
type Timestamp int64

// TimestampFromTime converts a wall clock time into a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time returns the timestamp as a UTC time.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// NewAmount builds an Amount from a uint64.
func NewAmount(v uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(v)}
}

// AmountFromBig copies v into an Amount. Negative values are rejected.
func AmountFromBig(v *big.Int) (Amount, error) {
	if v == nil {
		return Amount{}, nil
	}
	if v.Sign() < 0 {
		return Amount{}, fmt.Errorf("amount must not be negative: %s", v)
	}
	return Amount{v: new(big.Int).Set(v)}, nil
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("amount is empty")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return AmountFromBig(v)
}

// MustAmount parses s and panics on failure. Intended for constants.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// amountOf wraps a freshly computed, non-negative big.Int without copying.
func amountOf(v *big.Int) Amount {
	if v == nil || v.Sign() <= 0 {
		return Amount{}
	}
	return Amount{v: v}
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.int())
}

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Cmp compares two amounts.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return amountOf(new(big.Int).Add(a.int(), b.int()))
}

// Sub returns a-b and false when the result would be negative.
func (a Amount) Sub(b Amount) (Amount, bool) {
	if a.Cmp(b) < 0 {
		return Amount{}, false
	}
	return amountOf(new(big.Int).Sub(a.int(), b.int())), true
}

// SubFloor returns max(a-b, 0).
func (a Amount) SubFloor(b Amount) Amount {
	diff, _ := a.Sub(b)
	return diff
}

// Min returns the smaller amount.
func (a Amount) Min(b Amount) Amount {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func (a Amount) String() string {
	return a.int().String()
}

// MarshalText encodes the amount as a base-10 string.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a base-10 string.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Price is the oracle price of one collateral unit expressed in debt units and
// scaled by 10^Decimals.
type Price struct {
	Value    Amount
	Decimals uint8
	AsOf     Timestamp
}

// NewPrice builds an unscaled price.
func NewPrice(value uint64, asOf Timestamp) Price {
	return Price{Value: NewAmount(value), AsOf: asOf}
}

func (p Price) valid() bool {
	return !p.Value.IsZero()
}

func (p Price) scale() *big.Int {
	return pow10(p.Decimals)
}

// Shocked returns the price moved by shockBps basis points, floored at zero.
func (p Price) Shocked(shockBps int64) Price {
	factor := big.NewInt(bpsDenominator + shockBps)
	if factor.Sign() <= 0 {
		return Price{Decimals: p.Decimals, AsOf: p.AsOf}
	}
	value := new(big.Int).Mul(p.Value.int(), factor)
	value.Quo(value, basisPoints)
	return Price{Value: amountOf(value), Decimals: p.Decimals, AsOf: p.AsOf}
}

func (p Price) String() string {
	if p.Decimals == 0 {
		return p.Value.String()
	}
	return fmt.Sprintf("%se-%d", p.Value, p.Decimals)
}
