// Package chain turns committed CDP state into payloads for the settlement
// layer. Submission itself is delegated to an Adapter.
package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stablecdp/native/cdp"
)

// Kind labels what a commitment records.
type Kind uint8

const (
	KindOpen Kind = iota + 1
	KindUpdate
	KindLiquidation
	KindClose
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindUpdate:
		return "update"
	case KindLiquidation:
		return "liquidation"
	case KindClose:
		return "close"
	}
	return "unknown"
}

// ErrOverflow is returned when an amount does not fit in 256 bits.
var ErrOverflow = errors.New("amount exceeds 256 bits")

// Commitment is the settlement payload for one committed state change.
// Field order is the RLP order and must not change.
type Commitment struct {
	Kind           Kind
	CDPID          string
	Owner          string
	CollateralType string
	Status         string
	Collateral     *uint256.Int
	Debt           *uint256.Int
	Fees           *uint256.Int
	Seized         *uint256.Int
	BadDebt        *uint256.Int
	Timestamp      uint64
	Nonce          uint64
}

// FromCDP builds an open, update or close commitment for position.
func FromCDP(kind Kind, position cdp.CDP) (Commitment, error) {
	c := Commitment{
		Kind:           kind,
		CDPID:          string(position.ID),
		Owner:          position.Owner,
		CollateralType: position.CollateralType,
		Status:         string(position.Status),
		Seized:         new(uint256.Int),
		BadDebt:        new(uint256.Int),
		Timestamp:      uint64(position.LastUpdated),
		Nonce:          position.Nonce,
	}
	var err error
	if c.Collateral, err = ToUint256(position.CollateralAmount); err != nil {
		return Commitment{}, fmt.Errorf("collateral: %w", err)
	}
	if c.Debt, err = ToUint256(position.DebtAmount); err != nil {
		return Commitment{}, fmt.Errorf("debt: %w", err)
	}
	if c.Fees, err = ToUint256(position.AccruedFees); err != nil {
		return Commitment{}, fmt.Errorf("fees: %w", err)
	}
	return c, nil
}

// FromLiquidation builds the commitment of a liquidation round.
func FromLiquidation(outcome cdp.LiquidationOutcome) (Commitment, error) {
	c, err := FromCDP(KindLiquidation, outcome.CDP)
	if err != nil {
		return Commitment{}, err
	}
	if c.Seized, err = ToUint256(outcome.CollateralSeized); err != nil {
		return Commitment{}, fmt.Errorf("seized: %w", err)
	}
	if c.BadDebt, err = ToUint256(outcome.BadDebt); err != nil {
		return Commitment{}, fmt.Errorf("bad debt: %w", err)
	}
	return c, nil
}

// Encode returns the RLP encoding of the commitment.
func (c Commitment) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&c)
}

// Digest is the keccak256 hash of the RLP encoding.
func (c Commitment) Digest() (common.Hash, error) {
	encoded, err := c.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Decode parses an RLP encoded commitment.
func Decode(data []byte) (Commitment, error) {
	var c Commitment
	if err := rlp.DecodeBytes(data, &c); err != nil {
		return Commitment{}, fmt.Errorf("decode commitment: %w", err)
	}
	return c, nil
}

// ToUint256 converts an engine amount for on-chain encoding.
func ToUint256(amount cdp.Amount) (*uint256.Int, error) {
	value, overflow := uint256.FromBig(amount.Big())
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrOverflow, amount)
	}
	return value, nil
}
