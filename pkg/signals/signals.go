// Package signals gives typed access to the public signals of a withdrawal proof.
package signals

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Count is the number of public signals of a withdrawal proof
const Count = 9

// Positions of each signal in the public-signal vector
const (
	NewCommitmentHash = iota
	ExistingNullifierHash
	RefundCommitmentHash
	WithdrawnValue
	StateRoot
	StateTreeDepth
	ASPRoot
	ASPTreeDepth
	Context
)

// SnarkScalarField is the BN254 scalar field order
var SnarkScalarField = uint256.MustFromDecimal("21888242871839275222246405745257275088548364400416034343698204186575808495617")

var (
	ErrWrongLength  = errors.New("signals: expected 9 public signals")
	ErrOutsideField = errors.New("signals: value is not a field element")
)

// Signals is the fixed-position public-signal vector
type Signals [Count]*uint256.Int

// FromDecimal parses nine decimal strings
func FromDecimal(values []string) (Signals, error) {
	var s Signals
	if len(values) != Count {
		return s, fmt.Errorf("%w, got %d", ErrWrongLength, len(values))
	}
	for i, v := range values {
		n, err := uint256.FromDecimal(v)
		if err != nil {
			return s, fmt.Errorf("failed to parse signal %d: %w", i, err)
		}
		s[i] = n
	}
	return s, s.Validate()
}

// FromBig converts nine big integers
func FromBig(values []*big.Int) (Signals, error) {
	var s Signals
	if len(values) != Count {
		return s, fmt.Errorf("%w, got %d", ErrWrongLength, len(values))
	}
	for i, v := range values {
		if v == nil || v.Sign() < 0 {
			return s, fmt.Errorf("%w: signal %d", ErrOutsideField, i)
		}
		n, overflow := uint256.FromBig(v)
		if overflow {
			return s, fmt.Errorf("%w: signal %d", ErrOutsideField, i)
		}
		s[i] = n
	}
	return s, s.Validate()
}

// Validate checks every signal is present and below the scalar field
func (s Signals) Validate() error {
	for i, v := range s {
		if v == nil || v.Cmp(SnarkScalarField) >= 0 {
			return fmt.Errorf("%w: signal %d", ErrOutsideField, i)
		}
	}
	return nil
}

func (s Signals) at(i int) *uint256.Int {
	if s[i] == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(s[i])
}

func (s Signals) NewCommitmentHash() *uint256.Int     { return s.at(NewCommitmentHash) }
func (s Signals) ExistingNullifierHash() *uint256.Int { return s.at(ExistingNullifierHash) }
func (s Signals) RefundCommitmentHash() *uint256.Int  { return s.at(RefundCommitmentHash) }
func (s Signals) WithdrawnValue() *uint256.Int        { return s.at(WithdrawnValue) }
func (s Signals) StateRoot() *uint256.Int             { return s.at(StateRoot) }
func (s Signals) StateTreeDepth() *uint256.Int        { return s.at(StateTreeDepth) }
func (s Signals) ASPRoot() *uint256.Int               { return s.at(ASPRoot) }
func (s Signals) ASPTreeDepth() *uint256.Int          { return s.at(ASPTreeDepth) }
func (s Signals) Context() *uint256.Int               { return s.at(Context) }

// ToBig returns the vector as big integers, the form verifiers consume
func (s Signals) ToBig() [Count]*big.Int {
	var out [Count]*big.Int
	for i := range s {
		out[i] = s.at(i).ToBig()
	}
	return out
}
