package signals

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimalOrder(t *testing.T) {
	s, err := FromDecimal([]string{"1", "2", "3", "4", "5", "6", "7", "8", "9"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), s.NewCommitmentHash().Uint64())
	assert.Equal(t, uint64(2), s.ExistingNullifierHash().Uint64())
	assert.Equal(t, uint64(3), s.RefundCommitmentHash().Uint64())
	assert.Equal(t, uint64(4), s.WithdrawnValue().Uint64())
	assert.Equal(t, uint64(5), s.StateRoot().Uint64())
	assert.Equal(t, uint64(6), s.StateTreeDepth().Uint64())
	assert.Equal(t, uint64(7), s.ASPRoot().Uint64())
	assert.Equal(t, uint64(8), s.ASPTreeDepth().Uint64())
	assert.Equal(t, uint64(9), s.Context().Uint64())
}

func TestAccessorsReturnCopies(t *testing.T) {
	s, err := FromDecimal([]string{"1", "2", "3", "4", "5", "6", "7", "8", "9"})
	require.NoError(t, err)

	v := s.WithdrawnValue()
	v.SetUint64(100)
	assert.Equal(t, uint64(4), s.WithdrawnValue().Uint64())
}

func TestRejectsBadVectors(t *testing.T) {
	_, err := FromDecimal([]string{"1", "2"})
	assert.ErrorIs(t, err, ErrWrongLength)

	field := SnarkScalarField.Dec()
	_, err = FromDecimal([]string{"1", "2", "3", "4", "5", "6", "7", "8", field})
	assert.ErrorIs(t, err, ErrOutsideField)

	values := make([]*big.Int, Count)
	for i := range values {
		values[i] = big.NewInt(int64(i))
	}
	values[3] = big.NewInt(-1)
	_, err = FromBig(values)
	assert.ErrorIs(t, err, ErrOutsideField)
}

func TestToBig(t *testing.T) {
	values := make([]*big.Int, Count)
	for i := range values {
		values[i] = big.NewInt(int64(i * 10))
	}
	s, err := FromBig(values)
	require.NoError(t, err)

	out := s.ToBig()
	for i := range out {
		assert.Equal(t, 0, values[i].Cmp(out[i]))
	}
}
