package contracts

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntrypointCalldata(t *testing.T) {
	data, err := PackRecoverRefund(big.NewInt(42))
	require.NoError(t, err)

	call, err := UnpackEntrypointCall(data)
	require.NoError(t, err)
	assert.Equal(t, MethodRecoverRefund, call.Method)
	assert.Equal(t, int64(42), call.RefundCommitment.Int64())

	depositor := common.HexToAddress("0x1234")
	data, err = PackDepositFor(depositor, big.NewInt(7))
	require.NoError(t, err)

	call, err = UnpackEntrypointCall(data)
	require.NoError(t, err)
	assert.Equal(t, MethodDepositFor, call.Method)
	assert.Equal(t, depositor, call.Depositor)
	assert.Equal(t, int64(7), call.Precommitment.Int64())
}

func TestUnpackRejectsGarbage(t *testing.T) {
	_, err := UnpackEntrypointCall([]byte{0x01})
	assert.ErrorIs(t, err, ErrShortCalldata)

	_, err = UnpackEntrypointCall([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}
