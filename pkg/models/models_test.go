package models

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIntent() Intent {
	return Intent{
		Originator:    common.HexToAddress("0x1000000000000000000000000000000000000001"),
		Nonce:         big.NewInt(7),
		OriginChainID: 1,
		Expires:       2000,
		FillDeadline:  1000,
		FillOracle:    common.HexToAddress("0x2000000000000000000000000000000000000002"),
		Inputs:        []Input{{AssetID: NativeAssetID, Amount: big.NewInt(100)}},
		Outputs: []Output{{
			Oracle:    AddressToID(common.HexToAddress("0x3000000000000000000000000000000000000003")),
			Settler:   AddressToID(common.HexToAddress("0x4000000000000000000000000000000000000004")),
			ChainID:   2,
			Token:     NativeToken,
			Amount:    big.NewInt(95),
			Recipient: AddressToID(common.HexToAddress("0x5000000000000000000000000000000000000005")),
		}},
	}
}

func TestOrderIDDeterministic(t *testing.T) {
	a, err := OrderID(sampleIntent())
	require.NoError(t, err)
	b, err := OrderID(sampleIntent())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, common.Hash{}, a)
}

func TestOrderIDChangesWithEveryField(t *testing.T) {
	base, err := OrderID(sampleIntent())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"originator", func(i *Intent) { i.Originator = common.HexToAddress("0x09") }},
		{"nonce", func(i *Intent) { i.Nonce = big.NewInt(8) }},
		{"origin chain", func(i *Intent) { i.OriginChainID = 3 }},
		{"expires", func(i *Intent) { i.Expires++ }},
		{"fill deadline", func(i *Intent) { i.FillDeadline++ }},
		{"fill oracle", func(i *Intent) { i.FillOracle = common.HexToAddress("0x0a") }},
		{"intent oracle", func(i *Intent) { i.IntentOracle = common.HexToAddress("0x0b") }},
		{"input amount", func(i *Intent) { i.Inputs[0].Amount = big.NewInt(101) }},
		{"output amount", func(i *Intent) { i.Outputs[0].Amount = big.NewInt(96) }},
		{"output call", func(i *Intent) { i.Outputs[0].Call = []byte{0x01} }},
		{"output context", func(i *Intent) { i.Outputs[0].Context = []byte{0x02} }},
		{"refund", func(i *Intent) { i.Refund = CustomRefund(common.HexToAddress("0x0c"), []byte{0xaa}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := sampleIntent()
			tt.mutate(&intent)
			id, err := OrderID(intent)
			require.NoError(t, err)
			assert.NotEqual(t, base, id)
		})
	}
}

func TestRefundEncoding(t *testing.T) {
	simple, err := Refund{}.Encode()
	require.NoError(t, err)
	assert.Empty(t, simple)

	decoded, err := DecodeRefund(simple)
	require.NoError(t, err)
	assert.Equal(t, RefundSimple, decoded.Kind)

	custom := CustomRefund(common.HexToAddress("0x0d"), []byte{0xde, 0xad})
	encoded, err := custom.Encode()
	require.NoError(t, err)
	decoded, err = DecodeRefund(encoded)
	require.NoError(t, err)
	assert.True(t, custom.Equal(decoded))

	_, err = DecodeRefund([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestFillPayloadHashBindsFields(t *testing.T) {
	solver := common.HexToAddress("0x0e")
	order := common.HexToHash("0x01")
	out := OutputHash(sampleIntent().Outputs[0])

	base := FillPayloadHash(solver, order, 10, out)
	assert.NotEqual(t, base, FillPayloadHash(common.HexToAddress("0x0f"), order, 10, out))
	assert.NotEqual(t, base, FillPayloadHash(solver, common.HexToHash("0x02"), 10, out))
	assert.NotEqual(t, base, FillPayloadHash(solver, order, 11, out))
	assert.NotEqual(t, base, FillPayloadHash(solver, order, 10, common.HexToHash("0x03")))
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusNone, StatusDeposited))
	assert.True(t, CanTransition(StatusDeposited, StatusClaimed))
	assert.True(t, CanTransition(StatusDeposited, StatusRefunded))
	assert.False(t, CanTransition(StatusNone, StatusClaimed))
	assert.False(t, CanTransition(StatusClaimed, StatusRefunded))
	assert.False(t, CanTransition(StatusRefunded, StatusDeposited))
	assert.True(t, StatusClaimed.Terminal())
	assert.False(t, OrderStatus(9).Valid())
}

func TestKindOf(t *testing.T) {
	sentinel := NewError(KindStateConflict, "already filled")
	wrapped := &wrapErr{sentinel}
	assert.Equal(t, KindStateConflict, KindOf(wrapped))
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
	assert.Equal(t, "state_conflict", KindOf(wrapped).String())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(KindUnknown))
	for _, kind := range []ErrorKind{KindMalformed, KindStateConflict, KindAuthentication, KindEconomicPolicy, KindTerminalPayout} {
		assert.False(t, IsRetryable(kind), kind.String())
	}
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }

func TestTotals(t *testing.T) {
	intent := sampleIntent()
	intent.Inputs = append(intent.Inputs, Input{AssetID: NativeAssetID, Amount: big.NewInt(5)})
	assert.Equal(t, big.NewInt(105), intent.InputTotal())
	assert.Equal(t, big.NewInt(95), intent.OutputTotal())
	assert.True(t, intent.Optimistic())
	assert.Equal(t, uint64(2), intent.DestinationChainID())
}
