package settler

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillOptimistic(t *testing.T) {
	h := newHarness(t)
	intent := h.intent()

	orderID, err := h.fill(intent, solver, 90)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(90), h.dest.Balance(recipient))
	assert.Equal(t, big.NewInt(910), h.dest.Balance(solver))
	assert.Equal(t, 0, h.dest.Balance(outAddr).Sign())

	record, ok := h.fillRecord(orderID, intent.Outputs[0])
	require.True(t, ok)
	assert.Equal(t, solver, record.Solver)
	assert.Equal(t, h.now, record.Timestamp)

	logs, _ := h.dest.LogsSince(0, 0)
	require.Len(t, logs, 1)
	filled, ok := logs[0].Event.(OutputFilled)
	require.True(t, ok)
	assert.Equal(t, orderID, filled.OrderID)
	assert.Equal(t, models.OutputHash(intent.Outputs[0]), filled.OutputHash)

	// the first solver wins, a second fill is rejected with no effect
	require.NoError(t, h.dest.Mint(h.ctx, stranger, big.NewInt(90)))
	_, err = h.fill(intent, stranger, 90)
	assert.ErrorIs(t, err, ErrAlreadyFilled)
	assert.Equal(t, big.NewInt(90), h.dest.Balance(stranger))
	record, _ = h.fillRecord(orderID, intent.Outputs[0])
	assert.Equal(t, solver, record.Solver)
}

func TestFillRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*harness, *models.Intent)
		value  int64
		want   error
	}{
		{"no outputs", func(_ *harness, i *models.Intent) { i.Outputs = nil }, 0, ErrNoOutputs},
		{"wrong chain", func(_ *harness, i *models.Intent) { i.Outputs[0].ChainID = originID }, 90, ErrWrongDestinationChain},
		{"wrong settler", func(_ *harness, i *models.Intent) { i.Outputs[0].Settler = models.AddressToID(inAddr) }, 90, ErrWrongSettler},
		{"deadline passed", func(h *harness, i *models.Intent) { h.now = i.FillDeadline + 1 }, 90, ErrFillDeadlinePassed},
		{"short value", func(_ *harness, _ *models.Intent) {}, 89, ErrInsufficientValue},
		{"excess value", func(_ *harness, _ *models.Intent) {}, 91, ErrExcessValue},
		{"foreign token", func(_ *harness, i *models.Intent) { i.Outputs[0].Token = common.HexToHash("0x01") }, 90, ErrUnsupportedAsset},
		{"callback on optimistic intent", func(_ *harness, i *models.Intent) {
			i.Outputs[0].Recipient = models.AddressToID(sink)
			i.Outputs[0].Call = []byte{0x01}
		}, 90, ErrCallbackRequiresGate},
		{"rejecting recipient", func(h *harness, i *models.Intent) {
			h.sink.reject = true
			i.Outputs[0].Recipient = models.AddressToID(sink)
			i.Outputs[0].Call = []byte{0x01}
			h.gate(i)
		}, 90, ErrDeliveryFailed},
		{"calldata to plain account", func(h *harness, i *models.Intent) {
			i.Outputs[0].Call = []byte{0x01}
			h.gate(i)
		}, 90, ErrDeliveryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			intent := h.intent()
			tt.mutate(h, &intent)
			logs := h.dest.LogCount()

			_, err := h.fill(intent, solver, tt.value)
			assert.ErrorIs(t, err, tt.want)

			// nothing moved and nothing was recorded
			assert.Equal(t, big.NewInt(1_000), h.dest.Balance(solver))
			assert.Equal(t, logs, h.dest.LogCount())
			if len(intent.Outputs) > 0 {
				orderID, _ := models.OrderID(intent)
				_, ok := h.fillRecord(orderID, intent.Outputs[0])
				assert.False(t, ok)
			}
		})
	}
}

func TestFillWithCallback(t *testing.T) {
	h := newHarness(t)
	intent := h.intent()
	intent.Outputs[0].Recipient = models.AddressToID(sink)
	intent.Outputs[0].Call = []byte{0xbe, 0xef}
	h.gate(&intent)

	_, err := h.fill(intent, solver, 90)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(90), h.dest.Balance(sink))
	assert.Equal(t, []byte{0xbe, 0xef}, h.sink.lastData)
}

func TestFillCallbackOnOptimisticIntent(t *testing.T) {
	h := newHarness(t)
	intent := h.intent()
	data, err := contracts.PackDepositFor(stranger, big.NewInt(77))
	require.NoError(t, err)
	intent.Outputs[0].Recipient = models.AddressToID(sink)
	intent.Outputs[0].Call = data

	// never opened and never attested, the callback must not run
	_, err = h.fill(intent, solver, 90)
	assert.ErrorIs(t, err, ErrCallbackRequiresGate)
	assert.Equal(t, models.KindAuthentication, models.KindOf(err))
	assert.Equal(t, 0, h.sink.calls)
	assert.Equal(t, 0, h.dest.Balance(sink).Sign())
}

func TestFillDepositCallbackDepositor(t *testing.T) {
	tests := []struct {
		name      string
		depositor common.Address
		want      error
	}{
		{"originator", originator, nil},
		{"someone else", stranger, ErrDepositorMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			intent := h.intent()
			data, err := contracts.PackDepositFor(tt.depositor, big.NewInt(77))
			require.NoError(t, err)
			intent.Outputs[0].Recipient = models.AddressToID(sink)
			intent.Outputs[0].Call = data
			h.gate(&intent)

			_, err = h.fill(intent, solver, 90)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, 0, h.sink.calls)
				assert.Equal(t, big.NewInt(1_000), h.dest.Balance(solver))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, data, h.sink.lastData)
			assert.Equal(t, big.NewInt(90), h.dest.Balance(sink))
		})
	}
}

func TestFillOracleGated(t *testing.T) {
	h := newHarness(t)
	intent := h.intent()
	intent.IntentOracle = oracleAddr
	orderID, err := models.OrderID(intent)
	require.NoError(t, err)

	_, err = h.fill(intent, solver, 90)
	assert.ErrorIs(t, err, ErrIntentNotProven)
	assert.Equal(t, models.KindAuthentication, models.KindOf(err))

	h.attestIntent(intent, orderID)
	_, err = h.fill(intent, solver, 90)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(90), h.dest.Balance(recipient))
}

func TestFillGatedWithoutOracleContract(t *testing.T) {
	h := newHarness(t)
	intent := h.intent()
	intent.IntentOracle = common.HexToAddress("0xdead")

	_, err := h.fill(intent, solver, 90)
	assert.ErrorIs(t, err, ErrIntentNotProven)
}

func TestFillMultipleOutputsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	h.sink.reject = true
	intent := h.intent()
	second := intent.Outputs[0]
	second.Amount = big.NewInt(10)
	second.Recipient = models.AddressToID(sink)
	second.Call = []byte{0x01}
	intent.Outputs = append(intent.Outputs, second)
	h.gate(&intent)

	_, err := h.fill(intent, solver, 100)
	assert.ErrorIs(t, err, ErrDeliveryFailed)

	// the first output was delivered and recorded before the failure, and both were undone
	assert.Equal(t, 0, h.dest.Balance(recipient).Sign())
	orderID, _ := models.OrderID(intent)
	_, ok := h.fillRecord(orderID, intent.Outputs[0])
	assert.False(t, ok)
}
