package settler

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/storage"
	"github.com/stretchr/testify/require"
)

const (
	originID = uint64(1)
	destID   = uint64(2)
)

var (
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	inAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	outAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	relayer    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	originator = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	solver     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	recipient  = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000000b4")
	sink       = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

// recorder accepts value and remembers the last calldata, or rejects
// everything when reject is set
type recorder struct {
	reject   bool
	lastData []byte
	calls    int
}

func (r *recorder) Receive(_ *chain.Env, data []byte) error {
	if r.reject {
		return chain.ErrUnknownMethod
	}
	r.calls++
	r.lastData = append([]byte(nil), data...)
	return nil
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	now    uint64
	origin *chain.Chain
	dest   *chain.Chain
	in     *InputSettler
	out    *OutputSettler
	oracle *oracle.Attester
	sink   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), now: 1000, sink: &recorder{}}

	h.origin = chain.New(originID, "origin", storage.NewMemDB(), nil)
	h.dest = chain.New(destID, "dest", storage.NewMemDB(), nil)
	h.origin.SetNowFunc(func() uint64 { return h.now })
	h.dest.SetNowFunc(func() uint64 { return h.now })

	h.oracle = oracle.NewAttester(oracleAddr, relayer)
	h.in = NewInputSettler(inAddr, common.Address{}, nil)
	h.out = NewOutputSettler(outAddr, nil)

	require.NoError(t, h.origin.Register(oracleAddr, h.oracle))
	require.NoError(t, h.origin.Register(inAddr, h.in))
	require.NoError(t, h.origin.Register(sink, h.sink))
	require.NoError(t, h.dest.Register(oracleAddr, h.oracle))
	require.NoError(t, h.dest.Register(outAddr, h.out))
	require.NoError(t, h.dest.Register(sink, h.sink))

	require.NoError(t, h.origin.Mint(h.ctx, originator, big.NewInt(1_000)))
	require.NoError(t, h.dest.Mint(h.ctx, solver, big.NewInt(1_000)))
	return h
}

func (h *harness) intent() models.Intent {
	return models.Intent{
		Originator:    originator,
		Nonce:         big.NewInt(1),
		OriginChainID: originID,
		Expires:       h.now + 200,
		FillDeadline:  h.now + 100,
		FillOracle:    oracleAddr,
		Inputs:        []models.Input{{AssetID: models.NativeAssetID, Amount: big.NewInt(100)}},
		Outputs: []models.Output{{
			Oracle:    models.AddressToID(oracleAddr),
			Settler:   models.AddressToID(outAddr),
			ChainID:   destID,
			Token:     models.NativeToken,
			Amount:    big.NewInt(90),
			Recipient: models.AddressToID(recipient),
		}},
	}
}

func (h *harness) open(intent models.Intent, value int64) (common.Hash, error) {
	var id common.Hash
	_, err := h.origin.Transact(h.ctx, originator, inAddr, big.NewInt(value), func(env *chain.Env) error {
		var err error
		id, err = h.in.Open(env, intent)
		return err
	})
	return id, err
}

func (h *harness) fill(intent models.Intent, from common.Address, value int64) (common.Hash, error) {
	var id common.Hash
	_, err := h.dest.Transact(h.ctx, from, outAddr, big.NewInt(value), func(env *chain.Env) error {
		var err error
		id, err = h.out.Fill(env, intent)
		return err
	})
	return id, err
}

func (h *harness) finalise(intent models.Intent, from common.Address, params []models.SolveParams) error {
	_, err := h.origin.Transact(h.ctx, from, inAddr, nil, func(env *chain.Env) error {
		return h.in.Finalise(env, intent, params, common.Address{})
	})
	return err
}

func (h *harness) refund(intent models.Intent) error {
	_, err := h.origin.Transact(h.ctx, stranger, inAddr, nil, func(env *chain.Env) error {
		return h.in.Refund(env, intent)
	})
	return err
}

func (h *harness) status(orderID common.Hash) models.OrderStatus {
	var status models.OrderStatus
	require.NoError(h.t, h.origin.View(h.ctx, func(env *chain.Env) error {
		status = h.in.Status(env, orderID)
		return nil
	}))
	return status
}

func (h *harness) fillRecord(orderID common.Hash, out models.Output) (models.FillRecord, bool) {
	var (
		record models.FillRecord
		ok     bool
	)
	require.NoError(h.t, h.dest.View(h.ctx, func(env *chain.Env) error {
		record, ok = h.out.FilledOutput(env, orderID, models.OutputHash(out))
		return nil
	}))
	return record, ok
}

// attestFill submits, on the origin, the attestation the relayer would make
func (h *harness) attestFill(orderID common.Hash, out models.Output, by common.Address, ts uint64) {
	record := oracle.Record{
		RemoteChainID: out.ChainID,
		RemoteOracle:  out.Oracle,
		Application:   out.Settler,
		DataHash:      models.FillPayloadHash(by, orderID, ts, models.OutputHash(out)),
	}
	_, err := h.origin.Transact(h.ctx, relayer, oracleAddr, nil, func(env *chain.Env) error {
		return h.oracle.Submit(env, []oracle.Record{record})
	})
	require.NoError(h.t, err)
}

// attestIntent submits, on the destination, the authenticity attestation
func (h *harness) attestIntent(intent models.Intent, orderID common.Hash) {
	record := oracle.Record{
		RemoteChainID: intent.OriginChainID,
		RemoteOracle:  models.AddressToID(intent.IntentOracle),
		Application:   models.AddressToID(outAddr),
		DataHash:      orderID,
	}
	_, err := h.dest.Transact(h.ctx, relayer, oracleAddr, nil, func(env *chain.Env) error {
		return h.oracle.Submit(env, []oracle.Record{record})
	})
	require.NoError(h.t, err)
}

// gate makes the intent oracle-gated and attests it on the destination
func (h *harness) gate(intent *models.Intent) {
	intent.IntentOracle = oracleAddr
	orderID, err := models.OrderID(*intent)
	require.NoError(h.t, err)
	h.attestIntent(*intent, orderID)
}
