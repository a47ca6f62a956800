package withdrawal

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
	"github.com/speedrun-hq/speedrun-settlement/pkg/privacypool"
	"github.com/speedrun-hq/speedrun-settlement/pkg/settler"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signals"
	"github.com/speedrun-hq/speedrun-settlement/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	entryAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	poolAddr     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	inAddr       = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	outAddr      = common.HexToAddress("0x00000000000000000000000000000000000000e3")
	oracleAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e4")
	postman      = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	relayerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	depositor    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	feeRecipient = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	recipient    = common.HexToAddress("0x00000000000000000000000000000000000000f4")
	stranger     = common.HexToAddress("0x00000000000000000000000000000000000000f5")
)

const aspRoot = 4242

type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      uint64
	chain    *chain.Chain
	pool     *privacypool.Pool
	entry    *Entrypoint
	input    *settler.InputSettler
	verifies bool

	verifierCalls int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), now: 10_000, verifies: true}
	f.chain = chain.New(1, "origin", storage.NewMemDB(), nil)
	f.chain.SetNowFunc(func() uint64 { return f.now })

	f.pool = privacypool.New(poolAddr, entryAddr, 1, 0)
	f.input = settler.NewInputSettler(inAddr, entryAddr, nil)
	verifier := VerifierFunc(func(_ [2]*big.Int, _ [2][2]*big.Int, _ [2]*big.Int, _ [signals.Count]*big.Int) bool {
		f.verifierCalls++
		return f.verifies
	})
	f.entry = NewEntrypoint(Config{
		Address:         entryAddr,
		InputSettler:    inAddr,
		OutputSettler:   outAddr,
		Postman:         postman,
		MaxRelayFeeBPS:  500,
		MaxSolverFeeBPS: 500,
		MinWithdrawal:   big.NewInt(10),
		FillWindow:      100,
		ExpiryWindow:    200,
	}, f.pool, verifier, nil)

	require.NoError(t, f.chain.Register(poolAddr, f.pool))
	require.NoError(t, f.chain.Register(inAddr, f.input))
	require.NoError(t, f.chain.Register(entryAddr, f.entry))
	require.NoError(t, f.chain.Register(oracleAddr, oracle.NewAttester(oracleAddr, relayerAddr)))

	require.NoError(t, f.chain.Mint(f.ctx, depositor, big.NewInt(10_000)))
	_, err := f.chain.Transact(f.ctx, depositor, entryAddr, big.NewInt(1_000), func(env *chain.Env) error {
		_, err := f.entry.Deposit(env, uint256.NewInt(5))
		return err
	})
	require.NoError(t, err)

	_, err = f.chain.Transact(f.ctx, postman, entryAddr, nil, func(env *chain.Env) error {
		return f.entry.UpdateRoot(env, uint256.NewInt(aspRoot))
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) stateRoot() *uint256.Int {
	var root *uint256.Int
	require.NoError(f.t, f.chain.View(f.ctx, func(env *chain.Env) error {
		root = f.pool.CurrentRoot(env)
		return nil
	}))
	return root
}

func (f *fixture) poolSize() uint64 {
	var size uint64
	require.NoError(f.t, f.chain.View(f.ctx, func(env *chain.Env) error {
		size = f.pool.Size(env)
		return nil
	}))
	return size
}

func (f *fixture) request(relayBPS, solverBPS uint32) (Withdrawal, Proof) {
	data, err := RelayData{
		Recipient:          recipient,
		FeeRecipient:       feeRecipient,
		RelayFeeBPS:        relayBPS,
		SolverFeeBPS:       solverBPS,
		DestinationChainID: 2,
		OutputOracle:       models.AddressToID(oracleAddr),
		OutputSettler:      models.AddressToID(outAddr),
		FillOracle:         oracleAddr,
	}.Encode()
	require.NoError(f.t, err)

	w := Withdrawal{Processor: entryAddr, Data: data}
	proof := Proof{
		PA: [2]*big.Int{big.NewInt(1), big.NewInt(2)},
		PB: [2][2]*big.Int{{big.NewInt(3), big.NewInt(4)}, {big.NewInt(5), big.NewInt(6)}},
		PC: [2]*big.Int{big.NewInt(7), big.NewInt(8)},
		Signals: signals.Signals{
			uint256.NewInt(111), // new commitment
			uint256.NewInt(222), // nullifier
			uint256.NewInt(333), // refund commitment
			uint256.NewInt(600), // value
			f.stateRoot(),
			uint256.NewInt(1),
			uint256.NewInt(aspRoot),
			uint256.NewInt(1),
			ContextHash(w, f.pool.Scope()),
		},
	}
	return w, proof
}

func (f *fixture) withdraw(w Withdrawal, proof Proof) (common.Hash, error) {
	var orderID common.Hash
	_, err := f.chain.Transact(f.ctx, relayerAddr, entryAddr, nil, func(env *chain.Env) error {
		var err error
		orderID, err = f.entry.CrossChainWithdraw(env, w, proof)
		return err
	})
	return orderID, err
}

func TestValidatorCheckOrder(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*fixture, *Withdrawal, *Proof)
		want     error
		verified bool
	}{
		{"processor", func(_ *fixture, w *Withdrawal, _ *Proof) { w.Processor = stranger }, ErrInvalidProcessor, false},
		{"missing signal", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.WithdrawnValue] = nil }, ErrMalformedSignals, false},
		{"signal outside field", func(_ *fixture, _ *Withdrawal, p *Proof) {
			p.Signals[signals.ExistingNullifierHash] = new(uint256.Int).Set(signals.SnarkScalarField)
		}, ErrMalformedSignals, false},
		{"context", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.Context] = uint256.NewInt(1) }, ErrContextMismatch, false},
		{"tampered relay data", func(_ *fixture, w *Withdrawal, p *Proof) {
			w.Data = append([]byte{}, w.Data...)
			w.Data[len(w.Data)-1] ^= 0x01
		}, ErrContextMismatch, false},
		{"state depth", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.StateTreeDepth] = uint256.NewInt(33) }, ErrInvalidTreeDepth, false},
		{"asp depth", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.ASPTreeDepth] = uint256.NewInt(33) }, ErrInvalidTreeDepth, false},
		{"state root", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.StateRoot] = uint256.NewInt(9) }, ErrUnknownStateRoot, false},
		{"asp root", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.ASPRoot] = uint256.NewInt(9) }, ErrIncorrectASPRoot, false},
		{"refund commitment", func(_ *fixture, _ *Withdrawal, p *Proof) { p.Signals[signals.RefundCommitmentHash] = new(uint256.Int) }, ErrZeroRefundCommitment, false},
		{"proof", func(f *fixture, _ *Withdrawal, _ *Proof) { f.verifies = false }, ErrInvalidProof, true},
		{"root before proof", func(f *fixture, _ *Withdrawal, p *Proof) {
			f.verifies = false
			p.Signals[signals.StateRoot] = uint256.NewInt(9)
		}, ErrUnknownStateRoot, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w, proof := f.request(100, 50)
			tt.mutate(f, &w, &proof)

			_, err := f.withdraw(w, proof)
			assert.ErrorIs(t, err, tt.want)
			if tt.verified {
				assert.Equal(t, 1, f.verifierCalls)
			} else {
				assert.Zero(t, f.verifierCalls, "verifier ran before %s was rejected", tt.name)
			}
			assert.Equal(t, uint64(1), f.poolSize())
			assert.Equal(t, big.NewInt(1_000), f.chain.Balance(poolAddr))
		})
	}
}

func TestRejectionReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrMalformedSignals, "malformed_signals"},
		{fmt.Errorf("%w: signal 3", ErrMalformedSignals), "malformed_signals"},
		{ErrContextMismatch, "context_mismatch"},
		{ErrInvalidProof, "invalid_proof"},
		{ErrUnauthorizedCallback, "other"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, rejectionReason(tt.err))
		})
	}
}

func TestCrossChainWithdraw(t *testing.T) {
	f := newFixture(t)
	w, proof := f.request(100, 50)

	orderID, err := f.withdraw(w, proof)
	require.NoError(t, err)

	// 600 withdrawn: 6 relay fee, 3 solver margin, 591 delivered
	assert.Equal(t, big.NewInt(400), f.chain.Balance(poolAddr))
	assert.Equal(t, big.NewInt(6), f.chain.Balance(feeRecipient))
	assert.Equal(t, big.NewInt(594), f.chain.Balance(inAddr))
	assert.Equal(t, 0, f.chain.Balance(entryAddr).Sign())
	assert.Equal(t, uint64(2), f.poolSize())

	var intent models.Intent
	logs, _ := f.chain.LogsSince(0, 0)
	for _, l := range logs {
		if opened, ok := l.Event.(settler.Opened); ok {
			intent = opened.Intent
			assert.Equal(t, orderID, opened.OrderID)
		}
	}
	require.Len(t, intent.Outputs, 1)
	assert.Equal(t, big.NewInt(591), intent.Outputs[0].Amount)
	assert.Equal(t, uint64(2), intent.Outputs[0].ChainID)
	assert.Equal(t, models.AddressToID(recipient), intent.Outputs[0].Recipient)
	assert.Equal(t, entryAddr, intent.Originator)
	assert.Equal(t, models.RefundCustom, intent.Refund.Kind)
	assert.Equal(t, entryAddr, intent.Refund.Target)

	require.NoError(t, f.chain.View(f.ctx, func(env *chain.Env) error {
		assert.Equal(t, models.StatusDeposited, f.input.Status(env, orderID))
		assert.True(t, f.pool.IsSpent(env, uint256.NewInt(222)))
		return nil
	}))

	// the same nullifier cannot be used twice
	w2, proof2 := f.request(100, 50)
	_, err = f.withdraw(w2, proof2)
	assert.ErrorIs(t, err, ErrNullifierAlreadySpent)
}

func TestWithdrawEconomicPolicy(t *testing.T) {
	tests := []struct {
		name      string
		relayBPS  uint32
		solverBPS uint32
		value     uint64
		want      error
	}{
		{"relay cap", 501, 0, 600, ErrRelayFeeTooHigh},
		{"solver cap", 0, 501, 600, ErrSolverFeeTooHigh},
		{"minimum", 0, 0, 9, ErrBelowMinimum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			w, proof := f.request(tt.relayBPS, tt.solverBPS)
			proof.Signals[signals.WithdrawnValue] = uint256.NewInt(tt.value)

			_, err := f.withdraw(w, proof)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, models.KindEconomicPolicy, models.KindOf(err))
			require.NoError(t, f.chain.View(f.ctx, func(env *chain.Env) error {
				assert.False(t, f.pool.IsSpent(env, uint256.NewInt(222)))
				return nil
			}))
		})
	}
}

func TestRefundRecoveryReinsertsCommitment(t *testing.T) {
	f := newFixture(t)
	w, proof := f.request(100, 50)
	_, err := f.withdraw(w, proof)
	require.NoError(t, err)

	var intent models.Intent
	logs, _ := f.chain.LogsSince(0, 0)
	for _, l := range logs {
		if opened, ok := l.Event.(settler.Opened); ok {
			intent = opened.Intent
		}
	}

	f.now = intent.Expires + 1
	_, err = f.chain.Transact(f.ctx, stranger, inAddr, nil, func(env *chain.Env) error {
		return f.input.Refund(env, intent)
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(3), f.poolSize())
	assert.Equal(t, big.NewInt(994), f.chain.Balance(poolAddr))
	assert.Equal(t, 0, f.chain.Balance(inAddr).Sign())

	var recovered *RefundRecovered
	logs, _ = f.chain.LogsSince(0, 0)
	for _, l := range logs {
		if ev, ok := l.Event.(RefundRecovered); ok {
			recovered = &ev
		}
	}
	require.NotNil(t, recovered)
	assert.Equal(t, uint64(333), recovered.Commitment.Uint64())
	assert.Equal(t, big.NewInt(594), recovered.Amount)
}

func TestCallbacksRequirePrivilegedCaller(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.chain.Mint(f.ctx, stranger, big.NewInt(100)))

	data, err := contracts.PackRecoverRefund(big.NewInt(333))
	require.NoError(t, err)
	_, err = f.chain.Send(f.ctx, chain.Message{From: stranger, To: entryAddr, Value: big.NewInt(50), Data: data})
	assert.ErrorIs(t, err, ErrUnauthorizedCallback)

	data, err = contracts.PackDepositFor(stranger, big.NewInt(1))
	require.NoError(t, err)
	_, err = f.chain.Send(f.ctx, chain.Message{From: stranger, To: entryAddr, Value: big.NewInt(50), Data: data})
	assert.ErrorIs(t, err, ErrUnauthorizedCallback)
	assert.Equal(t, models.KindAuthentication, models.KindOf(err))

	assert.Equal(t, big.NewInt(100), f.chain.Balance(stranger))
	assert.Equal(t, uint64(1), f.poolSize())
}

func TestUpdateRootRequiresPostman(t *testing.T) {
	f := newFixture(t)
	_, err := f.chain.Transact(f.ctx, stranger, entryAddr, nil, func(env *chain.Env) error {
		return f.entry.UpdateRoot(env, uint256.NewInt(1))
	})
	assert.ErrorIs(t, err, ErrUnauthorizedPostman)

	_, err = f.chain.Transact(f.ctx, postman, entryAddr, nil, func(env *chain.Env) error {
		return f.entry.UpdateRoot(env, new(uint256.Int))
	})
	assert.ErrorIs(t, err, ErrInvalidRoot)
}

func TestContextHashInField(t *testing.T) {
	scope := uint256.NewInt(99)
	a := ContextHash(Withdrawal{Processor: entryAddr, Data: []byte{1}}, scope)
	b := ContextHash(Withdrawal{Processor: entryAddr, Data: []byte{2}}, scope)
	c := ContextHash(Withdrawal{Processor: entryAddr, Data: []byte{1}}, uint256.NewInt(100))
	assert.True(t, a.Lt(signals.SnarkScalarField))
	assert.False(t, a.Eq(b))
	assert.False(t, a.Eq(c))
}

func TestRelayDataRoundTrip(t *testing.T) {
	r := RelayData{
		Recipient:          recipient,
		FeeRecipient:       feeRecipient,
		RelayFeeBPS:        12,
		SolverFeeBPS:       34,
		DestinationChainID: 7,
		OutputOracle:       common.HexToHash("0x01"),
		OutputSettler:      common.HexToHash("0x02"),
		FillOracle:         oracleAddr,
	}
	data, err := r.Encode()
	require.NoError(t, err)
	decoded, err := DecodeRelayData(data)
	require.NoError(t, err)
	assert.Equal(t, r, decoded)

	_, err = DecodeRelayData([]byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidRelayData)
}
