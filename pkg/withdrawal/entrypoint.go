package withdrawal

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/signals"
)

var (
	aspRootKey   = []byte("aspRoot")
	aspNonceKey  = []byte("aspNonce")
	defaultFill  = uint64(600)
	defaultStale = uint64(3600)
)

// IntentOpener is the escrow the entrypoint opens intents on
type IntentOpener interface {
	Open(env *chain.Env, intent models.Intent) (common.Hash, error)
}

// Config is the policy of an entrypoint
type Config struct {
	Address common.Address
	// InputSettler escrows withdrawals and is the only caller of recoverRefund
	InputSettler common.Address
	// OutputSettler is the only caller of depositFor
	OutputSettler common.Address
	// Postman may publish association roots
	Postman         common.Address
	MaxRelayFeeBPS  uint32
	MaxSolverFeeBPS uint32
	MinWithdrawal   *big.Int
	// FillWindow and ExpiryWindow are offsets from the block time, in seconds
	FillWindow   uint64
	ExpiryWindow uint64
}

// RootUpdated is emitted when the postman publishes an association root
type RootUpdated struct {
	Root  *uint256.Int
	Nonce uint64
}

// WithdrawalProcessed is emitted when a withdrawal opened its intent
type WithdrawalProcessed struct {
	OrderID   common.Hash
	Nullifier *uint256.Int
	Recipient common.Address
	Amount    *big.Int
	Fees      Fees
}

// RefundRecovered is emitted when an expired withdrawal intent returned to the pool
type RefundRecovered struct {
	Commitment *uint256.Int
	Amount     *big.Int
}

// CrossChainDeposit is emitted when a fill callback deposited into the pool
type CrossChainDeposit struct {
	Depositor  common.Address
	Commitment *uint256.Int
	Amount     *big.Int
}

// Entrypoint is the front door of a privacy pool for cross-chain
// withdrawals and deposits
type Entrypoint struct {
	cfg       Config
	pool      PrivacyPool
	validator *Validator
	logger    logger.Logger
}

// NewEntrypoint creates the entrypoint contract
func NewEntrypoint(cfg Config, pool PrivacyPool, verifier Verifier, log logger.Logger) *Entrypoint {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if cfg.FillWindow == 0 {
		cfg.FillWindow = defaultFill
	}
	if cfg.ExpiryWindow <= cfg.FillWindow {
		cfg.ExpiryWindow = cfg.FillWindow + defaultStale
	}
	if cfg.MinWithdrawal == nil {
		cfg.MinWithdrawal = new(big.Int)
	}
	e := &Entrypoint{cfg: cfg, pool: pool, logger: log}
	e.validator = NewValidator(pool, verifier, e.LatestRoot)
	return e
}

// Address returns where the entrypoint is deployed
func (e *Entrypoint) Address() common.Address { return e.cfg.Address }

// LatestRoot is the most recent association-set root
func (e *Entrypoint) LatestRoot(env *chain.Env) *uint256.Int {
	value, ok := env.GetState(e.cfg.Address, aspRootKey)
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes(value)
}

// UpdateRoot publishes a new association root. Only the postman may call it.
func (e *Entrypoint) UpdateRoot(env *chain.Env, root *uint256.Int) error {
	if env.Sender() != e.cfg.Postman {
		return fmt.Errorf("%w: %s", ErrUnauthorizedPostman, env.Sender().Hex())
	}
	if root == nil || root.IsZero() || root.Cmp(signals.SnarkScalarField) >= 0 {
		return ErrInvalidRoot
	}
	nonce := uint64(0)
	if value, ok := env.GetState(e.cfg.Address, aspNonceKey); ok {
		nonce = new(big.Int).SetBytes(value).Uint64()
	}
	nonce++
	root32 := root.Bytes32()
	env.SetState(e.cfg.Address, aspRootKey, root32[:])
	env.SetState(e.cfg.Address, aspNonceKey, new(big.Int).SetUint64(nonce).Bytes())
	env.Emit(RootUpdated{Root: new(uint256.Int).Set(root), Nonce: nonce})
	return nil
}

// Deposit places the attached value in the pool for the caller
func (e *Entrypoint) Deposit(env *chain.Env, precommitment *uint256.Int) (*uint256.Int, error) {
	depositor, amount := env.Sender(), env.Value()
	var commitment *uint256.Int
	err := env.Invoke(e.pool.Address(), amount, func(penv *chain.Env) error {
		var err error
		commitment, err = e.pool.Deposit(penv, depositor, precommitment)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deposit for %s: %w", depositor.Hex(), err)
	}
	return commitment, nil
}

// CrossChainWithdraw validates the proof, updates the pool and escrows the
// withdrawn value, less the relay fee, as an intent delivering the net
// amount on the destination chain
func (e *Entrypoint) CrossChainWithdraw(env *chain.Env, w Withdrawal, proof Proof) (common.Hash, error) {
	chainLabel := metrics.ChainLabel(env.ChainID())
	orderID, err := e.crossChainWithdraw(env, w, proof)
	if err != nil {
		metrics.WithdrawalsRejected.WithLabelValues(chainLabel, rejectionReason(err)).Inc()
		e.logger.NoticeWithChain(env.ChainID(), "Rejected withdrawal: %v", err)
		return common.Hash{}, err
	}
	metrics.WithdrawalsProcessed.WithLabelValues(chainLabel).Inc()
	return orderID, nil
}

func (e *Entrypoint) crossChainWithdraw(env *chain.Env, w Withdrawal, proof Proof) (common.Hash, error) {
	if err := e.validator.Validate(env, w, proof); err != nil {
		return common.Hash{}, err
	}

	relay, err := DecodeRelayData(w.Data)
	if err != nil {
		return common.Hash{}, err
	}
	if relay.Recipient == (common.Address{}) || relay.DestinationChainID == 0 {
		return common.Hash{}, fmt.Errorf("%w: missing recipient or destination", ErrInvalidRelayData)
	}

	s := proof.Signals
	amount := s.WithdrawnValue().ToBig()
	if amount.Sign() == 0 || amount.Cmp(e.cfg.MinWithdrawal) < 0 {
		return common.Hash{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, e.cfg.MinWithdrawal)
	}
	fees, err := ComputeFees(amount, relay.RelayFeeBPS, relay.SolverFeeBPS, e.cfg.MaxRelayFeeBPS, e.cfg.MaxSolverFeeBPS)
	if err != nil {
		return common.Hash{}, err
	}
	if fees.Relay.Sign() > 0 && relay.FeeRecipient == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: relay fee without fee recipient", ErrInvalidRelayData)
	}

	self := e.cfg.Address
	err = env.Invoke(e.pool.Address(), nil, func(penv *chain.Env) error {
		if err := e.pool.Spend(penv, s.ExistingNullifierHash()); err != nil {
			return err
		}
		if err := e.pool.Insert(penv, s.NewCommitmentHash()); err != nil {
			return err
		}
		return e.pool.Release(penv, self, amount)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to update pool: %w", err)
	}

	if err := env.Transfer(relay.FeeRecipient, fees.Relay); err != nil {
		return common.Hash{}, fmt.Errorf("failed to pay relay fee: %w", err)
	}

	recovery, err := contracts.PackRecoverRefund(s.RefundCommitmentHash().ToBig())
	if err != nil {
		return common.Hash{}, err
	}
	escrow := new(big.Int).Sub(amount, fees.Relay)
	intent := models.Intent{
		Originator:    self,
		Nonce:         s.ExistingNullifierHash().ToBig(),
		OriginChainID: env.ChainID(),
		FillDeadline:  env.Now() + e.cfg.FillWindow,
		Expires:       env.Now() + e.cfg.ExpiryWindow,
		FillOracle:    relay.FillOracle,
		Inputs:        []models.Input{{AssetID: models.NativeAssetID, Amount: escrow}},
		Outputs: []models.Output{{
			Oracle:    relay.OutputOracle,
			Settler:   relay.OutputSettler,
			ChainID:   relay.DestinationChainID,
			Token:     models.NativeToken,
			Amount:    fees.Net,
			Recipient: models.AddressToID(relay.Recipient),
		}},
		Refund: models.CustomRefund(self, recovery),
	}

	contract, ok := env.Contract(e.cfg.InputSettler)
	if !ok {
		return common.Hash{}, ErrNoSettler
	}
	opener, ok := contract.(IntentOpener)
	if !ok {
		return common.Hash{}, ErrNoSettler
	}
	var orderID common.Hash
	err = env.Invoke(e.cfg.InputSettler, escrow, func(senv *chain.Env) error {
		var err error
		orderID, err = opener.Open(senv, intent)
		return err
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to open withdrawal intent: %w", err)
	}

	env.Emit(WithdrawalProcessed{
		OrderID:   orderID,
		Nullifier: s.ExistingNullifierHash(),
		Recipient: relay.Recipient,
		Amount:    amount,
		Fees:      fees,
	})
	e.logger.InfoWithChain(env.ChainID(), "Withdrawal opened order %s: %s to %s on chain %d (relay fee %s, solver fee %s)",
		orderID.Hex(), fees.Net, relay.Recipient.Hex(), relay.DestinationChainID, fees.Relay, fees.Solver)
	return orderID, nil
}

// Receive handles the refund-recovery and fill-callback calldata
func (e *Entrypoint) Receive(env *chain.Env, data []byte) error {
	call, err := contracts.UnpackEntrypointCall(data)
	if err != nil {
		return fmt.Errorf("%w: %v", chain.ErrUnknownMethod, err)
	}

	switch call.Method {
	case contracts.MethodRecoverRefund:
		return e.recoverRefund(env, call.RefundCommitment)
	case contracts.MethodDepositFor:
		return e.depositFor(env, call.Depositor, call.Precommitment)
	default:
		return chain.ErrUnknownMethod
	}
}

func (e *Entrypoint) recoverRefund(env *chain.Env, refundCommitment *big.Int) error {
	if env.Sender() != e.cfg.InputSettler {
		return fmt.Errorf("%w: recoverRefund from %s", ErrUnauthorizedCallback, env.Sender().Hex())
	}
	commitment, overflow := uint256.FromBig(refundCommitment)
	if overflow || commitment.IsZero() {
		return ErrZeroRefundCommitment
	}
	amount := env.Value()
	err := env.Invoke(e.pool.Address(), amount, func(penv *chain.Env) error {
		return e.pool.Insert(penv, commitment)
	})
	if err != nil {
		return fmt.Errorf("failed to re-insert refund commitment: %w", err)
	}

	env.Emit(RefundRecovered{Commitment: commitment, Amount: amount})
	metrics.RefundsRecovered.WithLabelValues(metrics.ChainLabel(env.ChainID())).Inc()
	e.logger.InfoWithChain(env.ChainID(), "Recovered refund of %s into commitment %s", amount, commitment.Hex())
	return nil
}

func (e *Entrypoint) depositFor(env *chain.Env, depositor common.Address, precommitment *big.Int) error {
	if env.Sender() != e.cfg.OutputSettler {
		return fmt.Errorf("%w: depositFor from %s", ErrUnauthorizedCallback, env.Sender().Hex())
	}
	pre, overflow := uint256.FromBig(precommitment)
	if overflow {
		return fmt.Errorf("%w: precommitment overflows", ErrInvalidRelayData)
	}
	amount := env.Value()
	var commitment *uint256.Int
	err := env.Invoke(e.pool.Address(), amount, func(penv *chain.Env) error {
		var err error
		commitment, err = e.pool.Deposit(penv, depositor, pre)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to deposit for %s: %w", depositor.Hex(), err)
	}

	env.Emit(CrossChainDeposit{Depositor: depositor, Commitment: commitment, Amount: amount})
	e.logger.InfoWithChain(env.ChainID(), "Cross-chain deposit of %s for %s", amount, depositor.Hex())
	return nil
}
