package settler

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/contracts"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

var fillPrefix = []byte("fill")

// OutputSettler delivers outputs on a destination chain and records who
// filled them and when, for oracles to attest back to the origin.
type OutputSettler struct {
	address common.Address
	logger  logger.Logger
}

// NewOutputSettler creates the fill-side settler at address
func NewOutputSettler(address common.Address, log logger.Logger) *OutputSettler {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &OutputSettler{address: address, logger: log}
}

// Address returns where the settler is deployed
func (s *OutputSettler) Address() common.Address { return s.address }

func fillKey(orderID, outputHash common.Hash) []byte {
	return append(append([]byte{}, fillPrefix...), crypto.Keccak256(orderID.Bytes(), outputHash.Bytes())...)
}

// FilledOutput returns the fill record of one output
func (s *OutputSettler) FilledOutput(env *chain.Env, orderID, outputHash common.Hash) (models.FillRecord, bool) {
	value, ok := env.GetState(s.address, fillKey(orderID, outputHash))
	if !ok {
		return models.FillRecord{}, false
	}
	return decodeFillRecord(value)
}

// Fill delivers every output of the intent from the caller's attached
// value. Oracle-gated intents must first be attested on this chain, and
// only they may carry a callback.
func (s *OutputSettler) Fill(env *chain.Env, intent models.Intent) (common.Hash, error) {
	if len(intent.Outputs) == 0 {
		return common.Hash{}, ErrNoOutputs
	}
	self := models.AddressToID(s.address)
	for i, out := range intent.Outputs {
		if out.ChainID != env.ChainID() {
			return common.Hash{}, fmt.Errorf("%w: output %d targets chain %d", ErrWrongDestinationChain, i, out.ChainID)
		}
		if out.Settler != self {
			return common.Hash{}, fmt.Errorf("%w: output %d", ErrWrongSettler, i)
		}
		if out.Amount == nil || out.Amount.Sign() <= 0 {
			return common.Hash{}, fmt.Errorf("%w: output %d", ErrInvalidAmount, i)
		}
		if err := checkCallback(intent, out); err != nil {
			return common.Hash{}, fmt.Errorf("%w: output %d", err, i)
		}
	}
	if env.Now() > intent.FillDeadline {
		return common.Hash{}, fmt.Errorf("%w: now %d, deadline %d", ErrFillDeadlinePassed, env.Now(), intent.FillDeadline)
	}

	orderID, err := models.OrderID(intent)
	if err != nil {
		return common.Hash{}, err
	}

	mode := "optimistic"
	if !intent.Optimistic() {
		mode = "gated"
		intentOracle, err := lookupOracle(env, intent.IntentOracle)
		if err != nil {
			return common.Hash{}, fmt.Errorf("%w: %v", ErrIntentNotProven, err)
		}
		if !intentOracle.IsProven(env, intent.OriginChainID, models.AddressToID(intent.IntentOracle), self, orderID) {
			return common.Hash{}, fmt.Errorf("%w: order %s", ErrIntentNotProven, orderID.Hex())
		}
	}

	total := intent.OutputTotal()
	switch env.Value().Cmp(total) {
	case -1:
		return common.Hash{}, fmt.Errorf("%w: got %s, need %s", ErrInsufficientValue, env.Value(), total)
	case 1:
		return common.Hash{}, fmt.Errorf("%w: got %s, need %s", ErrExcessValue, env.Value(), total)
	}

	solver := env.Sender()
	for i, out := range intent.Outputs {
		outputHash := models.OutputHash(out)
		key := fillKey(orderID, outputHash)
		if _, filled := env.GetState(s.address, key); filled {
			return common.Hash{}, fmt.Errorf("%w: order %s output %d", ErrAlreadyFilled, orderID.Hex(), i)
		}

		// the record is written before value leaves the settler
		record := models.FillRecord{Solver: solver, Timestamp: env.Now()}
		env.SetState(s.address, key, encodeFillRecord(record))

		if out.Token != models.NativeToken {
			return common.Hash{}, fmt.Errorf("%w: output %d", ErrUnsupportedAsset, i)
		}

		recipient := models.IDToAddress(out.Recipient)
		if err := env.Call(recipient, out.Amount, out.Call); err != nil {
			return common.Hash{}, fmt.Errorf("%w: output %d to %s: %v", ErrDeliveryFailed, i, recipient.Hex(), err)
		}

		env.Emit(OutputFilled{
			OrderID:    orderID,
			OutputHash: outputHash,
			Index:      i,
			Solver:     solver,
			Timestamp:  record.Timestamp,
			Output:     out,
			Intent:     intent,
		})
	}

	metrics.OutputsFilled.WithLabelValues(metrics.ChainLabel(env.ChainID()), mode).Add(float64(len(intent.Outputs)))
	s.logger.DebugWithChain(env.ChainID(), "Filled order %s (%s) for solver %s", orderID.Hex(), mode, solver.Hex())
	return orderID, nil
}

// checkCallback rejects callbacks the origin has not vouched for. A deposit
// callback must credit the originator, the one party the intent oracle
// authenticates.
func checkCallback(intent models.Intent, out models.Output) error {
	if len(out.Call) == 0 {
		return nil
	}
	if intent.Optimistic() {
		return ErrCallbackRequiresGate
	}
	call, err := contracts.UnpackEntrypointCall(out.Call)
	if err != nil || call.Method != contracts.MethodDepositFor {
		return nil
	}
	if call.Depositor != intent.Originator {
		return fmt.Errorf("%w: depositor %s, originator %s", ErrDepositorMismatch, call.Depositor.Hex(), intent.Originator.Hex())
	}
	return nil
}

// Receive rejects raw calls and stray value
func (s *OutputSettler) Receive(_ *chain.Env, _ []byte) error {
	return chain.ErrUnknownMethod
}
