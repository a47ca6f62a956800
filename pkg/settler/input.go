package settler

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
	"github.com/speedrun-hq/speedrun-settlement/pkg/logger"
	"github.com/speedrun-hq/speedrun-settlement/pkg/metrics"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
	"github.com/speedrun-hq/speedrun-settlement/pkg/oracle"
)

var statusPrefix = []byte("status")

// InputSettler escrows intents on their origin chain and releases the
// escrow to the solver once every output is attested, or back to the
// originator after expiry.
type InputSettler struct {
	address       common.Address
	trustedOpener common.Address
	logger        logger.Logger
}

// NewInputSettler creates the escrow at address. When trustedOpener is set
// only that account may open intents; otherwise the originator must open
// its own intent.
func NewInputSettler(address, trustedOpener common.Address, log logger.Logger) *InputSettler {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &InputSettler{address: address, trustedOpener: trustedOpener, logger: log}
}

// Address returns where the settler is deployed
func (s *InputSettler) Address() common.Address { return s.address }

func statusKey(orderID common.Hash) []byte {
	return append(append([]byte{}, statusPrefix...), orderID.Bytes()...)
}

// Status returns the lifecycle status of an order
func (s *InputSettler) Status(env *chain.Env, orderID common.Hash) models.OrderStatus {
	value, ok := env.GetState(s.address, statusKey(orderID))
	if !ok || len(value) != 1 {
		return models.StatusNone
	}
	return models.OrderStatus(value[0])
}

// transition moves an order from `from` to `to`, failing if the stored
// status is anything else
func (s *InputSettler) transition(env *chain.Env, orderID common.Hash, from, to models.OrderStatus) error {
	current := s.Status(env, orderID)
	if current != from || !models.CanTransition(from, to) {
		return fmt.Errorf("%w: order %s is %s, expected %s", ErrInvalidOrderStatus, orderID.Hex(), current, from)
	}
	env.SetState(s.address, statusKey(orderID), []byte{byte(to)})
	return nil
}

func (s *InputSettler) validate(env *chain.Env, intent models.Intent) error {
	if intent.Originator == (common.Address{}) {
		return ErrMissingOriginator
	}
	if intent.OriginChainID != env.ChainID() {
		return fmt.Errorf("%w: origin %d, chain %d", ErrWrongOriginChain, intent.OriginChainID, env.ChainID())
	}
	if intent.FillDeadline >= intent.Expires {
		return fmt.Errorf("%w: fill deadline %d, expires %d", ErrInvalidDeadlines, intent.FillDeadline, intent.Expires)
	}
	if intent.FillDeadline <= env.Now() {
		return fmt.Errorf("%w: fill deadline %d, now %d", ErrDeadlinePassed, intent.FillDeadline, env.Now())
	}
	if len(intent.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(intent.Outputs) == 0 {
		return ErrNoOutputs
	}
	for i, in := range intent.Inputs {
		if in.AssetID == nil || in.AssetID.Cmp(models.NativeAssetID) != 0 {
			return fmt.Errorf("%w: input %d", ErrUnsupportedAsset, i)
		}
		if in.Amount == nil || in.Amount.Sign() <= 0 {
			return fmt.Errorf("%w: input %d", ErrInvalidAmount, i)
		}
	}
	// a repeated output could never be filled twice, so the escrow would be stuck until expiry
	seen := make(map[common.Hash]struct{}, len(intent.Outputs))
	for i, out := range intent.Outputs {
		hash := models.OutputHash(out)
		if _, dup := seen[hash]; dup {
			return fmt.Errorf("%w: output %d", ErrDuplicateOutput, i)
		}
		seen[hash] = struct{}{}
	}
	switch intent.Refund.Kind {
	case models.RefundSimple:
	case models.RefundCustom:
		if intent.Refund.Target == (common.Address{}) {
			return fmt.Errorf("%w: custom refund without target", ErrInvalidRefund)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidRefund, intent.Refund.Kind)
	}
	return nil
}

// Open escrows the intent. The attached value must equal the input total.
func (s *InputSettler) Open(env *chain.Env, intent models.Intent) (common.Hash, error) {
	caller := env.Sender()
	if s.trustedOpener != (common.Address{}) {
		if caller != s.trustedOpener {
			return common.Hash{}, fmt.Errorf("%w: %s", ErrUnauthorizedOpener, caller.Hex())
		}
	} else if caller != intent.Originator {
		return common.Hash{}, fmt.Errorf("%w: %s is not the originator", ErrUnauthorizedOpener, caller.Hex())
	}

	if err := s.validate(env, intent); err != nil {
		return common.Hash{}, err
	}

	orderID, err := models.OrderID(intent)
	if err != nil {
		return common.Hash{}, err
	}

	// status moves before value is collected
	if err := s.transition(env, orderID, models.StatusNone, models.StatusDeposited); err != nil {
		return common.Hash{}, err
	}

	total := intent.InputTotal()
	switch env.Value().Cmp(total) {
	case -1:
		return common.Hash{}, fmt.Errorf("%w: got %s, need %s", ErrInsufficientValue, env.Value(), total)
	case 1:
		return common.Hash{}, fmt.Errorf("%w: got %s, need %s", ErrExcessValue, env.Value(), total)
	}

	env.Emit(Opened{OrderID: orderID, Intent: intent})
	metrics.IntentsOpened.WithLabelValues(metrics.ChainLabel(env.ChainID())).Inc()
	s.logger.DebugWithChain(env.ChainID(), "Opened order %s for %s", orderID.Hex(), total)
	return orderID, nil
}

// Finalise releases the escrow to destination once every output of the
// intent is attested as filled by the calling solver before the deadline.
// A zero destination pays the solver.
func (s *InputSettler) Finalise(env *chain.Env, intent models.Intent, params []models.SolveParams, destination common.Address) error {
	orderID, err := models.OrderID(intent)
	if err != nil {
		return err
	}
	if status := s.Status(env, orderID); status != models.StatusDeposited {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidOrderStatus, orderID.Hex(), status)
	}
	if env.Now() > intent.FillDeadline {
		return fmt.Errorf("%w: now %d, deadline %d", ErrFillDeadlinePassed, env.Now(), intent.FillDeadline)
	}
	if len(params) != len(intent.Outputs) {
		return fmt.Errorf("%w: %d outputs, %d params", ErrSolveParamsMismatch, len(intent.Outputs), len(params))
	}

	solver := params[0].Solver
	for i, p := range params {
		if p.Solver != solver {
			return fmt.Errorf("%w: output %d", ErrMultipleSolvers, i)
		}
		if p.Timestamp > intent.FillDeadline {
			return fmt.Errorf("%w: output %d filled at %d", ErrFilledAfterDeadline, i, p.Timestamp)
		}
	}
	if env.Sender() != solver {
		return fmt.Errorf("%w: %s", ErrNotSolver, env.Sender().Hex())
	}

	records := make([]oracle.Record, len(intent.Outputs))
	for i, out := range intent.Outputs {
		records[i] = oracle.Record{
			RemoteChainID: out.ChainID,
			RemoteOracle:  out.Oracle,
			Application:   out.Settler,
			DataHash:      models.FillPayloadHash(solver, orderID, params[i].Timestamp, models.OutputHash(out)),
		}
	}
	fillOracle, err := lookupOracle(env, intent.FillOracle)
	if err != nil {
		return err
	}
	if err := fillOracle.RequireProven(env, oracle.EncodeProofSeries(records)); err != nil {
		return fmt.Errorf("failed to prove fills of order %s: %w", orderID.Hex(), err)
	}

	if err := s.transition(env, orderID, models.StatusDeposited, models.StatusClaimed); err != nil {
		return err
	}

	if destination == (common.Address{}) {
		destination = solver
	}
	total := intent.InputTotal()
	if err := env.Call(destination, total, nil); err != nil {
		return s.payoutFailed(env, orderID, models.StatusClaimed, destination, total, "finalise", err)
	}

	env.Emit(Finalised{OrderID: orderID, Solver: solver, Destination: destination, Amount: total})
	metrics.IntentsFinalised.WithLabelValues(metrics.ChainLabel(env.ChainID())).Inc()
	s.logger.InfoWithChain(env.ChainID(), "Order %s claimed by %s", orderID.Hex(), solver.Hex())
	return nil
}

// Refund returns the escrow of an expired order through its refund route.
// Anyone may trigger it.
func (s *InputSettler) Refund(env *chain.Env, intent models.Intent) error {
	orderID, err := models.OrderID(intent)
	if err != nil {
		return err
	}
	if status := s.Status(env, orderID); status != models.StatusDeposited {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidOrderStatus, orderID.Hex(), status)
	}
	if env.Now() <= intent.Expires {
		return fmt.Errorf("%w: now %d, expires %d", ErrNotExpired, env.Now(), intent.Expires)
	}

	if err := s.transition(env, orderID, models.StatusDeposited, models.StatusRefunded); err != nil {
		return err
	}

	total := intent.InputTotal()
	target, payload := intent.Originator, []byte(nil)
	route := "simple"
	if intent.Refund.Kind == models.RefundCustom {
		target, payload = intent.Refund.Target, intent.Refund.Payload
		route = "custom"
	}
	if err := env.Call(target, total, payload); err != nil {
		return s.payoutFailed(env, orderID, models.StatusRefunded, target, total, "refund", err)
	}

	env.Emit(Refunded{OrderID: orderID, Kind: intent.Refund.Kind, Target: target, Amount: total})
	metrics.IntentsRefunded.WithLabelValues(metrics.ChainLabel(env.ChainID()), route).Inc()
	s.logger.InfoWithChain(env.ChainID(), "Order %s refunded to %s via %s route", orderID.Hex(), target.Hex(), route)
	return nil
}

// payoutFailed keeps the terminal status and reports the failed payout.
// The escrow stays with the settler.
func (s *InputSettler) payoutFailed(env *chain.Env, orderID common.Hash, status models.OrderStatus, target common.Address, amount *big.Int, op string, cause error) error {
	s.logger.ErrorWithChain(env.ChainID(), "PAYOUT FAILED: %s of order %s to %s for %s left the order %s: %v",
		op, orderID.Hex(), target.Hex(), amount, status, cause)
	metrics.PayoutFailures.WithLabelValues(metrics.ChainLabel(env.ChainID()), op).Inc()
	env.Emit(PayoutFailed{OrderID: orderID, Status: status, Target: target, Amount: amount, Reason: cause.Error()})
	return chain.KeepState(fmt.Errorf("%w: %s of order %s to %s: %v", ErrPayoutFailed, op, orderID.Hex(), target.Hex(), cause))
}

// Receive rejects raw calls and stray value
func (s *InputSettler) Receive(_ *chain.Env, _ []byte) error {
	return chain.ErrUnknownMethod
}

func lookupOracle(env *chain.Env, addr common.Address) (oracle.Oracle, error) {
	contract, ok := env.Contract(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOracleUnavailable, addr.Hex())
	}
	o, ok := contract.(oracle.Oracle)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOracleUnavailable, addr.Hex())
	}
	return o, nil
}

func encodeFillRecord(r models.FillRecord) []byte {
	out := make([]byte, common.AddressLength+8)
	copy(out, r.Solver.Bytes())
	binary.BigEndian.PutUint64(out[common.AddressLength:], r.Timestamp)
	return out
}

func decodeFillRecord(b []byte) (models.FillRecord, bool) {
	if len(b) != common.AddressLength+8 {
		return models.FillRecord{}, false
	}
	return models.FillRecord{
		Solver:    common.BytesToAddress(b[:common.AddressLength]),
		Timestamp: binary.BigEndian.Uint64(b[common.AddressLength:]),
	}, true
}
