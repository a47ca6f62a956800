package withdrawal

import (
	"errors"

	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// Validation failures, in the order they are checked
var (
	ErrInvalidProcessor      = models.NewError(models.KindAuthentication, "withdrawal: processor is not this entrypoint")
	ErrMalformedSignals      = models.NewError(models.KindMalformed, "withdrawal: public signals are missing or outside the field")
	ErrContextMismatch       = models.NewError(models.KindMalformed, "withdrawal: context does not match withdrawal and scope")
	ErrInvalidTreeDepth      = models.NewError(models.KindMalformed, "withdrawal: tree depth exceeds maximum")
	ErrUnknownStateRoot      = models.NewError(models.KindStateConflict, "withdrawal: state root is unknown")
	ErrIncorrectASPRoot      = models.NewError(models.KindStateConflict, "withdrawal: association root is not the latest")
	ErrNullifierAlreadySpent = models.NewError(models.KindStateConflict, "withdrawal: nullifier already spent")
	ErrZeroRefundCommitment  = models.NewError(models.KindMalformed, "withdrawal: refund commitment is zero")
	ErrInvalidProof          = models.NewError(models.KindAuthentication, "withdrawal: proof does not verify")
)

var (
	ErrInvalidRelayData     = models.NewError(models.KindMalformed, "withdrawal: relay data is invalid")
	ErrRelayFeeTooHigh      = models.NewError(models.KindEconomicPolicy, "withdrawal: relay fee exceeds cap")
	ErrSolverFeeTooHigh     = models.NewError(models.KindEconomicPolicy, "withdrawal: solver fee exceeds cap")
	ErrNoNetAmount          = models.NewError(models.KindEconomicPolicy, "withdrawal: fees consume the whole amount")
	ErrBelowMinimum         = models.NewError(models.KindEconomicPolicy, "withdrawal: amount below minimum")
	ErrUnauthorizedCallback = models.NewError(models.KindAuthentication, "withdrawal: caller may not invoke this callback")
	ErrUnauthorizedPostman  = models.NewError(models.KindAuthentication, "withdrawal: caller may not update the association root")
	ErrInvalidRoot          = models.NewError(models.KindMalformed, "withdrawal: association root must be a non-zero field element")
	ErrNoSettler            = models.NewError(models.KindMalformed, "withdrawal: no input settler deployed")
)

// rejectionReason labels a validation failure for metrics
func rejectionReason(err error) string {
	reasons := []struct {
		err    error
		reason string
	}{
		{ErrInvalidProcessor, "invalid_processor"},
		{ErrMalformedSignals, "malformed_signals"},
		{ErrContextMismatch, "context_mismatch"},
		{ErrInvalidTreeDepth, "invalid_tree_depth"},
		{ErrUnknownStateRoot, "unknown_state_root"},
		{ErrIncorrectASPRoot, "incorrect_asp_root"},
		{ErrNullifierAlreadySpent, "nullifier_spent"},
		{ErrZeroRefundCommitment, "zero_refund_commitment"},
		{ErrInvalidProof, "invalid_proof"},
		{ErrInvalidRelayData, "invalid_relay_data"},
		{ErrBelowMinimum, "below_minimum"},
		{ErrRelayFeeTooHigh, "relay_fee_cap"},
		{ErrSolverFeeTooHigh, "solver_fee_cap"},
		{ErrNoNetAmount, "no_net_amount"},
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
