package settler

import "github.com/speedrun-hq/speedrun-settlement/pkg/models"

var (
	ErrMissingOriginator     = models.NewError(models.KindMalformed, "settler: intent has no originator")
	ErrWrongOriginChain      = models.NewError(models.KindMalformed, "settler: intent does not originate on this chain")
	ErrWrongDestinationChain = models.NewError(models.KindMalformed, "settler: output does not target this chain")
	ErrWrongSettler          = models.NewError(models.KindMalformed, "settler: output names another settler")
	ErrInvalidDeadlines      = models.NewError(models.KindMalformed, "settler: fill deadline must precede expiry")
	ErrDeadlinePassed        = models.NewError(models.KindMalformed, "settler: fill deadline is not in the future")
	ErrNoInputs              = models.NewError(models.KindMalformed, "settler: intent has no inputs")
	ErrNoOutputs             = models.NewError(models.KindMalformed, "settler: intent has no outputs")
	ErrUnsupportedAsset      = models.NewError(models.KindMalformed, "settler: only the native asset is supported")
	ErrInvalidAmount         = models.NewError(models.KindMalformed, "settler: amounts must be positive")
	ErrInvalidRefund         = models.NewError(models.KindMalformed, "settler: refund route is invalid")
	ErrSolveParamsMismatch   = models.NewError(models.KindMalformed, "settler: one solve param is required per output")
	ErrMultipleSolvers       = models.NewError(models.KindMalformed, "settler: every output must be claimed by the same solver")
	ErrDeliveryFailed        = models.NewError(models.KindMalformed, "settler: delivery to recipient failed")
	ErrDuplicateOutput       = models.NewError(models.KindMalformed, "settler: intent repeats an output")

	ErrInvalidOrderStatus  = models.NewError(models.KindStateConflict, "settler: order is not in the required status")
	ErrFillDeadlinePassed  = models.NewError(models.KindStateConflict, "settler: fill deadline passed")
	ErrFilledAfterDeadline = models.NewError(models.KindStateConflict, "settler: output was filled after the fill deadline")
	ErrNotExpired          = models.NewError(models.KindStateConflict, "settler: order has not expired")
	ErrAlreadyFilled       = models.NewError(models.KindStateConflict, "settler: output already filled")
	ErrInsufficientValue   = models.NewError(models.KindStateConflict, "settler: attached value is below the required amount")
	ErrExcessValue         = models.NewError(models.KindStateConflict, "settler: attached value exceeds the required amount")

	ErrUnauthorizedOpener = models.NewError(models.KindAuthentication, "settler: caller may not open this intent")
	ErrNotSolver          = models.NewError(models.KindAuthentication, "settler: caller is not the solver")
	ErrOracleUnavailable  = models.NewError(models.KindAuthentication, "settler: no oracle deployed at the named address")
	ErrIntentNotProven    = models.NewError(models.KindAuthentication, "settler: intent is not attested on this chain")

	ErrCallbackRequiresGate = models.NewError(models.KindAuthentication, "settler: output callbacks require an oracle-gated intent")
	ErrDepositorMismatch    = models.NewError(models.KindAuthentication, "settler: deposit callback names a depositor other than the originator")

	ErrPayoutFailed = models.NewError(models.KindTerminalPayout, "settler: payout failed after the order reached a terminal state")
)
