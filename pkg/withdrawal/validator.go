package withdrawal

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/speedrun-hq/speedrun-settlement/pkg/chain"
)

// Validator runs the ordered withdrawal checks. The first failing check
// decides the error.
type Validator struct {
	pool     PrivacyPool
	verifier Verifier
	aspRoot  func(env *chain.Env) *uint256.Int
}

// NewValidator checks withdrawals against pool, using latestASPRoot for the
// association-set root
func NewValidator(pool PrivacyPool, verifier Verifier, latestASPRoot func(env *chain.Env) *uint256.Int) *Validator {
	return &Validator{pool: pool, verifier: verifier, aspRoot: latestASPRoot}
}

// Validate checks that proof authorizes w. It reads state only.
func (v *Validator) Validate(env *chain.Env, w Withdrawal, proof Proof) error {
	if w.Processor != env.Self() {
		return fmt.Errorf("%w: %s", ErrInvalidProcessor, w.Processor.Hex())
	}
	if err := proof.Signals.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignals, err)
	}
	s := proof.Signals

	if ContextHash(w, v.pool.Scope()).Cmp(s.Context()) != 0 {
		return ErrContextMismatch
	}

	maxDepth := uint256.NewInt(v.pool.MaxTreeDepth())
	if s.StateTreeDepth().Gt(maxDepth) || s.ASPTreeDepth().Gt(maxDepth) {
		return fmt.Errorf("%w: state %s, asp %s, max %d", ErrInvalidTreeDepth, s.StateTreeDepth().Dec(), s.ASPTreeDepth().Dec(), v.pool.MaxTreeDepth())
	}

	if !v.pool.IsKnownRoot(env, s.StateRoot()) {
		return fmt.Errorf("%w: %s", ErrUnknownStateRoot, s.StateRoot().Hex())
	}

	latest := v.aspRoot(env)
	if latest == nil || latest.IsZero() || latest.Cmp(s.ASPRoot()) != 0 {
		return fmt.Errorf("%w: %s", ErrIncorrectASPRoot, s.ASPRoot().Hex())
	}

	if v.pool.IsSpent(env, s.ExistingNullifierHash()) {
		return fmt.Errorf("%w: %s", ErrNullifierAlreadySpent, s.ExistingNullifierHash().Hex())
	}

	if s.RefundCommitmentHash().IsZero() {
		return ErrZeroRefundCommitment
	}

	if !v.verifier.VerifyProof(proof.PA, proof.PB, proof.PC, s.ToBig()) {
		return ErrInvalidProof
	}
	return nil
}
