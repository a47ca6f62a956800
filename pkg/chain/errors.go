package chain

import "errors"

var (
	ErrInsufficientBalance = errors.New("chain: insufficient balance")
	ErrNegativeValue       = errors.New("chain: negative value")
	ErrNoContract          = errors.New("chain: calldata sent to an address without a contract")
	ErrCallDepth           = errors.New("chain: max call depth exceeded")
	ErrContractExists      = errors.New("chain: contract already registered")
	ErrUnknownMethod       = errors.New("chain: unknown method")
)

// keepStateError marks an error after which the state reached so far is kept
type keepStateError struct {
	err error
}

func (k *keepStateError) Error() string { return k.err.Error() }
func (k *keepStateError) Unwrap() error { return k.err }

// KeepState wraps err so the enclosing call commits its state changes and
// still reports err. Used when a state transition must survive a failed
// external effect.
func KeepState(err error) error {
	if err == nil {
		return nil
	}
	return &keepStateError{err: err}
}

// StateKept reports whether err was wrapped with KeepState
func StateKept(err error) bool {
	var keep *keepStateError
	return errors.As(err, &keep)
}
