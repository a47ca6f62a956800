package models

import "errors"

// ErrorKind groups protocol failures by how a caller should react
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindMalformed covers bad input: wrong chain, bad deadlines, unsupported assets
	KindMalformed
	// KindStateConflict covers wrong status, duplicate fills and timing violations
	KindStateConflict
	// KindAuthentication covers wrong callers and failed attestations or proofs
	KindAuthentication
	// KindEconomicPolicy covers fees above caps and amounts below minimums
	KindEconomicPolicy
	// KindTerminalPayout is a payout that failed after the order reached a terminal state
	KindTerminalPayout
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindStateConflict:
		return "state_conflict"
	case KindAuthentication:
		return "authentication"
	case KindEconomicPolicy:
		return "economic_policy"
	case KindTerminalPayout:
		return "terminal_payout"
	default:
		return "unknown"
	}
}

// Error is a protocol sentinel error carrying its kind
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

// NewError declares a sentinel of the given kind
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// KindOf returns the kind of the first protocol error in err's chain
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether an error of kind may succeed on a later
// attempt. Protocol rejections are final; only unclassified failures, such
// as storage errors, are worth retrying.
func IsRetryable(kind ErrorKind) bool {
	return kind == KindUnknown
}
