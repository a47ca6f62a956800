package models

// OrderStatus is the escrow lifecycle of an order on its origin chain
type OrderStatus uint8

const (
	StatusNone OrderStatus = iota
	StatusDeposited
	StatusClaimed
	StatusRefunded
)

// String renders the status for logs and the status API
func (s OrderStatus) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusDeposited:
		return "deposited"
	case StatusClaimed:
		return "claimed"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known status
func (s OrderStatus) Valid() bool {
	return s <= StatusRefunded
}

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool {
	return s == StatusClaimed || s == StatusRefunded
}

// CanTransition reports whether from → to is a legal lifecycle step
func CanTransition(from, to OrderStatus) bool {
	switch from {
	case StatusNone:
		return to == StatusDeposited
	case StatusDeposited:
		return to == StatusClaimed || to == StatusRefunded
	default:
		return false
	}
}
