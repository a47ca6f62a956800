package settler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-settlement/pkg/models"
)

// Opened is emitted when an intent is escrowed
type Opened struct {
	OrderID common.Hash
	Intent  models.Intent
}

// Finalised is emitted when a solver claims an order
type Finalised struct {
	OrderID     common.Hash
	Solver      common.Address
	Destination common.Address
	Amount      *big.Int
}

// Refunded is emitted when an expired order returns its escrow
type Refunded struct {
	OrderID common.Hash
	Kind    models.RefundKind
	Target  common.Address
	Amount  *big.Int
}

// PayoutFailed is emitted when a terminal payout could not be delivered
type PayoutFailed struct {
	OrderID common.Hash
	Status  models.OrderStatus
	Target  common.Address
	Amount  *big.Int
	Reason  string
}

// OutputFilled is emitted for every delivered output
type OutputFilled struct {
	OrderID    common.Hash
	OutputHash common.Hash
	Index      int
	Solver     common.Address
	Timestamp  uint64
	Output     models.Output
	Intent     models.Intent
}
