package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LoanStatus tracks the lifecycle of a loan receipt hash. A non-none status
// implies the receipt was produced by this pool.
type LoanStatus uint8

const (
	LoanStatusNone LoanStatus = iota
	LoanStatusActive
	LoanStatusRepaid
	LoanStatusLiquidated
	LoanStatusCollateralLiquidated
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusNone:
		return "none"
	case LoanStatusActive:
		return "active"
	case LoanStatusRepaid:
		return "repaid"
	case LoanStatusLiquidated:
		return "liquidated"
	case LoanStatusCollateralLiquidated:
		return "collateral-liquidated"
	default:
		return "unknown"
	}
}

// Fulfillment records one drain epoch of a node's redemption queue: how many
// shares cleared and the currency they converted to at the share price in
// effect at the moment of draining.
type Fulfillment struct {
	Shares *big.Int
	Amount *big.Int
}

// LiquidityNode is the live ledger record for one tick.
type LiquidityNode struct {
	// Tick is the packed key; zero marks the permanent sentinel.
	Tick *big.Int
	// Value is the total currency attributed to the tick, unrealized
	// interest on pending loans included.
	Value *big.Int
	// Shares outstanding against Value. Shares queued for redemption stay
	// counted here until their drain epoch clears them.
	Shares *big.Int
	// Available is the currency immediately sourceable or drainable.
	Available *big.Int
	// Pending is the currency earmarked to active loans.
	Pending *big.Int
	// Redemptions is the share total currently queued for redemption.
	Redemptions *big.Int
	// SharesRedeemed and Accrued are cumulative drain counters, retained
	// after garbage collection. Tickets resolve through Fulfilled, not
	// through these counters.
	SharesRedeemed *big.Int
	Accrued        *big.Int
	// Fulfilled holds one entry per drain epoch since node creation; a
	// ticket's Index addresses into it.
	Fulfilled []Fulfillment

	prev, next tickKey
	linked     bool
}

func newLiquidityNode(tick *big.Int) *LiquidityNode {
	return &LiquidityNode{
		Tick:           cloneBig(tick),
		Value:          big.NewInt(0),
		Shares:         big.NewInt(0),
		Available:      big.NewInt(0),
		Pending:        big.NewInt(0),
		Redemptions:    big.NewInt(0),
		SharesRedeemed: big.NewInt(0),
		Accrued:        big.NewInt(0),
	}
}

// index returns the node's current drain epoch.
func (n *LiquidityNode) index() uint64 {
	return uint64(len(n.Fulfilled))
}

// impaired reports whether the share price has dropped below one-twentieth of
// the tick limit. Impairment is not recoverable through deposits.
func (n *LiquidityNode) impaired(limit *big.Int) bool {
	if n.Shares.Sign() == 0 {
		return false
	}
	// value * 1e18 / shares < limit / 20
	lhs := new(big.Int).Mul(n.Value, fixedPoint)
	lhs.Mul(lhs, big.NewInt(impairedPriceDivisor))
	rhs := new(big.Int).Mul(limit, n.Shares)
	return lhs.Cmp(rhs) < 0
}

// insolvent reports whether the node's value was written down to zero while
// shares remain.
func (n *LiquidityNode) insolvent() bool {
	return n.Shares.Sign() > 0 && n.Value.Sign() == 0
}

// collectible reports whether the node can be unlinked from the ledger.
func (n *LiquidityNode) collectible() bool {
	return n.Shares.Sign() == 0 && n.Pending.Sign() == 0 && n.Redemptions.Sign() == 0
}

// NodeInfo is a read-only snapshot of a live node.
type NodeInfo struct {
	Tick           *big.Int `json:"tick"`
	Value          *big.Int `json:"value"`
	Shares         *big.Int `json:"shares"`
	Available      *big.Int `json:"available"`
	Pending        *big.Int `json:"pending"`
	Redemptions    *big.Int `json:"redemptions"`
	SharesRedeemed *big.Int `json:"sharesRedeemed"`
	Accrued        *big.Int `json:"accrued"`
}

func (n *LiquidityNode) info() NodeInfo {
	return NodeInfo{
		Tick:           cloneBig(n.Tick),
		Value:          cloneBig(n.Value),
		Shares:         cloneBig(n.Shares),
		Available:      cloneBig(n.Available),
		Pending:        cloneBig(n.Pending),
		Redemptions:    cloneBig(n.Redemptions),
		SharesRedeemed: cloneBig(n.SharesRedeemed),
		Accrued:        cloneBig(n.Accrued),
	}
}

// Deposit is the per-(account, tick) position record.
type Deposit struct {
	Shares *big.Int
	// RedemptionID is the next ticket id this account will open against the
	// tick.
	RedemptionID uint64
}

// Redemption is a FIFO ticket against a node's queue.
type Redemption struct {
	// Pending is the share amount still queued from the original
	// redemption.
	Pending *big.Int
	// Index is the drain epoch the ticket resolves from: its entry epoch,
	// advanced on each partial withdrawal.
	Index uint64
	// Target is the share total queued ahead of the ticket at Index.
	Target *big.Int
}

type depositKey struct {
	account common.Address
	tick    tickKey
}

type redemptionKey struct {
	account common.Address
	tick    tickKey
	id      uint64
}

// Delegation remembers the delegate attached to locked collateral so repay,
// refinance and liquidation can issue the matching revoke.
type Delegation struct {
	Version  uint8
	Delegate common.Address
}
