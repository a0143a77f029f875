package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is the lending engine. Every public operation runs to completion under
// the caller's serialization; a per-pool guard rejects reentry from
// collaborator callbacks. Operations validate, then call collaborators, then
// apply state, so a failure at any stage leaves the ledger untouched.
type Pool struct {
	address common.Address
	params  *Params
	collab  Collaborators

	ledger          *Ledger
	deposits        map[depositKey]*Deposit
	redemptions     map[redemptionKey]*Redemption
	loans           map[common.Hash]LoanStatus
	delegations     map[string]Delegation
	adminFeeBalance *big.Int

	timestamp uint64
	locked    bool
}

// NewPool constructs a pool bound to its custody address, parameter set, and
// collaborators.
func NewPool(address common.Address, params *Params, collab Collaborators) (*Pool, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if collab.Currency == nil || collab.Collateral == nil {
		return nil, ErrInvalidParameters
	}
	if collab.Wrappers == nil {
		collab.Wrappers = make(map[common.Address]CollateralWrapper)
	}
	return &Pool{
		address:         address,
		params:          params.Clone(),
		collab:          collab,
		ledger:          NewLedger(),
		deposits:        make(map[depositKey]*Deposit),
		redemptions:     make(map[redemptionKey]*Redemption),
		loans:           make(map[common.Hash]LoanStatus),
		delegations:     make(map[string]Delegation),
		adminFeeBalance: big.NewInt(0),
	}, nil
}

// Address returns the pool's custody address.
func (p *Pool) Address() common.Address { return p.address }

// Params returns a copy of the pool's parameter set.
func (p *Pool) Params() *Params { return p.params.Clone() }

// SetTimestamp fixes the timestamp the next operations observe. Time is read
// exactly once per operation and treated as a constant within it.
func (p *Pool) SetTimestamp(ts uint64) { p.timestamp = ts }

// Timestamp returns the currently pinned operation timestamp.
func (p *Pool) Timestamp() uint64 { return p.timestamp }

func (p *Pool) enter() error {
	if p.locked {
		return ErrReentrancy
	}
	p.locked = true
	return nil
}

func (p *Pool) exit() { p.locked = false }

// Deposit contributes currency into a tick and mints shares at the node's
// current share price. Impaired and insolvent nodes refuse new deposits.
func (p *Pool) Deposit(caller common.Address, tick, amount, minShares *big.Int) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidParameters
	}
	fields, err := validateTick(tick, len(p.params.Durations), len(p.params.Rates))
	if err != nil {
		return nil, err
	}
	key, err := keyForTick(tick)
	if err != nil {
		return nil, err
	}

	sharesOut := cloneBig(amount)
	node := p.ledger.node(key)
	if node != nil && node.linked {
		if node.insolvent() || node.impaired(fields.Limit) {
			return nil, ErrInactiveLiquidity
		}
		if node.Shares.Sign() > 0 {
			sharesOut = mulDiv(amount, node.Shares, node.Value)
		}
	} else {
		if _, err := p.ledger.placement(key, fields, p.params.TickLimitSpacingBps); err != nil {
			return nil, err
		}
	}
	if sharesOut.Sign() == 0 || (minShares != nil && sharesOut.Cmp(minShares) < 0) {
		return nil, ErrInsufficientShares
	}

	if err := p.collab.Currency.TransferFrom(caller, p.address, amount); err != nil {
		return nil, fmt.Errorf("pool: currency transfer: %w", err)
	}

	node, err = p.ledger.instantiate(tick, fields, p.params.TickLimitSpacingBps)
	if err != nil {
		return nil, err
	}
	node.Shares = new(big.Int).Add(node.Shares, sharesOut)
	node.Value = new(big.Int).Add(node.Value, amount)
	node.Available = new(big.Int).Add(node.Available, amount)

	dep := p.deposits[depositKey{caller, key}]
	if dep == nil {
		dep = &Deposit{Shares: big.NewInt(0)}
		p.deposits[depositKey{caller, key}] = dep
	}
	dep.Shares = new(big.Int).Add(dep.Shares, sharesOut)

	p.ledger.processRedemptions(node)
	return sharesOut, nil
}

// Redeem queues shares for redemption and returns the ticket id. Whatever the
// node's available cash can satisfy drains immediately; the rest waits in
// FIFO order for repayments or deposits.
func (p *Pool) Redeem(caller common.Address, tick, shares *big.Int) (uint64, error) {
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.exit()

	if shares == nil || shares.Sign() <= 0 {
		return 0, ErrInvalidParameters
	}
	key, err := keyForTick(tick)
	if err != nil {
		return 0, err
	}
	dep := p.deposits[depositKey{caller, key}]
	if dep == nil || dep.Shares.Cmp(shares) < 0 {
		return 0, ErrInsufficientShares
	}
	node := p.ledger.node(key)
	if node == nil || !node.linked {
		return 0, ErrInsufficientShares
	}

	dep.Shares = new(big.Int).Sub(dep.Shares, shares)
	id := dep.RedemptionID
	dep.RedemptionID++
	p.redemptions[redemptionKey{caller, key, id}] = &Redemption{
		Pending: cloneBig(shares),
		Index:   node.index(),
		Target:  cloneBig(node.Redemptions),
	}
	node.Redemptions = new(big.Int).Add(node.Redemptions, shares)
	p.ledger.processRedemptions(node)
	return id, nil
}

// Withdraw claims whatever a redemption ticket has drained so far. The ticket
// is destroyed once its full share amount has been claimed.
func (p *Pool) Withdraw(caller common.Address, tick *big.Int, redemptionID uint64) (*big.Int, *big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, nil, err
	}
	defer p.exit()
	return p.withdrawLocked(caller, tick, redemptionID)
}

func (p *Pool) withdrawLocked(caller common.Address, tick *big.Int, redemptionID uint64) (*big.Int, *big.Int, error) {
	key, err := keyForTick(tick)
	if err != nil {
		return nil, nil, err
	}
	rkey := redemptionKey{caller, key, redemptionID}
	ticket := p.redemptions[rkey]
	if ticket == nil {
		return nil, nil, ErrInvalidRedemptionStatus
	}
	node := p.ledger.node(key)
	if node == nil {
		return nil, nil, ErrInvalidRedemptionStatus
	}
	shares, amount, index, target, pending := node.resolve(ticket)

	if amount.Sign() > 0 {
		if err := p.collab.Currency.Transfer(caller, amount); err != nil {
			return nil, nil, fmt.Errorf("pool: currency transfer: %w", err)
		}
	}

	if pending.Sign() == 0 {
		delete(p.redemptions, rkey)
	} else {
		ticket.Index = index
		ticket.Target = target
		ticket.Pending = pending
	}
	p.ledger.collect(node)
	return shares, amount, nil
}

// Rebalance atomically withdraws a drained ticket and redeposits the proceeds
// into another tick.
func (p *Pool) Rebalance(caller common.Address, srcTick, dstTick *big.Int, redemptionID uint64, minShares *big.Int) (*big.Int, *big.Int, *big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, nil, nil, err
	}
	defer p.exit()

	srcKey, err := keyForTick(srcTick)
	if err != nil {
		return nil, nil, nil, err
	}
	rkey := redemptionKey{caller, srcKey, redemptionID}
	ticket := p.redemptions[rkey]
	if ticket == nil {
		return nil, nil, nil, ErrInvalidRedemptionStatus
	}
	srcNode := p.ledger.node(srcKey)
	if srcNode == nil {
		return nil, nil, nil, ErrInvalidRedemptionStatus
	}
	shares, amount, index, target, pending := srcNode.resolve(ticket)

	dstFields, err := validateTick(dstTick, len(p.params.Durations), len(p.params.Rates))
	if err != nil {
		return nil, nil, nil, err
	}
	dstKey, err := keyForTick(dstTick)
	if err != nil {
		return nil, nil, nil, err
	}
	sharesOut := cloneBig(amount)
	dstNode := p.ledger.node(dstKey)
	if dstNode != nil && dstNode.linked {
		if dstNode.insolvent() || dstNode.impaired(dstFields.Limit) {
			return nil, nil, nil, ErrInactiveLiquidity
		}
		if dstNode.Shares.Sign() > 0 {
			sharesOut = mulDiv(amount, dstNode.Shares, dstNode.Value)
		}
	} else {
		if _, err := p.ledger.placement(dstKey, dstFields, p.params.TickLimitSpacingBps); err != nil {
			return nil, nil, nil, err
		}
	}
	if sharesOut.Sign() == 0 || (minShares != nil && sharesOut.Cmp(minShares) < 0) {
		return nil, nil, nil, ErrInsufficientShares
	}

	// Withdraw side.
	if pending.Sign() == 0 {
		delete(p.redemptions, rkey)
	} else {
		ticket.Index = index
		ticket.Target = target
		ticket.Pending = pending
	}
	p.ledger.collect(srcNode)

	// Deposit side. The placement was verified above, so instantiation
	// cannot fail.
	dstNode, err = p.ledger.instantiate(dstTick, dstFields, p.params.TickLimitSpacingBps)
	if err != nil {
		return nil, nil, nil, err
	}
	dstNode.Shares = new(big.Int).Add(dstNode.Shares, sharesOut)
	dstNode.Value = new(big.Int).Add(dstNode.Value, amount)
	dstNode.Available = new(big.Int).Add(dstNode.Available, amount)

	dep := p.deposits[depositKey{caller, dstKey}]
	if dep == nil {
		dep = &Deposit{Shares: big.NewInt(0)}
		p.deposits[depositKey{caller, dstKey}] = dep
	}
	dep.Shares = new(big.Int).Add(dep.Shares, sharesOut)

	p.ledger.processRedemptions(dstNode)
	return shares, amount, sharesOut, nil
}
