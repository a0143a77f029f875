package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LiquidityNode returns a snapshot of the live node at a tick.
func (p *Pool) LiquidityNode(tick *big.Int) (NodeInfo, error) {
	key, err := keyForTick(tick)
	if err != nil {
		return NodeInfo{}, err
	}
	node := p.ledger.node(key)
	if node == nil || !node.linked {
		return NodeInfo{}, ErrInvalidTick
	}
	return node.info(), nil
}

// LiquidityNodes returns snapshots of the live nodes with ticks in
// [begin, end], sentinel included when begin is zero, in ascending order. A
// nil bound is open.
func (p *Pool) LiquidityNodes(begin, end *big.Int) []NodeInfo {
	infos := []NodeInfo{}
	sentinel := p.ledger.node(sentinelKey)
	if begin == nil || begin.Sign() == 0 {
		infos = append(infos, sentinel.info())
	}
	p.ledger.ascend(func(node *LiquidityNode) bool {
		if begin != nil && node.Tick.Cmp(begin) < 0 {
			return true
		}
		if end != nil && end.Sign() > 0 && node.Tick.Cmp(end) > 0 {
			return false
		}
		infos = append(infos, node.info())
		return true
	})
	return infos
}

// Deposits returns the caller's position at a tick.
func (p *Pool) Deposits(account common.Address, tick *big.Int) (Deposit, error) {
	key, err := keyForTick(tick)
	if err != nil {
		return Deposit{}, err
	}
	dep := p.deposits[depositKey{account, key}]
	if dep == nil {
		return Deposit{Shares: big.NewInt(0)}, nil
	}
	return Deposit{Shares: cloneBig(dep.Shares), RedemptionID: dep.RedemptionID}, nil
}

// Redemptions returns a redemption ticket's queued state.
func (p *Pool) Redemptions(account common.Address, tick *big.Int, redemptionID uint64) (Redemption, error) {
	key, err := keyForTick(tick)
	if err != nil {
		return Redemption{}, err
	}
	ticket := p.redemptions[redemptionKey{account, key, redemptionID}]
	if ticket == nil {
		return Redemption{}, ErrInvalidRedemptionStatus
	}
	return Redemption{
		Pending: cloneBig(ticket.Pending),
		Index:   ticket.Index,
		Target:  cloneBig(ticket.Target),
	}, nil
}

// RedemptionAvailable reports the shares and currency a ticket could claim
// through Withdraw right now, without mutating it.
func (p *Pool) RedemptionAvailable(account common.Address, tick *big.Int, redemptionID uint64) (*big.Int, *big.Int, error) {
	key, err := keyForTick(tick)
	if err != nil {
		return nil, nil, err
	}
	ticket := p.redemptions[redemptionKey{account, key, redemptionID}]
	if ticket == nil {
		return nil, nil, ErrInvalidRedemptionStatus
	}
	node := p.ledger.node(key)
	if node == nil {
		return nil, nil, ErrInvalidRedemptionStatus
	}
	shares, amount, _, _, _ := node.resolve(ticket)
	return shares, amount, nil
}

// Loans returns the status recorded for a receipt hash.
func (p *Pool) Loans(hash common.Hash) LoanStatus {
	return p.loans[hash]
}

// AdminFeeBalance returns the accrued, unwithdrawn admin fees.
func (p *Pool) AdminFeeBalance() *big.Int {
	return cloneBig(p.adminFeeBalance)
}
