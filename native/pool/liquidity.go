package pool

import (
	"math/big"
)

// Ledger is the sorted tick ledger. Live nodes form a circular doubly linked
// list anchored by a permanent sentinel at key zero; collected nodes stay in
// the map, unlinked, so their drain history keeps resolving outstanding
// redemption tickets.
type Ledger struct {
	nodes map[tickKey]*LiquidityNode
}

// NewLedger constructs a ledger holding only the sentinel.
func NewLedger() *Ledger {
	sentinel := newLiquidityNode(big.NewInt(0))
	sentinel.linked = true
	sentinel.prev = sentinelKey
	sentinel.next = sentinelKey
	return &Ledger{nodes: map[tickKey]*LiquidityNode{sentinelKey: sentinel}}
}

func (l *Ledger) node(key tickKey) *LiquidityNode {
	return l.nodes[key]
}

// nodeByTick returns the node for a tick, linked or not.
func (l *Ledger) nodeByTick(tick *big.Int) *LiquidityNode {
	key, err := keyForTick(tick)
	if err != nil {
		return nil
	}
	return l.nodes[key]
}

// ascend walks the live list in ascending tick order, sentinel excluded.
// Returning false stops the walk.
func (l *Ledger) ascend(fn func(*LiquidityNode) bool) {
	for key := l.nodes[sentinelKey].next; key != sentinelKey; {
		node := l.nodes[key]
		if !fn(node) {
			return
		}
		key = node.next
	}
}

// liveCount returns the number of linked nodes, sentinel excluded.
func (l *Ledger) liveCount() int {
	count := 0
	l.ascend(func(*LiquidityNode) bool {
		count++
		return true
	})
	return count
}

// placement locates the insertion neighbours for a key and verifies the
// spacing constraint against any neighbour sharing the tick's duration and
// rate class. It performs no mutation.
func (l *Ledger) placement(key tickKey, fields TickFields, spacingBps uint64) (prev tickKey, err error) {
	prev = sentinelKey
	for next := l.nodes[sentinelKey].next; next != sentinelKey; {
		cmp := compareKeys(next, key)
		if cmp >= 0 {
			if cmp == 0 {
				return prev, nil
			}
			break
		}
		prev = next
		next = l.nodes[next].next
	}
	if prev != sentinelKey {
		if err := l.checkSpacing(prev, fields, true, spacingBps); err != nil {
			return prev, err
		}
	}
	if next := l.neighbourAfter(prev); next != sentinelKey && next != key {
		if err := l.checkSpacing(next, fields, false, spacingBps); err != nil {
			return prev, err
		}
	}
	return prev, nil
}

func (l *Ledger) neighbourAfter(key tickKey) tickKey {
	return l.nodes[key].next
}

func (l *Ledger) checkSpacing(neighbourKey tickKey, fields TickFields, lower bool, spacingBps uint64) error {
	neighbour, err := DecodeTick(l.nodes[neighbourKey].Tick)
	if err != nil {
		return err
	}
	if neighbour.DurationIndex != fields.DurationIndex || neighbour.RateIndex != fields.RateIndex {
		return nil
	}
	if lower {
		if !spacingSatisfied(neighbour.Limit, fields.Limit, spacingBps) {
			return ErrInsufficientTickSpacing
		}
		return nil
	}
	if !spacingSatisfied(fields.Limit, neighbour.Limit, spacingBps) {
		return ErrInsufficientTickSpacing
	}
	return nil
}

// instantiate returns the linked node for a tick, creating or relinking it
// when absent. Spacing is enforced on every link.
func (l *Ledger) instantiate(tick *big.Int, fields TickFields, spacingBps uint64) (*LiquidityNode, error) {
	key, err := keyForTick(tick)
	if err != nil {
		return nil, err
	}
	if node := l.nodes[key]; node != nil && node.linked {
		return node, nil
	}
	prev, err := l.placement(key, fields, spacingBps)
	if err != nil {
		return nil, err
	}
	node := l.nodes[key]
	if node == nil {
		node = newLiquidityNode(tick)
		l.nodes[key] = node
	}
	l.link(node, key, prev)
	return node, nil
}

func (l *Ledger) link(node *LiquidityNode, key, prev tickKey) {
	next := l.nodes[prev].next
	node.prev = prev
	node.next = next
	l.nodes[prev].next = key
	l.nodes[next].prev = key
	node.linked = true
}

// collect unlinks a node once it holds no shares, no pending loans, and no
// queued redemptions. The node record is retained.
func (l *Ledger) collect(node *LiquidityNode) {
	if node == nil || !node.linked || !node.collectible() {
		return
	}
	key, err := keyForTick(node.Tick)
	if err != nil || key == sentinelKey {
		return
	}
	l.nodes[node.prev].next = node.next
	l.nodes[node.next].prev = node.prev
	node.prev = sentinelKey
	node.next = sentinelKey
	node.linked = false
}

// processRedemptions drains the node's queue against available cash at the
// current share price, recording one fulfillment epoch per batch. An
// insolvent node flushes its whole queue at a zero price so tickets can exit.
func (l *Ledger) processRedemptions(node *LiquidityNode) {
	if node == nil || node.Redemptions.Sign() == 0 || node.Shares.Sign() == 0 {
		return
	}
	var shares, amount *big.Int
	if node.Value.Sign() == 0 {
		shares = cloneBig(node.Redemptions)
		amount = big.NewInt(0)
	} else {
		if node.Available.Sign() == 0 {
			return
		}
		// Shares the available cash can satisfy at price value/shares.
		capacity := mulDiv(node.Available, node.Shares, node.Value)
		shares = minBig(cloneBig(node.Redemptions), capacity)
		if shares.Sign() == 0 {
			return
		}
		amount = mulDiv(shares, node.Value, node.Shares)
	}
	node.Fulfilled = append(node.Fulfilled, Fulfillment{Shares: cloneBig(shares), Amount: cloneBig(amount)})
	node.Shares = new(big.Int).Sub(node.Shares, shares)
	node.Redemptions = new(big.Int).Sub(node.Redemptions, shares)
	node.Value = new(big.Int).Sub(node.Value, amount)
	node.Available = new(big.Int).Sub(node.Available, amount)
	node.SharesRedeemed = new(big.Int).Add(node.SharesRedeemed, shares)
	node.Accrued = new(big.Int).Add(node.Accrued, amount)
	l.collect(node)
}

// resolve walks the fulfillment epochs from the ticket's position and returns
// the shares and currency the ticket can claim now, together with the
// ticket's advanced state. The ticket itself is not mutated.
func (n *LiquidityNode) resolve(ticket *Redemption) (shares, amount *big.Int, index uint64, target, pending *big.Int) {
	shares = big.NewInt(0)
	amount = big.NewInt(0)
	target = cloneBig(ticket.Target)
	pending = cloneBig(ticket.Pending)
	index = ticket.Index
	for index < n.index() && pending.Sign() > 0 {
		f := n.Fulfilled[index]
		if target.Cmp(f.Shares) >= 0 {
			target.Sub(target, f.Shares)
			index++
			continue
		}
		slice := new(big.Int).Sub(f.Shares, target)
		take := minBig(pending, slice)
		shares.Add(shares, take)
		amount.Add(amount, mulDiv(take, f.Amount, f.Shares))
		pending.Sub(pending, take)
		target.SetInt64(0)
		index++
	}
	return shares, amount, index, target, pending
}

func compareKeys(a, b tickKey) int {
	for i := 0; i < len(a); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}
