package pool

import (
	"math/big"
)

// sourcedNode captures one tick's contribution to a loan.
type sourcedNode struct {
	tick   *big.Int
	fields TickFields
	node   *LiquidityNode
	used   *big.Int
}

// durationIndexFor selects the smallest duration class covering the requested
// duration.
func (p *Pool) durationIndexFor(duration uint64) (int, error) {
	if duration == 0 {
		return 0, ErrUnsupportedLoanDuration
	}
	for i, class := range p.params.Durations {
		if class >= duration {
			return i, nil
		}
	}
	return 0, ErrUnsupportedLoanDuration
}

// sourceLiquidity walks the caller-supplied tick list in order and consumes
// available liquidity under the weighted-limit constraint. Ticks must be
// strictly ascending, carry a duration class at least the loan's, and a rate
// class that never decreases along the list. The walk fails when the list
// cannot cover the principal.
func (p *Pool) sourceLiquidity(principal, multiplier *big.Int, durationIndex int, ticks []*big.Int) ([]sourcedNode, error) {
	taken := big.NewInt(0)
	sourced := make([]sourcedNode, 0, len(ticks))
	var prevTick *big.Int
	prevRate := -1
	for _, tick := range ticks {
		if prevTick != nil && tick.Cmp(prevTick) <= 0 {
			return nil, ErrInvalidTick
		}
		prevTick = tick
		fields, err := validateTick(tick, len(p.params.Durations), len(p.params.Rates))
		if err != nil {
			return nil, err
		}
		if int(fields.DurationIndex) < durationIndex {
			return nil, ErrInvalidTick
		}
		if int(fields.RateIndex) < prevRate {
			return nil, ErrInvalidTick
		}
		prevRate = int(fields.RateIndex)
		if taken.Cmp(principal) == 0 {
			break
		}
		node := p.ledger.nodeByTick(tick)
		if node == nil || !node.linked {
			continue
		}
		ceiling := new(big.Int).Mul(fields.Limit, multiplier)
		ceiling.Sub(ceiling, taken)
		if ceiling.Sign() <= 0 {
			continue
		}
		remaining := new(big.Int).Sub(principal, taken)
		used := minBig(minBig(ceiling, node.Available), remaining)
		if used.Sign() <= 0 {
			continue
		}
		sourced = append(sourced, sourcedNode{
			tick:   cloneBig(tick),
			fields: fields,
			node:   node,
			used:   cloneBig(used),
		})
		taken.Add(taken, used)
	}
	if taken.Cmp(principal) != 0 {
		return nil, ErrInsufficientLiquidity
	}
	return sourced, nil
}

// weightedRate computes the used-weighted per-second rate across the sourced
// nodes.
func (p *Pool) weightedRate(sourced []sourcedNode, principal *big.Int) *big.Int {
	weighted := big.NewInt(0)
	for _, s := range sourced {
		weighted.Add(weighted, new(big.Int).Mul(s.used, p.params.Rates[s.fields.RateIndex]))
	}
	return weighted.Quo(weighted, principal)
}

// repaymentFor prices a loan: principal plus simple interest at the weighted
// per-second rate over the full duration.
func repaymentFor(principal, rate *big.Int, duration uint64) *big.Int {
	interest := new(big.Int).Mul(principal, rate)
	interest.Mul(interest, new(big.Int).SetUint64(duration))
	interest.Quo(interest, fixedPoint)
	return interest.Add(interest, principal)
}
