package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	maxDurationClasses = 8
	maxRateClasses     = 8
	maxWrappers        = 3

	// impairedPriceDivisor sets the impairment threshold at limit/20.
	impairedPriceDivisor = 20

	// DefaultTickLimitSpacingBps is the minimum relative limit spacing
	// between neighbouring ticks of the same duration and rate class.
	DefaultTickLimitSpacingBps = 1_000

	// DefaultBorrowerSurplusSplitBps routes 95% of liquidation proceeds in
	// excess of the repayment back to the borrower.
	DefaultBorrowerSurplusSplitBps = 9_500
)

// Params fixes a pool's configuration. Everything except the admin fee rate
// and the fee share routing is immutable after construction.
type Params struct {
	// Admin may adjust the admin fee rate and withdraw accrued fees.
	Admin common.Address
	// Durations is the ascending loan duration table in seconds, at most 8
	// classes.
	Durations []uint64
	// Rates is the ascending per-second interest rate table in 18-decimal
	// fixed point, at most 8 classes.
	Rates []*big.Int
	// TickLimitSpacingBps is the minimum relative spacing between limits of
	// neighbouring ticks sharing a duration and rate class.
	TickLimitSpacingBps uint64
	// AdminFeeBps is the share of gross interest retained by the operator.
	AdminFeeBps uint64
	// FeeShareRecipient, when set, receives FeeShareSplitBps of each
	// realized admin fee immediately on repay.
	FeeShareRecipient common.Address
	FeeShareSplitBps  uint64
	// BorrowerSurplusSplitBps is the borrower's share of liquidation
	// proceeds above the full repayment.
	BorrowerSurplusSplitBps uint64
	// CollateralFilter restricts the collateral the pool accepts.
	CollateralFilter CollateralFilter
	// Wrappers enumerates the collateral wrapper contracts the pool trusts,
	// at most 3.
	Wrappers []common.Address
}

// Validate checks the structural constraints on the parameter set.
func (p *Params) Validate() error {
	if p == nil {
		return ErrInvalidParameters
	}
	if len(p.Durations) == 0 || len(p.Durations) > maxDurationClasses {
		return ErrInvalidParameters
	}
	for i := 1; i < len(p.Durations); i++ {
		if p.Durations[i] <= p.Durations[i-1] {
			return ErrInvalidParameters
		}
	}
	if len(p.Rates) == 0 || len(p.Rates) > maxRateClasses {
		return ErrInvalidParameters
	}
	for i, rate := range p.Rates {
		if rate == nil || rate.Sign() < 0 {
			return ErrInvalidParameters
		}
		if i > 0 && rate.Cmp(p.Rates[i-1]) <= 0 {
			return ErrInvalidParameters
		}
	}
	if len(p.Wrappers) > maxWrappers {
		return ErrInvalidParameters
	}
	if p.AdminFeeBps > 10_000 || p.FeeShareSplitBps > 10_000 || p.BorrowerSurplusSplitBps > 10_000 {
		return ErrInvalidParameters
	}
	return p.CollateralFilter.validate()
}

// Clone returns a deep copy of the parameter set.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Durations = append([]uint64(nil), p.Durations...)
	clone.Rates = make([]*big.Int, len(p.Rates))
	for i, rate := range p.Rates {
		clone.Rates[i] = cloneBig(rate)
	}
	clone.Wrappers = append([]common.Address(nil), p.Wrappers...)
	clone.CollateralFilter = p.CollateralFilter.clone()
	return &clone
}
