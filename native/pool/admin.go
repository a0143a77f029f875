package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SetAdminFee adjusts the admin fee rate applied to subsequent loans.
func (p *Pool) SetAdminFee(caller common.Address, bps uint64) error {
	if caller != p.params.Admin {
		return ErrInvalidCaller
	}
	if bps > 10_000 {
		return ErrInvalidParameters
	}
	p.params.AdminFeeBps = bps
	return nil
}

// SetFeeShare reroutes the admin fee split paid out on each repay. A zero
// recipient disables the split.
func (p *Pool) SetFeeShare(caller, recipient common.Address, splitBps uint64) error {
	if caller != p.params.Admin {
		return ErrInvalidCaller
	}
	if splitBps > 10_000 {
		return ErrInvalidParameters
	}
	p.params.FeeShareRecipient = recipient
	p.params.FeeShareSplitBps = splitBps
	return nil
}

// WithdrawAdminFees transfers accrued admin fees to the recipient.
func (p *Pool) WithdrawAdminFees(caller, recipient common.Address, amount *big.Int) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if caller != p.params.Admin {
		return ErrInvalidCaller
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(p.adminFeeBalance) > 0 {
		return ErrInvalidParameters
	}
	if err := p.collab.Currency.Transfer(recipient, amount); err != nil {
		return fmt.Errorf("pool: currency transfer: %w", err)
	}
	p.adminFeeBalance = new(big.Int).Sub(p.adminFeeBalance, amount)
	return nil
}
