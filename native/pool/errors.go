package pool

import "errors"

var (
	ErrInvalidTick             = errors.New("pool: invalid tick")
	ErrInsufficientTickSpacing = errors.New("pool: insufficient tick spacing")
	ErrInactiveLiquidity       = errors.New("pool: inactive liquidity")
	ErrInvalidParameters       = errors.New("pool: invalid parameters")
	ErrInsufficientShares      = errors.New("pool: insufficient shares")
	ErrInsufficientLiquidity   = errors.New("pool: insufficient liquidity")
	ErrUnsupportedCollateral   = errors.New("pool: unsupported collateral")
	ErrUnsupportedLoanDuration = errors.New("pool: unsupported loan duration")
	ErrRepaymentTooHigh        = errors.New("pool: repayment too high")
	ErrInvalidCaller           = errors.New("pool: invalid caller")
	ErrInvalidLoanReceipt      = errors.New("pool: invalid loan receipt")
	ErrLoanNotExpired          = errors.New("pool: loan not expired")
	ErrInvalidRedemptionStatus = errors.New("pool: invalid redemption status")
	ErrReentrancy              = errors.New("pool: reentrancy")
)
