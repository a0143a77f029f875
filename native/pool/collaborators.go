package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// The pool never owns token or delegation logic; it drives narrow collaborator
// contracts fixed at construction. A collaborator failure aborts the calling
// operation before any pool state is touched.

// CurrencyToken moves the pool's single fungible currency.
type CurrencyToken interface {
	TransferFrom(from, to common.Address, amount *big.Int) error
	Transfer(to common.Address, amount *big.Int) error
	BalanceOf(account common.Address) *big.Int
}

// CollateralToken moves NFT collateral in and out of pool custody.
type CollateralToken interface {
	TransferFrom(token common.Address, from, to common.Address, tokenID *big.Int) error
}

// CollateralWrapper resolves a wrapper token id into the underlying
// collateral bundle using the opaque context carried in the loan options.
type CollateralWrapper interface {
	Enumerate(tokenID *big.Int, context []byte) (common.Address, []*big.Int, error)
}

// CollateralLiquidator receives expired collateral and later reports the
// auction proceeds back through OnCollateralLiquidated.
type CollateralLiquidator interface {
	Address() common.Address
	WithdrawCollateral(collateralToken common.Address, tokenID *big.Int, receipt []byte) error
}

// DelegationRegistry attaches borrower permissions to locked collateral.
type DelegationRegistry interface {
	SetDelegate(delegate, collateralToken common.Address, tokenID *big.Int, enable bool) error
}

// Collaborators bundles the external contracts a pool is wired to. Currency
// and CollateralToken are mandatory; the rest are optional capabilities.
type Collaborators struct {
	Currency     CurrencyToken
	Collateral   CollateralToken
	Liquidator   CollateralLiquidator
	DelegationV1 DelegationRegistry
	DelegationV2 DelegationRegistry
	Wrappers     map[common.Address]CollateralWrapper
}
