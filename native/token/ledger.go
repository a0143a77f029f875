package token

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errInsufficientBalance = errors.New("token: insufficient balance")
	errNotOwner            = errors.New("token: not the owner")
	errInvalidAmount       = errors.New("token: amount must be positive")
)

// Ledger is a process-local fungible token suitable for a single-operator
// deployment: the currency collaborator behind the pool. Transfer moves funds
// out of the holder account the ledger is bound to.
type Ledger struct {
	mu       sync.Mutex
	holder   common.Address
	balances map[common.Address]*big.Int
}

func NewLedger(holder common.Address) *Ledger {
	return &Ledger{holder: holder, balances: make(map[common.Address]*big.Int)}
}

// Mint credits an account, for bootstrapping balances.
func (l *Ledger) Mint(account common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] = new(big.Int).Add(l.balance(account), amount)
}

func (l *Ledger) balance(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return big.NewInt(0)
}

func (l *Ledger) TransferFrom(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance := l.balance(from)
	if fromBalance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	l.balances[from] = new(big.Int).Sub(fromBalance, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}

func (l *Ledger) Transfer(to common.Address, amount *big.Int) error {
	return l.TransferFrom(l.holder, to, amount)
}

func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(account))
}

// NFTLedger is a process-local NFT registry: the collateral collaborator
// behind the pool.
type NFTLedger struct {
	mu     sync.Mutex
	owners map[string]common.Address
}

func NewNFTLedger() *NFTLedger {
	return &NFTLedger{owners: make(map[string]common.Address)}
}

func nftKey(token common.Address, tokenID *big.Int) string {
	id := make([]byte, 32)
	if tokenID != nil && tokenID.Sign() >= 0 && tokenID.BitLen() <= 256 {
		tokenID.FillBytes(id)
	}
	return string(append(token.Bytes(), id...))
}

// Mint assigns an owner to a token id.
func (l *NFTLedger) Mint(token common.Address, tokenID *big.Int, owner common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners[nftKey(token, tokenID)] = owner
}

// OwnerOf returns the current owner of a token id.
func (l *NFTLedger) OwnerOf(token common.Address, tokenID *big.Int) (common.Address, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[nftKey(token, tokenID)]
	return owner, ok
}

func (l *NFTLedger) TransferFrom(token common.Address, from, to common.Address, tokenID *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := nftKey(token, tokenID)
	if l.owners[key] != from {
		return errNotOwner
	}
	l.owners[key] = to
	return nil
}

// Registry is a process-local delegation registry.
type Registry struct {
	mu        sync.Mutex
	delegates map[string]common.Address
}

func NewRegistry() *Registry {
	return &Registry{delegates: make(map[string]common.Address)}
}

func (r *Registry) SetDelegate(delegate, collateralToken common.Address, tokenID *big.Int, enable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := nftKey(collateralToken, tokenID)
	if enable {
		r.delegates[key] = delegate
		return nil
	}
	delete(r.delegates, key)
	return nil
}

// DelegateOf returns the delegate recorded for a token id.
func (r *Registry) DelegateOf(collateralToken common.Address, tokenID *big.Int) (common.Address, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delegate, ok := r.delegates[nftKey(collateralToken, tokenID)]
	return delegate, ok
}

// Liquidator is a minimal collateral liquidator collaborator: it takes
// custody of seized collateral and lets the operator report auction proceeds
// back through the pool's callback from its address.
type Liquidator struct {
	addr common.Address
}

func NewLiquidator(addr common.Address) *Liquidator {
	return &Liquidator{addr: addr}
}

func (l *Liquidator) Address() common.Address { return l.addr }

func (l *Liquidator) WithdrawCollateral(common.Address, *big.Int, []byte) error {
	return nil
}
