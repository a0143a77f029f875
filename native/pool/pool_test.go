package pool

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testPoolAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAdmin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testLender1    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testLender2    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testLender3    = common.HexToAddress("0x0000000000000000000000000000000000000003")
	testBorrower   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	testLiquidator = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testNFT        = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testDelegate   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func unit(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedPoint)
}

// milli returns n/1000 units.
func milli(n int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), fixedPoint)
	return v.Quo(v, big.NewInt(1000))
}

type mockCurrency struct {
	balances map[common.Address]*big.Int
	poolAddr common.Address
	// hook runs before every transfer, for failure injection and
	// reentrancy probes.
	hook func() error
}

func newMockCurrency(poolAddr common.Address) *mockCurrency {
	return &mockCurrency{balances: make(map[common.Address]*big.Int), poolAddr: poolAddr}
}

func (m *mockCurrency) mint(account common.Address, amount *big.Int) {
	m.balances[account] = new(big.Int).Add(m.balanceOf(account), amount)
}

func (m *mockCurrency) balanceOf(account common.Address) *big.Int {
	if b, ok := m.balances[account]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockCurrency) TransferFrom(from, to common.Address, amount *big.Int) error {
	if m.hook != nil {
		if err := m.hook(); err != nil {
			return err
		}
	}
	if m.balanceOf(from).Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(m.balanceOf(from), amount)
	m.balances[to] = new(big.Int).Add(m.balanceOf(to), amount)
	return nil
}

func (m *mockCurrency) Transfer(to common.Address, amount *big.Int) error {
	return m.TransferFrom(m.poolAddr, to, amount)
}

func (m *mockCurrency) BalanceOf(account common.Address) *big.Int {
	return new(big.Int).Set(m.balanceOf(account))
}

type mockNFT struct {
	owners map[string]common.Address
}

func newMockNFT() *mockNFT {
	return &mockNFT{owners: make(map[string]common.Address)}
}

func nftTestKey(token common.Address, id *big.Int) string {
	return token.Hex() + "/" + id.String()
}

func (m *mockNFT) mint(token common.Address, id *big.Int, owner common.Address) {
	m.owners[nftTestKey(token, id)] = owner
}

func (m *mockNFT) ownerOf(token common.Address, id *big.Int) common.Address {
	return m.owners[nftTestKey(token, id)]
}

func (m *mockNFT) TransferFrom(token common.Address, from, to common.Address, id *big.Int) error {
	key := nftTestKey(token, id)
	if m.owners[key] != from {
		return errors.New("not the owner")
	}
	m.owners[key] = to
	return nil
}

type mockRegistry struct {
	delegates map[string]common.Address
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{delegates: make(map[string]common.Address)}
}

func (m *mockRegistry) SetDelegate(delegate, token common.Address, id *big.Int, enable bool) error {
	key := nftTestKey(token, id)
	if enable {
		m.delegates[key] = delegate
		return nil
	}
	delete(m.delegates, key)
	return nil
}

type mockLiquidator struct {
	addr      common.Address
	withdrawn int
}

func (m *mockLiquidator) Address() common.Address { return m.addr }

func (m *mockLiquidator) WithdrawCollateral(common.Address, *big.Int, []byte) error {
	m.withdrawn++
	return nil
}

type testFixture struct {
	pool       *Pool
	currency   *mockCurrency
	nft        *mockNFT
	registryV1 *mockRegistry
	registryV2 *mockRegistry
	liquidator *mockLiquidator
}

func testParams() *Params {
	annual := func(bps int64) *big.Int {
		rate := new(big.Int).Mul(big.NewInt(bps), fixedPoint)
		rate.Quo(rate, basisPoints)
		return NormalizeRate(rate)
	}
	return &Params{
		Admin:                   testAdmin,
		Durations:               []uint64{7 * 86400, 14 * 86400, 30 * 86400},
		Rates:                   []*big.Int{annual(1000), annual(3000), annual(5000)},
		TickLimitSpacingBps:     DefaultTickLimitSpacingBps,
		BorrowerSurplusSplitBps: DefaultBorrowerSurplusSplitBps,
		CollateralFilter:        CollateralFilter{Kind: FilterSingleCollection, Token: testNFT},
	}
}

func newTestFixture(t testing.TB, mutate func(*Params)) *testFixture {
	t.Helper()
	params := testParams()
	if mutate != nil {
		mutate(params)
	}
	currency := newMockCurrency(testPoolAddr)
	nft := newMockNFT()
	registryV1 := newMockRegistry()
	registryV2 := newMockRegistry()
	liquidator := &mockLiquidator{addr: testLiquidator}
	p, err := NewPool(testPoolAddr, params, Collaborators{
		Currency:     currency,
		Collateral:   nft,
		Liquidator:   liquidator,
		DelegationV1: registryV1,
		DelegationV2: registryV2,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.SetTimestamp(1_000_000)
	for _, account := range []common.Address{testLender1, testLender2, testLender3, testBorrower, testLiquidator} {
		currency.mint(account, unit(1_000))
	}
	return &testFixture{
		pool:       p,
		currency:   currency,
		nft:        nft,
		registryV1: registryV1,
		registryV2: registryV2,
		liquidator: liquidator,
	}
}

func mustTick(t testing.TB, limit *big.Int, duration, rate uint8) *big.Int {
	t.Helper()
	tick, err := EncodeTick(limit, duration, rate, 0)
	if err != nil {
		t.Fatalf("EncodeTick: %v", err)
	}
	return tick
}

// checkInvariants asserts the structural ledger invariants that must hold in
// every reachable state.
func checkInvariants(t *testing.T, p *Pool) {
	t.Helper()
	var prev *big.Int
	p.ledger.ascend(func(node *LiquidityNode) bool {
		if node.Value.Cmp(node.Available) < 0 {
			t.Fatalf("tick %s: value %s < available %s", node.Tick, node.Value, node.Available)
		}
		if node.Value.Cmp(node.Pending) < 0 {
			t.Fatalf("tick %s: value %s < pending %s", node.Tick, node.Value, node.Pending)
		}
		if prev != nil && node.Tick.Cmp(prev) <= 0 {
			t.Fatalf("ledger order violated at tick %s", node.Tick)
		}
		if node.collectible() {
			t.Fatalf("tick %s: collectible node still linked", node.Tick)
		}
		prev = node.Tick
		return true
	})
}

func TestDepositRedeemWithdrawRoundTrip(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	tick := mustTick(t, unit(10), 0, 0)

	shares, err := p.Deposit(testLender1, tick, unit(1), nil)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(unit(1)) != 0 {
		t.Fatalf("shares = %s, want 1 unit", shares)
	}
	if got := fix.currency.balanceOf(testPoolAddr); got.Cmp(unit(1)) != 0 {
		t.Fatalf("pool balance = %s", got)
	}
	checkInvariants(t, p)

	id, err := p.Redeem(testLender1, tick, unit(1))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if id != 0 {
		t.Fatalf("redemption id = %d, want 0", id)
	}
	sharesOut, amount, err := p.Withdraw(testLender1, tick, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if sharesOut.Cmp(unit(1)) != 0 || amount.Cmp(unit(1)) != 0 {
		t.Fatalf("withdraw = (%s, %s), want (1, 1)", sharesOut, amount)
	}
	if got := fix.currency.balanceOf(testLender1); got.Cmp(unit(1_000)) != 0 {
		t.Fatalf("lender balance = %s, want restored", got)
	}
	// The node must be garbage collected: only the sentinel remains.
	if count := p.ledger.liveCount(); count != 0 {
		t.Fatalf("live nodes = %d, want 0", count)
	}
	if infos := p.LiquidityNodes(nil, nil); len(infos) != 1 || infos[0].Tick.Sign() != 0 {
		t.Fatalf("LiquidityNodes should return only the sentinel, got %d", len(infos))
	}
	// A second withdraw of the destroyed ticket must fail.
	if _, _, err := p.Withdraw(testLender1, tick, id); !errors.Is(err, ErrInvalidRedemptionStatus) {
		t.Fatalf("withdraw destroyed ticket: err = %v", err)
	}
}

func TestDepositValidation(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool

	if _, err := p.Deposit(testLender1, mustTick(t, unit(10), 0, 0), big.NewInt(0), nil); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("zero amount: err = %v", err)
	}
	badDuration, _ := EncodeTick(unit(10), 5, 0, 0)
	if _, err := p.Deposit(testLender1, badDuration, unit(1), nil); !errors.Is(err, ErrInvalidTick) {
		t.Fatalf("duration class out of table: err = %v", err)
	}
	badRate, _ := EncodeTick(unit(10), 0, 5, 0)
	if _, err := p.Deposit(testLender1, badRate, unit(1), nil); !errors.Is(err, ErrInvalidTick) {
		t.Fatalf("rate class out of table: err = %v", err)
	}
	reserved := new(big.Int).Or(mustTick(t, unit(10), 0, 0), big.NewInt(1))
	if _, err := p.Deposit(testLender1, reserved, unit(1), nil); !errors.Is(err, ErrInvalidTick) {
		t.Fatalf("reserved bits: err = %v", err)
	}
	if _, err := p.Deposit(testLender1, big.NewInt(0), unit(1), nil); !errors.Is(err, ErrInvalidTick) {
		t.Fatalf("zero tick: err = %v", err)
	}
}

func TestDepositMinSharesSlippage(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	tick := mustTick(t, unit(10), 0, 0)
	if _, err := p.Deposit(testLender1, tick, unit(2), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := p.Deposit(testLender2, tick, unit(1), unit(2)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("min shares: err = %v", err)
	}
}

func TestDepositTickSpacing(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	if _, err := p.Deposit(testLender1, mustTick(t, unit(10), 0, 0), unit(1), nil); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	// 5% above an existing 10-unit tick of the same classes is too close at
	// 10% minimum spacing.
	tooClose := new(big.Int).Add(unit(10), milli(500))
	if _, err := p.Deposit(testLender2, mustTick(t, tooClose, 0, 0), unit(1), nil); !errors.Is(err, ErrInsufficientTickSpacing) {
		t.Fatalf("tight spacing: err = %v", err)
	}
	// The same limit with a different rate class is unconstrained.
	if _, err := p.Deposit(testLender2, mustTick(t, tooClose, 0, 1), unit(1), nil); err != nil {
		t.Fatalf("different class spacing: %v", err)
	}
	// 10% above passes.
	if _, err := p.Deposit(testLender3, mustTick(t, unit(11), 0, 0), unit(1), nil); err != nil {
		t.Fatalf("spaced deposit: %v", err)
	}
	checkInvariants(t, p)
}

func TestRedeemRequiresShares(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	tick := mustTick(t, unit(10), 0, 0)
	if _, err := p.Redeem(testLender1, tick, unit(1)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("redeem without deposit: err = %v", err)
	}
	if _, err := p.Deposit(testLender1, tick, unit(1), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := p.Redeem(testLender1, tick, unit(2)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("redeem too much: err = %v", err)
	}
	if _, err := p.Redeem(testLender1, tick, big.NewInt(0)); !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("redeem zero: err = %v", err)
	}
}

func TestRebalanceMovesDrainedTicket(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	src := mustTick(t, unit(10), 0, 0)
	dst := mustTick(t, unit(12), 0, 0)

	if _, err := p.Deposit(testLender1, src, unit(2), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	id, err := p.Redeem(testLender1, src, unit(2))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	shares, amount, sharesOut, err := p.Rebalance(testLender1, src, dst, id, nil)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if shares.Cmp(unit(2)) != 0 || amount.Cmp(unit(2)) != 0 || sharesOut.Cmp(unit(2)) != 0 {
		t.Fatalf("rebalance = (%s, %s, %s)", shares, amount, sharesOut)
	}
	dstDeposit, err := p.Deposits(testLender1, dst)
	if err != nil {
		t.Fatalf("deposits: %v", err)
	}
	if dstDeposit.Shares.Cmp(unit(2)) != 0 {
		t.Fatalf("destination shares = %s", dstDeposit.Shares)
	}
	// The currency never left the pool.
	if got := fix.currency.balanceOf(testPoolAddr); got.Cmp(unit(2)) != 0 {
		t.Fatalf("pool balance = %s", got)
	}
	checkInvariants(t, p)
}

func TestReentrancyGuard(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	tick := mustTick(t, unit(10), 0, 0)

	var reentrantErr error
	fix.currency.hook = func() error {
		_, reentrantErr = p.Deposit(testLender2, tick, unit(1), nil)
		return nil
	}
	if _, err := p.Deposit(testLender1, tick, unit(1), nil); err != nil {
		t.Fatalf("outer deposit: %v", err)
	}
	if !errors.Is(reentrantErr, ErrReentrancy) {
		t.Fatalf("reentrant deposit: err = %v, want ErrReentrancy", reentrantErr)
	}
	fix.currency.hook = nil
	// The guard must release after the operation completes.
	if _, err := p.Deposit(testLender2, tick, unit(1), nil); err != nil {
		t.Fatalf("deposit after guard release: %v", err)
	}
}

func TestFailedTransferLeavesStateUntouched(t *testing.T) {
	fix := newTestFixture(t, nil)
	p := fix.pool
	tick := mustTick(t, unit(10), 0, 0)
	fix.currency.hook = func() error { return errors.New("token reverted") }
	if _, err := p.Deposit(testLender1, tick, unit(1), nil); err == nil {
		t.Fatalf("deposit should surface the transfer failure")
	}
	if count := p.ledger.liveCount(); count != 0 {
		t.Fatalf("live nodes = %d after failed deposit", count)
	}
	dep, err := p.Deposits(testLender1, tick)
	if err != nil {
		t.Fatalf("deposits: %v", err)
	}
	if dep.Shares.Sign() != 0 {
		t.Fatalf("deposit record mutated on failure")
	}
}
