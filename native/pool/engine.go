package pool

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftpool/core/types"
)

func delegationKey(token common.Address, tokenID *big.Int) string {
	return string(append(token.Bytes(), idWord(tokenID)...))
}

// Quote prices a loan without touching state: it resolves the collateral,
// sources the principal across the supplied ticks, and returns the repayment
// at the used-weighted rate.
func (p *Pool) Quote(principal *big.Int, duration uint64, collateralToken common.Address, tokenIDs []*big.Int, ticks []*big.Int, options []byte) (*big.Int, error) {
	if principal == nil || principal.Sign() <= 0 {
		return nil, ErrInvalidParameters
	}
	opts, err := parseLoanOptions(options)
	if err != nil {
		return nil, err
	}
	if len(tokenIDs) == 0 {
		return nil, ErrUnsupportedCollateral
	}
	underlying := collateralToken
	ids := tokenIDs
	if len(tokenIDs) == 1 {
		if underlying, ids, err = p.resolveCollateral(collateralToken, tokenIDs[0], opts); err != nil {
			return nil, err
		}
	}
	if err := p.params.CollateralFilter.supports(underlying, ids, opts.merkleProof); err != nil {
		return nil, err
	}
	durationIndex, err := p.durationIndexFor(duration)
	if err != nil {
		return nil, err
	}
	multiplier := big.NewInt(int64(len(ids)))
	sourced, err := p.sourceLiquidity(principal, multiplier, durationIndex, ticks)
	if err != nil {
		return nil, err
	}
	return repaymentFor(principal, p.weightedRate(sourced, principal), duration), nil
}

// Borrow locks the collateral, sources the principal across the supplied
// ticks, and activates a loan identified by its receipt hash.
func (p *Pool) Borrow(borrower common.Address, principal *big.Int, duration uint64, collateralToken common.Address, tokenID *big.Int, maxRepayment *big.Int, ticks []*big.Int, options []byte) (*types.LoanReceipt, common.Hash, error) {
	if err := p.enter(); err != nil {
		return nil, common.Hash{}, err
	}
	defer p.exit()

	if principal == nil || principal.Sign() <= 0 {
		return nil, common.Hash{}, ErrInvalidParameters
	}
	opts, err := parseLoanOptions(options)
	if err != nil {
		return nil, common.Hash{}, err
	}
	underlying, ids, err := p.resolveCollateral(collateralToken, tokenID, opts)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if err := p.params.CollateralFilter.supports(underlying, ids, opts.merkleProof); err != nil {
		return nil, common.Hash{}, err
	}
	durationIndex, err := p.durationIndexFor(duration)
	if err != nil {
		return nil, common.Hash{}, err
	}
	multiplier := big.NewInt(int64(len(ids)))
	sourced, err := p.sourceLiquidity(principal, multiplier, durationIndex, ticks)
	if err != nil {
		return nil, common.Hash{}, err
	}
	repayment := repaymentFor(principal, p.weightedRate(sourced, principal), duration)
	if maxRepayment != nil && repayment.Cmp(maxRepayment) > 0 {
		return nil, common.Hash{}, ErrRepaymentTooHigh
	}
	interest := new(big.Int).Sub(repayment, principal)
	adminFee := bpsShare(interest, p.params.AdminFeeBps)

	receipt := p.buildReceipt(borrower, principal, repayment, adminFee, duration, collateralToken, tokenID, opts.wrapperContext, sourced)
	hash, err := receipt.Hash()
	if err != nil {
		return nil, common.Hash{}, ErrInvalidParameters
	}
	if p.loans[hash] != LoanStatusNone {
		return nil, common.Hash{}, ErrInvalidLoanReceipt
	}

	delegation := opts.delegation()
	registry, err := p.delegationRegistry(delegation)
	if err != nil {
		return nil, common.Hash{}, err
	}

	if err := p.collab.Collateral.TransferFrom(collateralToken, borrower, p.address, tokenID); err != nil {
		return nil, common.Hash{}, fmt.Errorf("pool: collateral transfer: %w", err)
	}
	if registry != nil {
		if err := registry.SetDelegate(delegation.Delegate, collateralToken, tokenID, true); err != nil {
			return nil, common.Hash{}, fmt.Errorf("pool: delegation grant: %w", err)
		}
	}
	if err := p.collab.Currency.Transfer(borrower, principal); err != nil {
		return nil, common.Hash{}, fmt.Errorf("pool: currency transfer: %w", err)
	}

	p.applyBorrow(receipt, sourced)
	p.loans[hash] = LoanStatusActive
	if delegation != nil {
		p.delegations[delegationKey(collateralToken, tokenID)] = *delegation
	}
	return receipt, hash, nil
}

func (p *Pool) buildReceipt(borrower common.Address, principal, repayment, adminFee *big.Int, duration uint64, collateralToken common.Address, tokenID *big.Int, wrapperContext []byte, sourced []sourcedNode) *types.LoanReceipt {
	receipt := &types.LoanReceipt{
		Version:           types.LoanReceiptVersion,
		Principal:         cloneBig(principal),
		Repayment:         cloneBig(repayment),
		AdminFee:          cloneBig(adminFee),
		Borrower:          borrower,
		Maturity:          p.timestamp + duration,
		Duration:          duration,
		CollateralToken:   collateralToken,
		CollateralTokenID: cloneBig(tokenID),
		NodeReceipts:      make([]types.NodeReceipt, len(sourced)),
	}
	if len(wrapperContext) > 0 {
		receipt.CollateralWrapperContext = append([]byte(nil), wrapperContext...)
	}
	// Lender interest distributes in proportion to each node's principal
	// contribution; the final node absorbs the integer-division remainder.
	lenderDue := new(big.Int).Sub(repayment, adminFee)
	lenderInterest := new(big.Int).Sub(lenderDue, principal)
	assigned := big.NewInt(0)
	for i, s := range sourced {
		var pending *big.Int
		if i == len(sourced)-1 {
			pending = new(big.Int).Sub(lenderDue, assigned)
		} else {
			pending = new(big.Int).Add(s.used, mulDiv(lenderInterest, s.used, principal))
			assigned.Add(assigned, pending)
		}
		receipt.NodeReceipts[i] = types.NodeReceipt{
			Tick:    cloneBig(s.tick),
			Used:    cloneBig(s.used),
			Pending: pending,
		}
	}
	return receipt
}

func (p *Pool) applyBorrow(receipt *types.LoanReceipt, sourced []sourcedNode) {
	for i, s := range sourced {
		pending := receipt.NodeReceipts[i].Pending
		s.node.Available = new(big.Int).Sub(s.node.Available, s.used)
		s.node.Pending = new(big.Int).Add(s.node.Pending, pending)
		// The unrealized interest accrues to value immediately so later
		// depositors cannot skim it.
		s.node.Value = new(big.Int).Add(s.node.Value, new(big.Int).Sub(pending, s.used))
	}
}

func (p *Pool) delegationRegistry(delegation *Delegation) (DelegationRegistry, error) {
	if delegation == nil {
		return nil, nil
	}
	var registry DelegationRegistry
	if delegation.Version == 2 {
		registry = p.collab.DelegationV2
	} else {
		registry = p.collab.DelegationV1
	}
	if registry == nil {
		return nil, ErrInvalidParameters
	}
	return registry, nil
}

// repayPlan captures the settlement of an active receipt at a timestamp.
type repayPlan struct {
	receipt       *types.LoanReceipt
	hash          common.Hash
	owed          *big.Int
	realizedAdmin *big.Int
	feeShare      *big.Int
	nodes         []*LiquidityNode
	realized      []*big.Int
}

func (p *Pool) planRepay(receiptBytes []byte, caller common.Address, requireCaller bool) (*repayPlan, error) {
	receipt, err := types.DecodeLoanReceipt(receiptBytes)
	if err != nil {
		return nil, err
	}
	hash, err := receipt.Hash()
	if err != nil {
		return nil, ErrInvalidLoanReceipt
	}
	if p.loans[hash] != LoanStatusActive {
		return nil, ErrInvalidLoanReceipt
	}
	if requireCaller && receipt.Borrower != caller {
		return nil, ErrInvalidCaller
	}
	origination := receipt.Maturity - receipt.Duration
	if p.timestamp <= origination {
		// A receipt minted at this very timestamp cannot be settled; this
		// closes the same-block replay window.
		return nil, ErrInvalidLoanReceipt
	}
	elapsed := p.timestamp - origination
	if elapsed > receipt.Duration {
		elapsed = receipt.Duration
	}
	elapsedBig := new(big.Int).SetUint64(elapsed)
	durationBig := new(big.Int).SetUint64(receipt.Duration)

	lenderDue := new(big.Int).Sub(receipt.Repayment, receipt.AdminFee)
	lenderInterest := new(big.Int).Sub(lenderDue, receipt.Principal)
	realizedLender := mulDiv(lenderInterest, elapsedBig, durationBig)
	realizedAdmin := mulDiv(receipt.AdminFee, elapsedBig, durationBig)
	owed := new(big.Int).Add(receipt.Principal, realizedLender)
	owed.Add(owed, realizedAdmin)

	plan := &repayPlan{
		receipt:       receipt,
		hash:          hash,
		owed:          owed,
		realizedAdmin: realizedAdmin,
		nodes:         make([]*LiquidityNode, len(receipt.NodeReceipts)),
		realized:      make([]*big.Int, len(receipt.NodeReceipts)),
	}
	if p.params.FeeShareRecipient != (common.Address{}) {
		plan.feeShare = bpsShare(realizedAdmin, p.params.FeeShareSplitBps)
	} else {
		plan.feeShare = big.NewInt(0)
	}
	// Realized interest distributes in recorded proportions; the final node
	// absorbs the remainder.
	assigned := big.NewInt(0)
	for i, nr := range receipt.NodeReceipts {
		node := p.ledger.nodeByTick(nr.Tick)
		if node == nil {
			return nil, ErrInvalidLoanReceipt
		}
		plan.nodes[i] = node
		if i == len(receipt.NodeReceipts)-1 {
			plan.realized[i] = new(big.Int).Sub(realizedLender, assigned)
		} else {
			unrealized := new(big.Int).Sub(nr.Pending, nr.Used)
			var share *big.Int
			if lenderInterest.Sign() > 0 {
				share = mulDiv(realizedLender, unrealized, lenderInterest)
			} else {
				share = big.NewInt(0)
			}
			plan.realized[i] = share
			assigned.Add(assigned, share)
		}
	}
	return plan, nil
}

// applyRepayNodes restores principal plus realized interest to each node and
// removes the loan's pending earmark. With invert set the exact deltas are
// rolled back.
func (p *Pool) applyRepayNodes(plan *repayPlan, invert bool) {
	for i, nr := range plan.receipt.NodeReceipts {
		node := plan.nodes[i]
		restored := new(big.Int).Add(nr.Used, plan.realized[i])
		writeoff := new(big.Int).Sub(nr.Pending, restored)
		if invert {
			node.Pending = new(big.Int).Add(node.Pending, nr.Pending)
			node.Available = new(big.Int).Sub(node.Available, restored)
			node.Value = new(big.Int).Add(node.Value, writeoff)
			continue
		}
		node.Pending = new(big.Int).Sub(node.Pending, nr.Pending)
		node.Available = new(big.Int).Add(node.Available, restored)
		node.Value = new(big.Int).Sub(node.Value, writeoff)
	}
}

func (p *Pool) drainPlanNodes(plan *repayPlan) {
	for _, node := range plan.nodes {
		p.ledger.processRedemptions(node)
	}
}

func (p *Pool) settleAdminFee(plan *repayPlan) error {
	if plan.feeShare.Sign() > 0 {
		if err := p.collab.Currency.Transfer(p.params.FeeShareRecipient, plan.feeShare); err != nil {
			return fmt.Errorf("pool: fee share transfer: %w", err)
		}
	}
	return nil
}

// Repay settles an active loan at the pro-rated amount owed, releases the
// collateral, and returns the repaid funds with realized interest to the
// sourced ticks.
func (p *Pool) Repay(caller common.Address, receiptBytes []byte) (*big.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	plan, err := p.planRepay(receiptBytes, caller, true)
	if err != nil {
		return nil, err
	}

	if err := p.collab.Currency.TransferFrom(caller, p.address, plan.owed); err != nil {
		return nil, fmt.Errorf("pool: currency transfer: %w", err)
	}
	if err := p.collab.Collateral.TransferFrom(plan.receipt.CollateralToken, p.address, plan.receipt.Borrower, plan.receipt.CollateralTokenID); err != nil {
		return nil, fmt.Errorf("pool: collateral transfer: %w", err)
	}
	if err := p.revokeDelegation(plan.receipt.CollateralToken, plan.receipt.CollateralTokenID); err != nil {
		return nil, err
	}
	if err := p.settleAdminFee(plan); err != nil {
		return nil, err
	}

	p.applyRepayNodes(plan, false)
	p.adminFeeBalance = new(big.Int).Add(p.adminFeeBalance, new(big.Int).Sub(plan.realizedAdmin, plan.feeShare))
	p.loans[plan.hash] = LoanStatusRepaid
	p.drainPlanNodes(plan)
	return plan.owed, nil
}

// Refinance settles an active loan and reopens it on the same collateral with
// new terms, moving only the net currency difference.
func (p *Pool) Refinance(caller common.Address, receiptBytes []byte, newPrincipal *big.Int, newDuration uint64, maxRepayment *big.Int, ticks []*big.Int) (*types.LoanReceipt, common.Hash, error) {
	if err := p.enter(); err != nil {
		return nil, common.Hash{}, err
	}
	defer p.exit()

	if newPrincipal == nil || newPrincipal.Sign() <= 0 {
		return nil, common.Hash{}, ErrInvalidParameters
	}
	plan, err := p.planRepay(receiptBytes, caller, true)
	if err != nil {
		return nil, common.Hash{}, err
	}
	old := plan.receipt

	opts := &loanOptions{wrapperContext: old.CollateralWrapperContext}
	_, ids, err := p.resolveCollateral(old.CollateralToken, old.CollateralTokenID, opts)
	if err != nil {
		return nil, common.Hash{}, err
	}
	durationIndex, err := p.durationIndexFor(newDuration)
	if err != nil {
		return nil, common.Hash{}, err
	}

	// Stage the repay-side node deltas so sourcing sees the restored
	// liquidity; roll them back on any later failure.
	p.applyRepayNodes(plan, false)
	revert := func() { p.applyRepayNodes(plan, true) }

	multiplier := big.NewInt(int64(len(ids)))
	sourced, err := p.sourceLiquidity(newPrincipal, multiplier, durationIndex, ticks)
	if err != nil {
		revert()
		return nil, common.Hash{}, err
	}
	repayment := repaymentFor(newPrincipal, p.weightedRate(sourced, newPrincipal), newDuration)
	if maxRepayment != nil && repayment.Cmp(maxRepayment) > 0 {
		revert()
		return nil, common.Hash{}, ErrRepaymentTooHigh
	}
	interest := new(big.Int).Sub(repayment, newPrincipal)
	adminFee := bpsShare(interest, p.params.AdminFeeBps)
	receipt := p.buildReceipt(old.Borrower, newPrincipal, repayment, adminFee, newDuration, old.CollateralToken, old.CollateralTokenID, old.CollateralWrapperContext, sourced)
	hash, err := receipt.Hash()
	if err != nil {
		revert()
		return nil, common.Hash{}, ErrInvalidLoanReceipt
	}
	if p.loans[hash] != LoanStatusNone {
		revert()
		return nil, common.Hash{}, ErrInvalidLoanReceipt
	}

	// The borrower settles or receives only the net difference; the
	// collateral stays in custody and any delegation on it is revoked.
	net := new(big.Int).Sub(plan.owed, newPrincipal)
	switch {
	case net.Sign() > 0:
		if err := p.collab.Currency.TransferFrom(caller, p.address, net); err != nil {
			revert()
			return nil, common.Hash{}, fmt.Errorf("pool: currency transfer: %w", err)
		}
	case net.Sign() < 0:
		if err := p.collab.Currency.Transfer(caller, new(big.Int).Neg(net)); err != nil {
			revert()
			return nil, common.Hash{}, fmt.Errorf("pool: currency transfer: %w", err)
		}
	}
	if err := p.revokeDelegation(old.CollateralToken, old.CollateralTokenID); err != nil {
		revert()
		return nil, common.Hash{}, err
	}
	if err := p.settleAdminFee(plan); err != nil {
		revert()
		return nil, common.Hash{}, err
	}

	p.applyBorrow(receipt, sourced)
	p.adminFeeBalance = new(big.Int).Add(p.adminFeeBalance, new(big.Int).Sub(plan.realizedAdmin, plan.feeShare))
	p.loans[plan.hash] = LoanStatusRepaid
	p.loans[hash] = LoanStatusActive
	p.drainPlanNodes(plan)
	return receipt, hash, nil
}

// Liquidate seizes the collateral of an expired loan and hands it to the
// configured collateral liquidator. Anyone may call it.
func (p *Pool) Liquidate(receiptBytes []byte) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	receipt, err := types.DecodeLoanReceipt(receiptBytes)
	if err != nil {
		return err
	}
	hash, err := receipt.Hash()
	if err != nil {
		return ErrInvalidLoanReceipt
	}
	if p.loans[hash] != LoanStatusActive {
		return ErrInvalidLoanReceipt
	}
	if p.timestamp <= receipt.Maturity {
		return ErrLoanNotExpired
	}
	if p.collab.Liquidator == nil {
		return ErrInvalidParameters
	}

	if err := p.collab.Collateral.TransferFrom(receipt.CollateralToken, p.address, p.collab.Liquidator.Address(), receipt.CollateralTokenID); err != nil {
		return fmt.Errorf("pool: collateral transfer: %w", err)
	}
	if err := p.collab.Liquidator.WithdrawCollateral(receipt.CollateralToken, receipt.CollateralTokenID, receiptBytes); err != nil {
		return fmt.Errorf("pool: liquidator withdraw: %w", err)
	}
	if err := p.revokeDelegation(receipt.CollateralToken, receipt.CollateralTokenID); err != nil {
		return err
	}

	p.loans[hash] = LoanStatusLiquidated
	return nil
}

// OnCollateralLiquidated distributes auction proceeds across the receipt's
// nodes in order: lenders first, then the admin fee, then the borrower's
// share of any surplus. Shortfalls write node values down and may leave a
// node insolvent.
func (p *Pool) OnCollateralLiquidated(caller common.Address, receiptBytes []byte, proceeds *big.Int) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if proceeds == nil || proceeds.Sign() < 0 {
		return ErrInvalidParameters
	}
	if p.collab.Liquidator == nil || caller != p.collab.Liquidator.Address() {
		return ErrInvalidCaller
	}
	receipt, err := types.DecodeLoanReceipt(receiptBytes)
	if err != nil {
		return err
	}
	hash, err := receipt.Hash()
	if err != nil {
		return ErrInvalidLoanReceipt
	}
	if p.loans[hash] != LoanStatusLiquidated {
		return ErrInvalidLoanReceipt
	}

	lenderDue := big.NewInt(0)
	nodes := make([]*LiquidityNode, len(receipt.NodeReceipts))
	for i, nr := range receipt.NodeReceipts {
		node := p.ledger.nodeByTick(nr.Tick)
		if node == nil {
			return ErrInvalidLoanReceipt
		}
		nodes[i] = node
		lenderDue.Add(lenderDue, nr.Pending)
	}

	borrowerSurplus := big.NewInt(0)
	adminTake := big.NewInt(0)
	lenderTotal := cloneBig(proceeds)
	switch {
	case proceeds.Cmp(receipt.Repayment) > 0:
		surplus := new(big.Int).Sub(proceeds, receipt.Repayment)
		borrowerSurplus = bpsShare(surplus, p.params.BorrowerSurplusSplitBps)
		adminTake = new(big.Int).Sub(receipt.Repayment, lenderDue)
		lenderTotal = new(big.Int).Add(lenderDue, new(big.Int).Sub(surplus, borrowerSurplus))
	case proceeds.Cmp(lenderDue) > 0:
		adminTake = new(big.Int).Sub(proceeds, lenderDue)
		lenderTotal = cloneBig(lenderDue)
	}

	if err := p.collab.Currency.TransferFrom(caller, p.address, proceeds); err != nil {
		return fmt.Errorf("pool: currency transfer: %w", err)
	}
	if borrowerSurplus.Sign() > 0 {
		if err := p.collab.Currency.Transfer(receipt.Borrower, borrowerSurplus); err != nil {
			return fmt.Errorf("pool: currency transfer: %w", err)
		}
	}

	// Receipt-ordered distribution with a single remainder accumulator; the
	// final node absorbs the truncation error.
	assigned := big.NewInt(0)
	for i, nr := range receipt.NodeReceipts {
		node := nodes[i]
		var share *big.Int
		if i == len(receipt.NodeReceipts)-1 {
			share = new(big.Int).Sub(lenderTotal, assigned)
		} else {
			share = mulDiv(lenderTotal, nr.Pending, lenderDue)
			assigned.Add(assigned, share)
		}
		node.Pending = new(big.Int).Sub(node.Pending, nr.Pending)
		node.Available = new(big.Int).Add(node.Available, share)
		node.Value = new(big.Int).Add(new(big.Int).Sub(node.Value, nr.Pending), share)
	}
	p.adminFeeBalance = new(big.Int).Add(p.adminFeeBalance, adminTake)
	p.loans[hash] = LoanStatusCollateralLiquidated
	for _, node := range nodes {
		p.ledger.processRedemptions(node)
	}
	return nil
}

func (p *Pool) revokeDelegation(token common.Address, tokenID *big.Int) error {
	key := delegationKey(token, tokenID)
	delegation, ok := p.delegations[key]
	if !ok {
		return nil
	}
	registry, err := p.delegationRegistry(&delegation)
	if err != nil {
		return err
	}
	if err := registry.SetDelegate(delegation.Delegate, token, tokenID, false); err != nil {
		return fmt.Errorf("pool: delegation revoke: %w", err)
	}
	delete(p.delegations, key)
	return nil
}
