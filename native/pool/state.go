package pool

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Storage abstracts the key-value persistence the pool snapshots into.
type Storage interface {
	KVPut(key, value []byte) error
	KVDelete(key []byte) error
	KVIterate(prefix []byte, fn func(key, value []byte) error) error
}

var (
	statePrefix            = []byte("pool/")
	nodeRecordPrefix       = []byte("pool/node/")
	depositRecordPrefix    = []byte("pool/deposit/")
	redemptionRecordPrefix = []byte("pool/redemption/")
	loanRecordPrefix       = []byte("pool/loan/")
	feeRecordKey           = []byte("pool/fees")
)

func nodeRecordKey(key tickKey) []byte {
	return append(append([]byte(nil), nodeRecordPrefix...), key[:]...)
}

func depositRecordKey(k depositKey) []byte {
	buf := append([]byte(nil), depositRecordPrefix...)
	buf = append(buf, k.account.Bytes()...)
	return append(buf, k.tick[:]...)
}

func redemptionRecordKey(k redemptionKey) []byte {
	buf := append([]byte(nil), redemptionRecordPrefix...)
	buf = append(buf, k.account.Bytes()...)
	buf = append(buf, k.tick[:]...)
	var id [8]byte
	for i := 0; i < 8; i++ {
		id[i] = byte(k.id >> (56 - 8*i))
	}
	return append(buf, id[:]...)
}

func loanRecordKey(hash common.Hash) []byte {
	return append(append([]byte(nil), loanRecordPrefix...), hash.Bytes()...)
}

type storedFulfillment struct {
	Shares *big.Int
	Amount *big.Int
}

type storedNode struct {
	Tick           *big.Int
	Value          *big.Int
	Shares         *big.Int
	Available      *big.Int
	Pending        *big.Int
	Redemptions    *big.Int
	SharesRedeemed *big.Int
	Accrued        *big.Int
	Fulfilled      []storedFulfillment
	Linked         bool
}

type storedDeposit struct {
	Shares       *big.Int
	RedemptionID uint64
}

type storedRedemption struct {
	Pending *big.Int
	Index   uint64
	Target  *big.Int
}

type storedFees struct {
	AdminFeeBalance   *big.Int
	AdminFeeBps       uint64
	FeeShareRecipient common.Address
	FeeShareSplitBps  uint64
}

// Save snapshots the pool's dynamic state. Stale records from a previous
// snapshot are removed so the store mirrors the pool exactly.
func (p *Pool) Save(st Storage) error {
	stale := make(map[string]struct{})
	if err := st.KVIterate(statePrefix, func(key, _ []byte) error {
		stale[string(key)] = struct{}{}
		return nil
	}); err != nil {
		return fmt.Errorf("pool: snapshot scan: %w", err)
	}
	put := func(key []byte, record interface{}) error {
		encoded, err := rlp.EncodeToBytes(record)
		if err != nil {
			return fmt.Errorf("pool: snapshot encode: %w", err)
		}
		delete(stale, string(key))
		return st.KVPut(key, encoded)
	}

	for key, node := range p.ledger.nodes {
		if key == sentinelKey {
			continue
		}
		record := storedNode{
			Tick:           node.Tick,
			Value:          node.Value,
			Shares:         node.Shares,
			Available:      node.Available,
			Pending:        node.Pending,
			Redemptions:    node.Redemptions,
			SharesRedeemed: node.SharesRedeemed,
			Accrued:        node.Accrued,
			Linked:         node.linked,
			Fulfilled:      make([]storedFulfillment, len(node.Fulfilled)),
		}
		for i, f := range node.Fulfilled {
			record.Fulfilled[i] = storedFulfillment{Shares: f.Shares, Amount: f.Amount}
		}
		if err := put(nodeRecordKey(key), &record); err != nil {
			return err
		}
	}
	for key, dep := range p.deposits {
		if err := put(depositRecordKey(key), &storedDeposit{Shares: dep.Shares, RedemptionID: dep.RedemptionID}); err != nil {
			return err
		}
	}
	for key, ticket := range p.redemptions {
		if err := put(redemptionRecordKey(key), &storedRedemption{Pending: ticket.Pending, Index: ticket.Index, Target: ticket.Target}); err != nil {
			return err
		}
	}
	for hash, status := range p.loans {
		if err := put(loanRecordKey(hash), uint8(status)); err != nil {
			return err
		}
	}
	fees := storedFees{
		AdminFeeBalance:   p.adminFeeBalance,
		AdminFeeBps:       p.params.AdminFeeBps,
		FeeShareRecipient: p.params.FeeShareRecipient,
		FeeShareSplitBps:  p.params.FeeShareSplitBps,
	}
	if err := put(feeRecordKey, &fees); err != nil {
		return err
	}

	for key := range stale {
		if err := st.KVDelete([]byte(key)); err != nil {
			return fmt.Errorf("pool: snapshot prune: %w", err)
		}
	}
	return nil
}

// Load restores a snapshot written by Save into a freshly constructed pool.
func (p *Pool) Load(st Storage) error {
	linked := make([]tickKey, 0)
	if err := st.KVIterate(nodeRecordPrefix, func(key, value []byte) error {
		var record storedNode
		if err := rlp.DecodeBytes(value, &record); err != nil {
			return err
		}
		tick, err := keyForTick(record.Tick)
		if err != nil {
			return err
		}
		node := newLiquidityNode(record.Tick)
		node.Value = record.Value
		node.Shares = record.Shares
		node.Available = record.Available
		node.Pending = record.Pending
		node.Redemptions = record.Redemptions
		node.SharesRedeemed = record.SharesRedeemed
		node.Accrued = record.Accrued
		node.Fulfilled = make([]Fulfillment, len(record.Fulfilled))
		for i, f := range record.Fulfilled {
			node.Fulfilled[i] = Fulfillment{Shares: f.Shares, Amount: f.Amount}
		}
		p.ledger.nodes[tick] = node
		if record.Linked {
			linked = append(linked, tick)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("pool: restore nodes: %w", err)
	}
	sort.Slice(linked, func(i, j int) bool {
		return bytes.Compare(linked[i][:], linked[j][:]) < 0
	})
	prev := sentinelKey
	for _, key := range linked {
		p.ledger.link(p.ledger.nodes[key], key, prev)
		prev = key
	}

	if err := st.KVIterate(depositRecordPrefix, func(key, value []byte) error {
		var record storedDeposit
		if err := rlp.DecodeBytes(value, &record); err != nil {
			return err
		}
		suffix := key[len(depositRecordPrefix):]
		if len(suffix) != common.AddressLength+16 {
			return fmt.Errorf("malformed deposit key")
		}
		var dk depositKey
		dk.account = common.BytesToAddress(suffix[:common.AddressLength])
		copy(dk.tick[:], suffix[common.AddressLength:])
		p.deposits[dk] = &Deposit{Shares: record.Shares, RedemptionID: record.RedemptionID}
		return nil
	}); err != nil {
		return fmt.Errorf("pool: restore deposits: %w", err)
	}

	if err := st.KVIterate(redemptionRecordPrefix, func(key, value []byte) error {
		var record storedRedemption
		if err := rlp.DecodeBytes(value, &record); err != nil {
			return err
		}
		suffix := key[len(redemptionRecordPrefix):]
		if len(suffix) != common.AddressLength+16+8 {
			return fmt.Errorf("malformed redemption key")
		}
		var rk redemptionKey
		rk.account = common.BytesToAddress(suffix[:common.AddressLength])
		copy(rk.tick[:], suffix[common.AddressLength:common.AddressLength+16])
		for _, b := range suffix[common.AddressLength+16:] {
			rk.id = rk.id<<8 | uint64(b)
		}
		p.redemptions[rk] = &Redemption{Pending: record.Pending, Index: record.Index, Target: record.Target}
		return nil
	}); err != nil {
		return fmt.Errorf("pool: restore redemptions: %w", err)
	}

	if err := st.KVIterate(loanRecordPrefix, func(key, value []byte) error {
		var status uint8
		if err := rlp.DecodeBytes(value, &status); err != nil {
			return err
		}
		suffix := key[len(loanRecordPrefix):]
		if len(suffix) != common.HashLength {
			return fmt.Errorf("malformed loan key")
		}
		p.loans[common.BytesToHash(suffix)] = LoanStatus(status)
		return nil
	}); err != nil {
		return fmt.Errorf("pool: restore loans: %w", err)
	}

	if err := st.KVIterate(feeRecordKey, func(_, value []byte) error {
		var record storedFees
		if err := rlp.DecodeBytes(value, &record); err != nil {
			return err
		}
		p.adminFeeBalance = record.AdminFeeBalance
		p.params.AdminFeeBps = record.AdminFeeBps
		p.params.FeeShareRecipient = record.FeeShareRecipient
		p.params.FeeShareSplitBps = record.FeeShareSplitBps
		return nil
	}); err != nil {
		return fmt.Errorf("pool: restore fees: %w", err)
	}
	return nil
}
