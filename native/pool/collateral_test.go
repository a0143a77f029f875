package pool

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSingleCollectionFilter(t *testing.T) {
	filter := &CollateralFilter{Kind: FilterSingleCollection, Token: testNFT}
	if err := filter.supports(testNFT, []*big.Int{big.NewInt(1)}, nil); err != nil {
		t.Fatalf("supports: %v", err)
	}
	other := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	if err := filter.supports(other, []*big.Int{big.NewInt(1)}, nil); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("wrong token: err = %v", err)
	}
	if err := filter.supports(testNFT, nil, nil); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("empty ids: err = %v", err)
	}
}

func TestSetCollectionFilter(t *testing.T) {
	filter := &CollateralFilter{
		Kind:  FilterSetCollection,
		Token: testNFT,
		Set:   []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)},
	}
	if err := filter.supports(testNFT, []*big.Int{big.NewInt(1), big.NewInt(3)}, nil); err != nil {
		t.Fatalf("supports: %v", err)
	}
	if err := filter.supports(testNFT, []*big.Int{big.NewInt(1), big.NewInt(4)}, nil); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("id outside set: err = %v", err)
	}
}

// buildMerkleTree returns the root and per-leaf proofs for a four-id tree
// using the sorted-pair, double-hashed-leaf discipline.
func buildMerkleTree(ids []*big.Int) (common.Hash, [][]byte) {
	leaves := make([][]byte, len(ids))
	for i, id := range ids {
		leaves[i] = ethcrypto.Keccak256(ethcrypto.Keccak256(idWord(id)))
	}
	pair := func(a, b []byte) []byte {
		if bytes.Compare(a, b) <= 0 {
			return ethcrypto.Keccak256(a, b)
		}
		return ethcrypto.Keccak256(b, a)
	}
	p01 := pair(leaves[0], leaves[1])
	p23 := pair(leaves[2], leaves[3])
	root := common.BytesToHash(pair(p01, p23))
	proofs := [][]byte{
		append(append([]byte(nil), leaves[1]...), p23...),
		append(append([]byte(nil), leaves[0]...), p23...),
		append(append([]byte(nil), leaves[3]...), p01...),
		append(append([]byte(nil), leaves[2]...), p01...),
	}
	return root, proofs
}

func TestMerkleCollectionFilter(t *testing.T) {
	ids := []*big.Int{big.NewInt(10), big.NewInt(20), big.NewInt(30), big.NewInt(40)}
	root, proofs := buildMerkleTree(ids)
	filter := &CollateralFilter{Kind: FilterMerkleCollection, Token: testNFT, Root: root, Depth: 2}

	for i, id := range ids {
		if err := filter.supports(testNFT, []*big.Int{id}, proofs[i]); err != nil {
			t.Fatalf("id %s: %v", id, err)
		}
	}
	// Multiple ids concatenate their proofs in id order.
	proof := append(append([]byte(nil), proofs[0]...), proofs[2]...)
	if err := filter.supports(testNFT, []*big.Int{ids[0], ids[2]}, proof); err != nil {
		t.Fatalf("multi-id proof: %v", err)
	}
	// A wrong proof, a wrong id, and a short blob all reject.
	if err := filter.supports(testNFT, []*big.Int{ids[0]}, proofs[1]); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("wrong proof: err = %v", err)
	}
	if err := filter.supports(testNFT, []*big.Int{big.NewInt(99)}, proofs[0]); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("unlisted id: err = %v", err)
	}
	if err := filter.supports(testNFT, []*big.Int{ids[0]}, proofs[0][:32]); !errors.Is(err, ErrUnsupportedCollateral) {
		t.Fatalf("short proof: err = %v", err)
	}
}

type mockWrapper struct {
	underlying common.Address
}

// Enumerate decodes the context as concatenated 32-byte ids.
func (m *mockWrapper) Enumerate(_ *big.Int, context []byte) (common.Address, []*big.Int, error) {
	if len(context) == 0 || len(context)%32 != 0 {
		return common.Address{}, nil, errors.New("malformed context")
	}
	ids := make([]*big.Int, 0, len(context)/32)
	for offset := 0; offset < len(context); offset += 32 {
		ids = append(ids, new(big.Int).SetBytes(context[offset:offset+32]))
	}
	return m.underlying, ids, nil
}

// TestWrappedCollateralMultiplier: a two-item bundle doubles the per-tick
// draw ceiling.
func TestWrappedCollateralMultiplier(t *testing.T) {
	wrapperAddr := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	params := testParams()
	params.Wrappers = []common.Address{wrapperAddr}
	currency := newMockCurrency(testPoolAddr)
	nft := newMockNFT()
	p, err := NewPool(testPoolAddr, params, Collaborators{
		Currency:   currency,
		Collateral: nft,
		Wrappers: map[common.Address]CollateralWrapper{
			wrapperAddr: &mockWrapper{underlying: testNFT},
		},
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	p.SetTimestamp(1_000_000)
	currency.mint(testLender1, unit(100))
	currency.mint(testBorrower, unit(100))

	tick := mustTick(t, unit(3), 2, 0)
	if _, err := p.Deposit(testLender1, tick, unit(6), nil); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	wrapperID := big.NewInt(555)
	nft.mint(wrapperAddr, wrapperID, testBorrower)

	context := make([]byte, 64)
	big.NewInt(1).FillBytes(context[:32])
	big.NewInt(2).FillBytes(context[32:])
	options := tlv(optionTagWrapperContext, context)

	// A single-item reference is capped at the 3-unit limit.
	if _, _, err := p.Borrow(testBorrower, unit(6), month, testNFT, big.NewInt(1), nil, []*big.Int{tick}, nil); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("unwrapped borrow: err = %v", err)
	}
	// The wrapped bundle carries multiplier 2: 6 units fit.
	receipt, _, err := p.Borrow(testBorrower, unit(6), month, wrapperAddr, wrapperID, nil, []*big.Int{tick}, options)
	if err != nil {
		t.Fatalf("wrapped borrow: %v", err)
	}
	if len(receipt.NodeReceipts) != 1 || receipt.NodeReceipts[0].Used.Cmp(unit(6)) != 0 {
		t.Fatalf("sourced = %+v", receipt.NodeReceipts)
	}
	if !bytes.Equal(receipt.CollateralWrapperContext, context) {
		t.Fatalf("wrapper context not carried into the receipt")
	}
}
