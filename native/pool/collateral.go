package pool

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// CollateralFilterKind selects the collateral admission rule.
type CollateralFilterKind uint8

const (
	// FilterSingleCollection admits every token id of one collection.
	FilterSingleCollection CollateralFilterKind = iota
	// FilterSetCollection admits an explicit id set of one collection.
	FilterSetCollection
	// FilterMerkleCollection admits ids proven against a merkle root.
	FilterMerkleCollection
)

// CollateralFilter restricts the underlying collateral a pool accepts.
type CollateralFilter struct {
	Kind  CollateralFilterKind
	Token common.Address
	// Set holds the admitted ids for FilterSetCollection.
	Set []*big.Int
	// Root and Depth parameterise FilterMerkleCollection proofs.
	Root  common.Hash
	Depth int

	ids map[string]struct{}
}

func (f *CollateralFilter) validate() error {
	switch f.Kind {
	case FilterSingleCollection:
		return nil
	case FilterSetCollection:
		if len(f.Set) == 0 {
			return ErrInvalidParameters
		}
		return nil
	case FilterMerkleCollection:
		if f.Depth <= 0 || f.Depth > 32 {
			return ErrInvalidParameters
		}
		return nil
	default:
		return ErrInvalidParameters
	}
}

func (f CollateralFilter) clone() CollateralFilter {
	clone := f
	clone.ids = nil
	if f.Set != nil {
		clone.Set = make([]*big.Int, len(f.Set))
		for i, id := range f.Set {
			clone.Set[i] = cloneBig(id)
		}
	}
	return clone
}

// supports validates a resolved (token, ids) pair against the filter. For
// merkle filters, proof carries one fixed-depth proof per id, concatenated in
// id order.
func (f *CollateralFilter) supports(token common.Address, ids []*big.Int, proof []byte) error {
	if token != f.Token || len(ids) == 0 {
		return ErrUnsupportedCollateral
	}
	switch f.Kind {
	case FilterSingleCollection:
		return nil
	case FilterSetCollection:
		if f.ids == nil {
			f.ids = make(map[string]struct{}, len(f.Set))
			for _, id := range f.Set {
				f.ids[string(idWord(id))] = struct{}{}
			}
		}
		for _, id := range ids {
			if _, ok := f.ids[string(idWord(id))]; !ok {
				return ErrUnsupportedCollateral
			}
		}
		return nil
	case FilterMerkleCollection:
		proofSize := f.Depth * common.HashLength
		if len(proof) != proofSize*len(ids) {
			return ErrUnsupportedCollateral
		}
		for i, id := range ids {
			if !verifyMerkleProof(f.Root, id, proof[i*proofSize:(i+1)*proofSize]) {
				return ErrUnsupportedCollateral
			}
		}
		return nil
	default:
		return ErrUnsupportedCollateral
	}
}

func idWord(id *big.Int) []byte {
	word := make([]byte, common.HashLength)
	if id != nil && id.Sign() >= 0 && id.BitLen() <= 256 {
		id.FillBytes(word)
	}
	return word
}

// verifyMerkleProof folds a sorted-pair keccak proof over the double-hashed
// uint256 leaf.
func verifyMerkleProof(root common.Hash, id *big.Int, proof []byte) bool {
	computed := ethcrypto.Keccak256(ethcrypto.Keccak256(idWord(id)))
	for offset := 0; offset < len(proof); offset += common.HashLength {
		sibling := proof[offset : offset+common.HashLength]
		if bytes.Compare(computed, sibling) <= 0 {
			computed = ethcrypto.Keccak256(computed, sibling)
		} else {
			computed = ethcrypto.Keccak256(sibling, computed)
		}
	}
	return bytes.Equal(computed, root.Bytes())
}

// resolveCollateral maps a (token, id) reference to the underlying
// (token, ids) set. A registered wrapper token resolves through its
// Enumerate capability using the tag-1 options context; anything else stands
// for itself with a multiplier of one.
func (p *Pool) resolveCollateral(collateralToken common.Address, tokenID *big.Int, opts *loanOptions) (common.Address, []*big.Int, error) {
	if wrapper, ok := p.collab.Wrappers[collateralToken]; ok {
		underlying, ids, err := wrapper.Enumerate(tokenID, opts.wrapperContext)
		if err != nil {
			return common.Address{}, nil, ErrUnsupportedCollateral
		}
		if len(ids) == 0 {
			return common.Address{}, nil, ErrUnsupportedCollateral
		}
		return underlying, ids, nil
	}
	return collateralToken, []*big.Int{cloneBig(tokenID)}, nil
}
