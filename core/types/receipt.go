package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoanReceiptVersion is the only encoding version the codec accepts.
const LoanReceiptVersion uint8 = 2

const (
	wordSize        = 32
	addressSize     = 20
	loanReceiptBase = 1 + 3*wordSize + addressSize + 8 + 8 + addressSize + wordSize + 2
	nodeReceiptSize = 48
	uint128Size     = 16
)

var (
	ErrInvalidReceiptEncoding    = errors.New("types: invalid receipt encoding")
	ErrUnsupportedReceiptVersion = errors.New("types: unsupported receipt version")
)

// NodeReceipt records the liquidity drawn from a single tick: the packed tick
// key, the principal sourced from it, and the repayment earmarked to it.
type NodeReceipt struct {
	Tick    *big.Int
	Used    *big.Int
	Pending *big.Int
}

// LoanReceipt is the canonical unit of loan identity. Its binary encoding is
// fixed and its keccak-256 hash keys the loan status ledger; a receipt is
// never persisted, only its hash.
type LoanReceipt struct {
	Version                  uint8
	Principal                *big.Int
	Repayment                *big.Int
	AdminFee                 *big.Int
	Borrower                 common.Address
	Maturity                 uint64
	Duration                 uint64
	CollateralToken          common.Address
	CollateralTokenID        *big.Int
	CollateralWrapperContext []byte
	NodeReceipts             []NodeReceipt
}

// Clone returns a deep copy of the receipt.
func (r *LoanReceipt) Clone() *LoanReceipt {
	if r == nil {
		return nil
	}
	clone := &LoanReceipt{
		Version:           r.Version,
		Borrower:          r.Borrower,
		Maturity:          r.Maturity,
		Duration:          r.Duration,
		CollateralToken:   r.CollateralToken,
		Principal:         cloneBig(r.Principal),
		Repayment:         cloneBig(r.Repayment),
		AdminFee:          cloneBig(r.AdminFee),
		CollateralTokenID: cloneBig(r.CollateralTokenID),
	}
	if r.CollateralWrapperContext != nil {
		clone.CollateralWrapperContext = append([]byte(nil), r.CollateralWrapperContext...)
	}
	if len(r.NodeReceipts) > 0 {
		clone.NodeReceipts = make([]NodeReceipt, len(r.NodeReceipts))
		for i, node := range r.NodeReceipts {
			clone.NodeReceipts[i] = NodeReceipt{
				Tick:    cloneBig(node.Tick),
				Used:    cloneBig(node.Used),
				Pending: cloneBig(node.Pending),
			}
		}
	}
	return clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// Encode serialises the receipt into its canonical big-endian layout:
//
//	version(1) principal(32) repayment(32) adminFee(32) borrower(20)
//	maturity(8) duration(8) collateralToken(20) collateralTokenId(32)
//	ctxLen(2) ctx(ctxLen) [tick(16) used(16) pending(16)]*n
func (r *LoanReceipt) Encode() ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidReceiptEncoding
	}
	if r.Version != LoanReceiptVersion {
		return nil, ErrUnsupportedReceiptVersion
	}
	if len(r.CollateralWrapperContext) > int(^uint16(0)) {
		return nil, ErrInvalidReceiptEncoding
	}
	var buf bytes.Buffer
	buf.Grow(loanReceiptBase + len(r.CollateralWrapperContext) + nodeReceiptSize*len(r.NodeReceipts))
	buf.WriteByte(r.Version)
	if err := writeWord(&buf, r.Principal); err != nil {
		return nil, err
	}
	if err := writeWord(&buf, r.Repayment); err != nil {
		return nil, err
	}
	if err := writeWord(&buf, r.AdminFee); err != nil {
		return nil, err
	}
	buf.Write(r.Borrower.Bytes())
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], r.Maturity)
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], r.Duration)
	buf.Write(u64[:])
	buf.Write(r.CollateralToken.Bytes())
	if err := writeWord(&buf, r.CollateralTokenID); err != nil {
		return nil, err
	}
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(len(r.CollateralWrapperContext)))
	buf.Write(u16[:])
	buf.Write(r.CollateralWrapperContext)
	for _, node := range r.NodeReceipts {
		if err := writeUint128(&buf, node.Tick); err != nil {
			return nil, err
		}
		if err := writeUint128(&buf, node.Used); err != nil {
			return nil, err
		}
		if err := writeUint128(&buf, node.Pending); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Hash returns the keccak-256 digest of the canonical encoding. The hash is
// the loan identity: any bit difference, maturity included, yields a new hash.
func (r *LoanReceipt) Hash() (common.Hash, error) {
	encoded, err := r.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}

// DecodeLoanReceipt parses the canonical encoding. The overall length must
// equal the fixed header plus the declared context plus a whole number of
// node receipts.
func DecodeLoanReceipt(data []byte) (*LoanReceipt, error) {
	if len(data) < 1 {
		return nil, ErrInvalidReceiptEncoding
	}
	if data[0] != LoanReceiptVersion {
		return nil, ErrUnsupportedReceiptVersion
	}
	if len(data) < loanReceiptBase {
		return nil, ErrInvalidReceiptEncoding
	}
	receipt := &LoanReceipt{Version: data[0]}
	offset := 1
	receipt.Principal = new(big.Int).SetBytes(data[offset : offset+wordSize])
	offset += wordSize
	receipt.Repayment = new(big.Int).SetBytes(data[offset : offset+wordSize])
	offset += wordSize
	receipt.AdminFee = new(big.Int).SetBytes(data[offset : offset+wordSize])
	offset += wordSize
	receipt.Borrower = common.BytesToAddress(data[offset : offset+addressSize])
	offset += addressSize
	receipt.Maturity = binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8
	receipt.Duration = binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8
	receipt.CollateralToken = common.BytesToAddress(data[offset : offset+addressSize])
	offset += addressSize
	receipt.CollateralTokenID = new(big.Int).SetBytes(data[offset : offset+wordSize])
	offset += wordSize
	ctxLen := int(binary.BigEndian.Uint16(data[offset : offset+2]))
	offset += 2
	if len(data) < offset+ctxLen {
		return nil, ErrInvalidReceiptEncoding
	}
	if ctxLen > 0 {
		receipt.CollateralWrapperContext = append([]byte(nil), data[offset:offset+ctxLen]...)
	}
	offset += ctxLen
	remaining := len(data) - offset
	if remaining%nodeReceiptSize != 0 {
		return nil, ErrInvalidReceiptEncoding
	}
	count := remaining / nodeReceiptSize
	if count > 0 {
		receipt.NodeReceipts = make([]NodeReceipt, count)
		for i := 0; i < count; i++ {
			receipt.NodeReceipts[i] = NodeReceipt{
				Tick:    new(big.Int).SetBytes(data[offset : offset+uint128Size]),
				Used:    new(big.Int).SetBytes(data[offset+uint128Size : offset+2*uint128Size]),
				Pending: new(big.Int).SetBytes(data[offset+2*uint128Size : offset+3*uint128Size]),
			}
			offset += nodeReceiptSize
		}
	}
	return receipt, nil
}

func writeWord(buf *bytes.Buffer, v *big.Int) error {
	return writeFixed(buf, v, wordSize)
}

func writeUint128(buf *bytes.Buffer, v *big.Int) error {
	return writeFixed(buf, v, uint128Size)
}

func writeFixed(buf *bytes.Buffer, v *big.Int, size int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	if v.Sign() < 0 || v.BitLen() > size*8 {
		return ErrInvalidReceiptEncoding
	}
	word := make([]byte, size)
	v.FillBytes(word)
	buf.Write(word)
	return nil
}
