package pool

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Loan options are a TLV sequence: tag(2) length(2) value(length), big-endian.
// Low tags are reserved for the recognized kinds; unknown tags are skipped.
const (
	optionTagWrapperContext uint16 = 1
	optionTagMerkleProof    uint16 = 2
	optionTagDelegateV1     uint16 = 3
	optionTagDelegateV2     uint16 = 4
)

type loanOptions struct {
	wrapperContext []byte
	merkleProof    []byte
	delegateV1     *common.Address
	delegateV2     *common.Address
}

// parseLoanOptions walks the TLV blob. Truncated records and malformed
// delegate payloads are rejected; unrecognized tags are passed over.
func parseLoanOptions(data []byte) (*loanOptions, error) {
	opts := &loanOptions{}
	for offset := 0; offset < len(data); {
		if len(data)-offset < 4 {
			return nil, ErrInvalidParameters
		}
		tag := binary.BigEndian.Uint16(data[offset : offset+2])
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		offset += 4
		if len(data)-offset < length {
			return nil, ErrInvalidParameters
		}
		value := data[offset : offset+length]
		offset += length
		switch tag {
		case optionTagWrapperContext:
			opts.wrapperContext = append([]byte(nil), value...)
		case optionTagMerkleProof:
			opts.merkleProof = append([]byte(nil), value...)
		case optionTagDelegateV1:
			if length != common.AddressLength {
				return nil, ErrInvalidParameters
			}
			addr := common.BytesToAddress(value)
			opts.delegateV1 = &addr
		case optionTagDelegateV2:
			if length != common.AddressLength {
				return nil, ErrInvalidParameters
			}
			addr := common.BytesToAddress(value)
			opts.delegateV2 = &addr
		}
	}
	return opts, nil
}

// delegation returns the requested delegation, v2 taking precedence when both
// tags are present.
func (o *loanOptions) delegation() *Delegation {
	if o.delegateV2 != nil {
		return &Delegation{Version: 2, Delegate: *o.delegateV2}
	}
	if o.delegateV1 != nil {
		return &Delegation{Version: 1, Delegate: *o.delegateV1}
	}
	return nil
}
