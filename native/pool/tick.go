package pool

import (
	"math/big"

	"github.com/holiman/uint256"
)

// A tick packs (limit, duration class, rate class, reserved) into a single
// 128-bit key whose natural numeric order is the ledger order:
//
//	bits 127..8  limit (18-decimal fixed point)
//	bits   7..5  duration class
//	bits   4..2  rate class
//	bits   1..0  reserved, must be zero
const (
	tickBits         = 128
	tickLimitBits    = 120
	tickLimitShift   = 8
	tickDurationMask = 0x7
	tickRateMask     = 0x7
	tickReservedMask = 0x3
)

// tickKey is a tick rendered as fixed-width big-endian bytes so that byte
// order equals numeric order. The zero key is the sentinel.
type tickKey [16]byte

var sentinelKey tickKey

// TickFields is the unpacked form of a tick.
type TickFields struct {
	Limit         *big.Int
	DurationIndex uint8
	RateIndex     uint8
	Reserved      uint8
}

// EncodeTick packs the fields into a tick. A zero limit, a limit wider than
// 120 bits, a class index outside [0, 7], or a nonzero reserved field is
// rejected with ErrInvalidTick.
func EncodeTick(limit *big.Int, durationIndex, rateIndex, reserved uint8) (*big.Int, error) {
	if limit == nil || limit.Sign() <= 0 || limit.BitLen() > tickLimitBits {
		return nil, ErrInvalidTick
	}
	if durationIndex > tickDurationMask || rateIndex > tickRateMask || reserved != 0 {
		return nil, ErrInvalidTick
	}
	packed, overflow := uint256.FromBig(limit)
	if overflow {
		return nil, ErrInvalidTick
	}
	packed.Lsh(packed, tickLimitShift)
	packed.Or(packed, uint256.NewInt(uint64(durationIndex)<<5|uint64(rateIndex)<<2|uint64(reserved)))
	return packed.ToBig(), nil
}

// DecodeTick unpacks a tick. Anything wider than 128 bits is rejected; the
// field values themselves are not validated here.
func DecodeTick(tick *big.Int) (TickFields, error) {
	if tick == nil || tick.Sign() < 0 || tick.BitLen() > tickBits {
		return TickFields{}, ErrInvalidTick
	}
	packed, overflow := uint256.FromBig(tick)
	if overflow {
		return TickFields{}, ErrInvalidTick
	}
	low := packed.Uint64()
	limit := new(uint256.Int).Rsh(packed, tickLimitShift)
	return TickFields{
		Limit:         limit.ToBig(),
		DurationIndex: uint8(low >> 5 & tickDurationMask),
		RateIndex:     uint8(low >> 2 & tickRateMask),
		Reserved:      uint8(low & tickReservedMask),
	}, nil
}

// validateTick decodes a tick and checks it against the pool's duration and
// rate tables.
func validateTick(tick *big.Int, durations int, rates int) (TickFields, error) {
	fields, err := DecodeTick(tick)
	if err != nil {
		return TickFields{}, err
	}
	if fields.Limit.Sign() == 0 || fields.Reserved != 0 {
		return TickFields{}, ErrInvalidTick
	}
	if int(fields.DurationIndex) >= durations || int(fields.RateIndex) >= rates {
		return TickFields{}, ErrInvalidTick
	}
	return fields, nil
}

func keyForTick(tick *big.Int) (tickKey, error) {
	var key tickKey
	if tick == nil || tick.Sign() < 0 || tick.BitLen() > tickBits {
		return key, ErrInvalidTick
	}
	tick.FillBytes(key[:])
	return key, nil
}

func (k tickKey) toBig() *big.Int {
	return new(big.Int).SetBytes(k[:])
}

// spacingSatisfied reports whether the higher limit clears the lower limit by
// at least the configured ratio: high * 10000 >= low * (10000 + spacingBps).
func spacingSatisfied(low, high *big.Int, spacingBps uint64) bool {
	lhs := new(big.Int).Mul(high, basisPoints)
	rhs := new(big.Int).Mul(low, new(big.Int).SetUint64(10_000+spacingBps))
	return lhs.Cmp(rhs) >= 0
}
