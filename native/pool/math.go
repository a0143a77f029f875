package pool

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	fixedPoint  = mustBigInt("1000000000000000000") // 1e18
)

// secondsPerYear normalises annual rates to per-second rates (365-day year).
const secondsPerYear = 31_536_000

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// fixMul returns floor(x * y / 1e18).
func fixMul(x, y *big.Int) *big.Int {
	if x == nil || y == nil {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(x, y)
	return product.Quo(product, fixedPoint)
}

// fixDiv returns floor(x * 1e18 / y). A zero divisor yields zero.
func fixDiv(x, y *big.Int) *big.Int {
	if x == nil || y == nil || y.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(x, fixedPoint)
	return numerator.Quo(numerator, y)
}

// mulDiv returns floor(x * num / den). A zero denominator yields zero.
func mulDiv(x, num, den *big.Int) *big.Int {
	if x == nil || num == nil || den == nil || den.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(x, num)
	return product.Quo(product, den)
}

// bpsShare returns floor(amount * bps / 10000).
func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// NormalizeRate converts an 18-decimal annual rate into the per-second rate
// used by the sourcing math.
func NormalizeRate(annual *big.Int) *big.Int {
	if annual == nil || annual.Sign() <= 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(annual, big.NewInt(secondsPerYear))
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
