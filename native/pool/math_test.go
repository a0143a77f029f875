package pool

import (
	"math/big"
	"testing"
)

func TestFixMulDiv(t *testing.T) {
	two := new(big.Int).Mul(big.NewInt(2), fixedPoint)
	three := new(big.Int).Mul(big.NewInt(3), fixedPoint)
	six := new(big.Int).Mul(big.NewInt(6), fixedPoint)
	if got := fixMul(two, three); got.Cmp(six) != 0 {
		t.Fatalf("fixMul(2, 3) = %s", got)
	}
	if got := fixDiv(six, three); got.Cmp(two) != 0 {
		t.Fatalf("fixDiv(6, 3) = %s", got)
	}
	if got := fixDiv(six, big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("fixDiv by zero = %s", got)
	}
	// Truncation, not rounding.
	if got := fixMul(big.NewInt(1), big.NewInt(1)); got.Sign() != 0 {
		t.Fatalf("fixMul(1e-18, 1e-18) = %s, want 0", got)
	}
}

func TestMulDivTruncates(t *testing.T) {
	if got := mulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3)); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("mulDiv(10, 1, 3) = %s, want 3", got)
	}
	if got := mulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("mulDiv with zero denominator = %s", got)
	}
}

func TestBpsShare(t *testing.T) {
	if got := bpsShare(big.NewInt(10_000), 500); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("bpsShare(10000, 500) = %s", got)
	}
	if got := bpsShare(big.NewInt(10_000), 0); got.Sign() != 0 {
		t.Fatalf("bpsShare with zero bps = %s", got)
	}
	if got := bpsShare(big.NewInt(3), 9500); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("bpsShare(3, 9500) = %s, want 2", got)
	}
}

func TestNormalizeRate(t *testing.T) {
	tenPercent := new(big.Int).Quo(fixedPoint, big.NewInt(10))
	want := new(big.Int).Quo(tenPercent, big.NewInt(secondsPerYear))
	if got := NormalizeRate(tenPercent); got.Cmp(want) != 0 {
		t.Fatalf("NormalizeRate = %s, want %s", got, want)
	}
	if got := NormalizeRate(nil); got.Sign() != 0 {
		t.Fatalf("NormalizeRate(nil) = %s", got)
	}
}
