package fpmath_test

import (
	"math/big"
	"testing"

	"github.com/gopiinho/stablecoin/internal/fpmath"
)

func TestWad(t *testing.T) {
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if fpmath.Wad().Cmp(want) != 0 {
		t.Errorf("got %s, want %s", fpmath.Wad(), want)
	}
}

func TestWadMul(t *testing.T) {
	// 15 ETH * $2000 = $30,000
	amount := fpmath.FromUnits(15)
	price := fpmath.FromUnits(2000)

	got := fpmath.WadMul(amount, price)
	want := fpmath.FromUnits(30_000)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestWadMul_LargeValuesDoNotOverflow(t *testing.T) {
	// 10 million units at $100k each: the intermediate product is ~1e49,
	// far past uint64.
	amount := fpmath.FromUnits(10_000_000)
	price := fpmath.FromUnits(100_000)

	got := fpmath.WadMul(amount, price)
	want := fpmath.FromUnits(1_000_000_000_000)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestWadDiv(t *testing.T) {
	// $100 / $2000 per unit = 0.05 units
	usd := fpmath.FromUnits(100)
	price := fpmath.FromUnits(2000)

	got := fpmath.WadDiv(usd, price)
	want, _ := new(big.Int).SetString("50000000000000000", 10) // 0.05e18
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestWadDiv_TruncatesTowardZero(t *testing.T) {
	got := fpmath.WadDiv(big.NewInt(1), fpmath.FromUnits(3))
	if got.Sign() != 0 {
		t.Errorf("got %s, want 0", got)
	}
}

func TestScaleToWad_FromFeedDecimals(t *testing.T) {
	// 2000.00000000 at 8 decimals -> 2000e18
	answer := big.NewInt(2000_0000_0000)

	got := fpmath.ScaleToWad(answer, 8)
	want := fpmath.FromUnits(2000)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestScaleToWad_SameDecimalsUnchanged(t *testing.T) {
	v := fpmath.FromUnits(42)
	got := fpmath.ScaleToWad(v, 18)
	if got.Cmp(v) != 0 {
		t.Errorf("got %s, want %s", got, v)
	}
}

func TestScaleToWad_HigherDecimalsScaledDown(t *testing.T) {
	// 1.5 at 20 decimals
	v, _ := new(big.Int).SetString("150000000000000000000", 10)

	got := fpmath.ScaleToWad(v, 20)
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMulDiv(t *testing.T) {
	// 30_000e18 * 50 / 100 = 15_000e18
	got := fpmath.MulDiv(fpmath.FromUnits(30_000), big.NewInt(50), big.NewInt(100))
	want := fpmath.FromUnits(15_000)
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMulDiv_DoesNotMutateInputs(t *testing.T) {
	a := fpmath.FromUnits(7)
	b := fpmath.FromUnits(3)
	aCopy := new(big.Int).Set(a)
	bCopy := new(big.Int).Set(b)

	fpmath.MulDiv(a, b, fpmath.Wad())

	if a.Cmp(aCopy) != 0 || b.Cmp(bCopy) != 0 {
		t.Error("inputs were mutated")
	}
}
