package fpmath

import "math/big"

// WadDecimals is the shared fixed-point precision for token amounts and
// USD values throughout the engine.
const WadDecimals = 18

// Wad returns the 18-decimal fixed-point unit (1e18) as a fresh big.Int.
func Wad() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)
}

// MulDiv computes a * b / denom with an arbitrary-precision intermediate,
// truncating toward zero. The 256-bit-wide products that show up in wad
// valuation math do not fit in int64/uint64, hence big.Int throughout.
func MulDiv(a, b, denom *big.Int) *big.Int {
	prod := new(big.Int).Mul(a, b)
	return prod.Quo(prod, denom)
}

// WadMul computes a * b / 1e18.
func WadMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad())
}

// WadDiv computes a * 1e18 / b.
func WadDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad(), b)
}

// ScaleToWad lifts a value carrying `decimals` fractional digits to wad
// precision. Feeds quote at their own precision (Chainlink-style feeds use
// 8); the engine values everything at 18.
func ScaleToWad(v *big.Int, decimals uint8) *big.Int {
	if decimals >= WadDecimals {
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)-WadDecimals), nil)
		return new(big.Int).Quo(v, div)
	}
	mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals-int64(decimals)), nil)
	return new(big.Int).Mul(v, mul)
}

// FromUnits returns whole * 1e18, convenient for building wad amounts.
func FromUnits(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), Wad())
}
