package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/gopiinho/stablecoin/internal/fpmath"
)

// Solvency constants. All USD values and token amounts are wad (1e18)
// fixed point; the synthetic token is valued at its $1 peg.
const (
	// LiquidationThreshold is the percent of raw collateral value counted
	// toward solvency.
	LiquidationThreshold = 50
	// LiquidationPrecision is the percentage denominator.
	LiquidationPrecision = 100
	// LiquidationBonus is the percent of the seized base paid to the
	// liquidator on top of the debt-equivalent collateral.
	LiquidationBonus = 10
)

// MinHealthFactor is the solvency floor: a wad ratio of 1.0.
func MinHealthFactor() *big.Int {
	return fpmath.Wad()
}

// UnboundedHealthFactor is the sentinel returned for accounts with zero
// debt: no debt, no risk.
func UnboundedHealthFactor() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}

// priceWad reads the asset's feed through the staleness guard and returns
// the USD price scaled to wad.
func (e *Engine) priceWad(asset string) (*big.Int, error) {
	feed, ok := e.registry.Feed(asset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset)
	}
	rd, err := e.guard.LatestRoundData(feed)
	if err != nil {
		if e.metrics != nil {
			e.metrics.OracleStaleTotal.WithLabelValues(asset).Inc()
		}
		return nil, err
	}
	return fpmath.ScaleToWad(rd.Answer, feed.Decimals()), nil
}

// usdValue converts a wad asset amount to wad USD at the current price.
func (e *Engine) usdValue(asset string, amount *big.Int) (*big.Int, error) {
	price, err := e.priceWad(asset)
	if err != nil {
		return nil, err
	}
	return fpmath.WadMul(amount, price), nil
}

// tokenAmountFromUsd converts a wad USD amount to wad asset units at the
// current price.
func (e *Engine) tokenAmountFromUsd(asset string, usd *big.Int) (*big.Int, error) {
	price, err := e.priceWad(asset)
	if err != nil {
		return nil, err
	}
	return fpmath.WadDiv(usd, price), nil
}

// collateralValue sums the USD value of every registered asset the
// account has deposited, in registration order.
func (e *Engine) collateralValue(view balanceView, account uuid.UUID) (*big.Int, error) {
	total := new(big.Int)
	for _, sym := range e.registry.Symbols() {
		amount := view.collateralOf(account, sym)
		if amount.Sign() == 0 {
			continue
		}
		v, err := e.usdValue(sym, amount)
		if err != nil {
			return nil, err
		}
		total.Add(total, v)
	}
	return total, nil
}

// healthFactor computes (collateral value * threshold) / debt as a wad
// ratio. Zero-debt accounts get the unbounded sentinel and never touch
// the oracle.
func (e *Engine) healthFactor(view balanceView, account uuid.UUID) (*big.Int, error) {
	debt := view.debtOf(account)
	if debt.Sign() == 0 {
		return UnboundedHealthFactor(), nil
	}

	collateralUsd, err := e.collateralValue(view, account)
	if err != nil {
		return nil, err
	}

	adjusted := fpmath.MulDiv(collateralUsd, big.NewInt(LiquidationThreshold), big.NewInt(LiquidationPrecision))
	return fpmath.WadDiv(adjusted, debt), nil
}

// enforceSolvency aborts the in-flight operation if the account's health
// factor is below the minimum. Called as the final check of every
// operation that can reduce collateral cover or raise debt.
func (e *Engine) enforceSolvency(view balanceView, account uuid.UUID) error {
	hf, err := e.healthFactor(view, account)
	if err != nil {
		return err
	}
	if hf.Cmp(MinHealthFactor()) < 0 {
		return fmt.Errorf("%w: account %s factor %s", ErrHealthFactorBroken, account, hf)
	}
	return nil
}
