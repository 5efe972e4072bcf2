package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/gopiinho/stablecoin/internal/event"
)

// Liquidation state is purely derived, never stored: an account is
// liquidatable exactly when its health factor is below the minimum. Any
// third party may repay part of an unhealthy account's debt and seize the
// debt-equivalent collateral plus a bonus.

// Liquidate covers debtToCover (wad USD) of user's debt from the
// liquidator's own synthetic balance and seizes the equivalent of
// collateralAsset plus the liquidation bonus.
//
// The whole call aborts unless user's health factor ends strictly above
// where it started: a liquidation whose bonus math would worsen a thin
// position is refused outright. The liquidator's own position must also
// remain solvent afterward.
func (e *Engine) Liquidate(liquidator uuid.UUID, collateralAsset string, user uuid.UUID, debtToCover *big.Int) error {
	return e.protect("liquidate", func(tx *txState) error {
		if debtToCover == nil || debtToCover.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if !e.registry.IsRegistered(collateralAsset) {
			return fmt.Errorf("%w: %s", ErrUnregisteredAsset, collateralAsset)
		}

		startingHealth, err := e.healthFactor(tx, user)
		if err != nil {
			return err
		}
		if startingHealth.Cmp(MinHealthFactor()) >= 0 {
			return fmt.Errorf("%w: account %s factor %s", ErrHealthFactorOK, user, startingHealth)
		}

		seizeBase, err := e.tokenAmountFromUsd(collateralAsset, debtToCover)
		if err != nil {
			return err
		}
		bonus := new(big.Int).Mul(seizeBase, big.NewInt(LiquidationBonus))
		bonus.Quo(bonus, big.NewInt(LiquidationPrecision))
		seized := new(big.Int).Add(seizeBase, bonus)

		if err := e.stageWithdraw(tx, user, liquidator, collateralAsset, seized); err != nil {
			return err
		}
		if err := e.stageBurn(tx, user, liquidator, debtToCover); err != nil {
			return err
		}

		endingHealth, err := e.healthFactor(tx, user)
		if err != nil {
			return err
		}
		if endingHealth.Cmp(startingHealth) <= 0 {
			return fmt.Errorf("%w: account %s factor %s -> %s",
				ErrHealthFactorNotImproved, user, startingHealth, endingHealth)
		}

		// The liquidator may hold a debt position of its own and must
		// remain solvent after funding the burn.
		if err := e.enforceSolvency(tx, liquidator); err != nil {
			return err
		}

		if err := e.pullAndBurnDsc(liquidator, debtToCover); err != nil {
			return err
		}
		if err := e.pushCollateral(liquidator, collateralAsset, seized); err != nil {
			// The debt burn already settled; re-mint to the liquidator so
			// the discarded stage leaves no partial effect.
			if rerr := e.authority.Mint(liquidator, debtToCover); rerr != nil {
				e.log.Error().Err(rerr).Str("liquidator", liquidator.String()).Msg("re-mint failed after failed seizure push")
			}
			e.observeSupply()
			return err
		}

		tx.emit(&event.LiquidationExecuted{
			Liquidator:       liquidator,
			User:             user,
			Asset:            collateralAsset,
			DebtCovered:      new(big.Int).Set(debtToCover),
			CollateralSeized: seized,
			HealthBefore:     startingHealth,
			HealthAfter:      endingHealth,
		})
		if e.metrics != nil {
			e.metrics.LiquidationsTotal.Inc()
		}
		e.log.Info().
			Str("user", user.String()).
			Str("liquidator", liquidator.String()).
			Str("asset", collateralAsset).
			Str("debt_covered", debtToCover.String()).
			Str("collateral_seized", seized.String()).
			Msg("liquidation executed")
		return nil
	})
}
