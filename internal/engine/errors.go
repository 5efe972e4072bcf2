package engine

import "errors"

// Sentinel errors for the engine's failure taxonomy. Every failure aborts
// the entire enclosing operation with no partial effect; nothing is
// retried internally.
var (
	// Validation
	ErrInvalidAmount     = errors.New("engine: amount must be positive")
	ErrUnregisteredAsset = errors.New("engine: asset not registered as collateral")
	ErrRegistryMismatch  = errors.New("engine: collateral asset and price feed lists differ in length")

	// Transfers
	ErrTransferFailed = errors.New("engine: asset transfer failed")

	// Solvency
	ErrHealthFactorBroken = errors.New("engine: health factor below minimum")

	// Authority
	ErrMintDeclined = errors.New("engine: synthetic mint declined")
	ErrBurnDeclined = errors.New("engine: synthetic burn declined")

	// Ledger bounds
	ErrInsufficientCollateral = errors.New("engine: withdrawal exceeds deposited collateral")
	ErrInsufficientDebt       = errors.New("engine: burn exceeds minted debt")

	// Liquidation
	ErrHealthFactorOK          = errors.New("engine: health factor above minimum, account not liquidatable")
	ErrHealthFactorNotImproved = errors.New("engine: liquidation would not improve target health factor")

	// Reentrancy
	ErrReentrantCall = errors.New("engine: reentrant call rejected")
)
