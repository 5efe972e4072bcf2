package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/gopiinho/stablecoin/internal/event"
)

// collateralKey addresses one (account, asset) slot in the collateral
// ledger.
type collateralKey struct {
	Account uuid.UUID
	Asset   string
}

// ledgerState is the committed per-account state: deposited collateral by
// (account, asset) and minted debt by account. Entries are created
// implicitly on first use and only ever driven to zero, never deleted.
type ledgerState struct {
	collateral map[collateralKey]*big.Int
	debt       map[uuid.UUID]*big.Int
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		collateral: make(map[collateralKey]*big.Int),
		debt:       make(map[uuid.UUID]*big.Int),
	}
}

// balanceView is what valuation needs from either the committed state or
// an in-flight overlay.
type balanceView interface {
	collateralOf(account uuid.UUID, asset string) *big.Int
	debtOf(account uuid.UUID) *big.Int
}

func (s *ledgerState) collateralOf(account uuid.UUID, asset string) *big.Int {
	if b, ok := s.collateral[collateralKey{account, asset}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (s *ledgerState) debtOf(account uuid.UUID) *big.Int {
	if d, ok := s.debt[account]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// txState stages one operation's mutations. Reads fall through to the
// committed state; writes stay in the overlay until commit. Discarding an
// uncommitted txState is the whole-operation rollback: the committed
// ledgers are untouched by construction.
type txState struct {
	base       *ledgerState
	collateral map[collateralKey]*big.Int
	debt       map[uuid.UUID]*big.Int
	events     []event.Event
}

func newTxState(base *ledgerState) *txState {
	return &txState{
		base:       base,
		collateral: make(map[collateralKey]*big.Int),
		debt:       make(map[uuid.UUID]*big.Int),
	}
}

func (tx *txState) collateralOf(account uuid.UUID, asset string) *big.Int {
	if b, ok := tx.collateral[collateralKey{account, asset}]; ok {
		return new(big.Int).Set(b)
	}
	return tx.base.collateralOf(account, asset)
}

func (tx *txState) debtOf(account uuid.UUID) *big.Int {
	if d, ok := tx.debt[account]; ok {
		return new(big.Int).Set(d)
	}
	return tx.base.debtOf(account)
}

// addCollateral applies a signed delta, refusing to underflow.
func (tx *txState) addCollateral(account uuid.UUID, asset string, delta *big.Int) error {
	next := new(big.Int).Add(tx.collateralOf(account, asset), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: account %s asset %s", ErrInsufficientCollateral, account, asset)
	}
	tx.collateral[collateralKey{account, asset}] = next
	return nil
}

// addDebt applies a signed delta, refusing to underflow.
func (tx *txState) addDebt(account uuid.UUID, delta *big.Int) error {
	next := new(big.Int).Add(tx.debtOf(account), delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: account %s", ErrInsufficientDebt, account)
	}
	tx.debt[account] = next
	return nil
}

// emit queues an event for publication after commit.
func (tx *txState) emit(e event.Event) {
	tx.events = append(tx.events, e)
}

// commit writes the overlay into the committed state.
func (tx *txState) commit() {
	for k, v := range tx.collateral {
		tx.base.collateral[k] = v
	}
	for k, v := range tx.debt {
		tx.base.debt[k] = v
	}
}
