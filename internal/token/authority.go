package token

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Authority is the exclusive mint/burn capability over one ledger. It is
// an explicit capability value checked by possession, not by ambient
// identity: whoever holds the Authority controls total supply, nobody
// else can.
type Authority struct {
	ledger *Ledger
}

// Ledger returns the ledger this authority controls.
func (a *Authority) Ledger() *Ledger {
	return a.ledger
}

// Mint increases to's balance and total supply.
func (a *Authority) Mint(to uuid.UUID, amount *big.Int) error {
	if to == uuid.Nil {
		return ErrNilAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// Burn decreases from's balance and total supply. Fails rather than
// underflow the holder's balance.
func (a *Authority) Burn(from uuid.UUID, amount *big.Int) error {
	if from == uuid.Nil {
		return ErrNilAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l := a.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s exceeds balance %s", ErrInsufficientBalance, amount, bal)
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}
