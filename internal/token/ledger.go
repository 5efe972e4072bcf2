package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrNilAccount            = errors.New("token: nil account")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
)

// Asset is the narrow capability the engine needs from a collateral asset:
// balance query plus custody transfer. Implementations may run arbitrary
// code on Transfer; the engine treats them as untrusted.
type Asset interface {
	Symbol() string
	BalanceOf(account uuid.UUID) *big.Int
	Transfer(from, to uuid.UUID, amount *big.Int) error
}

// Ledger is an in-process fungible balance ledger with total supply.
// Ordinary holders transfer and approve; only the Authority returned at
// construction can mint or burn (the only supply-changing operations).
type Ledger struct {
	mu         sync.Mutex
	name       string
	symbol     string
	balances   map[uuid.UUID]*big.Int
	allowances map[uuid.UUID]map[uuid.UUID]*big.Int
	supply     *big.Int
}

// NewLedger creates a ledger with zero supply and returns the one
// Authority capable of minting and burning on it. The caller decides who
// holds the capability; it is never retrievable from the ledger afterward.
func NewLedger(name, symbol string) (*Ledger, *Authority) {
	l := &Ledger{
		name:       name,
		symbol:     symbol,
		balances:   make(map[uuid.UUID]*big.Int),
		allowances: make(map[uuid.UUID]map[uuid.UUID]*big.Int),
		supply:     new(big.Int),
	}
	return l, &Authority{ledger: l}
}

func (l *Ledger) Name() string   { return l.name }
func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) TotalSupply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

func (l *Ledger) BalanceOf(account uuid.UUID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(account))
}

// Transfer moves amount from one holder to another. Balance-preserving:
// total supply is untouched.
func (l *Ledger) Transfer(from, to uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(from, to, amount)
}

// Approve lets spender move up to amount of owner's balance via
// TransferFrom. Overwrites any prior allowance.
func (l *Ledger) Approve(owner, spender uuid.UUID, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[uuid.UUID]*big.Int)
	}
	l.allowances[owner][spender] = new(big.Int).Set(amount)
	return nil
}

func (l *Ledger) Allowance(owner, spender uuid.UUID) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// TransferFrom spends an allowance granted by from to move amount to to.
func (l *Ledger) TransferFrom(spender, from, to uuid.UUID, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed, ok := l.allowances[from][spender]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: spender %s on %s", ErrInsufficientAllowance, spender, l.symbol)
	}
	if err := l.transfer(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

func (l *Ledger) balance(account uuid.UUID) *big.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return new(big.Int)
}

func (l *Ledger) transfer(from, to uuid.UUID, amount *big.Int) error {
	if from == uuid.Nil || to == uuid.Nil {
		return ErrNilAccount
	}
	if amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s has %s %s, needs %s",
			ErrInsufficientBalance, from, bal, l.symbol, amount)
	}
	l.balances[from] = new(big.Int).Sub(bal, amount)
	l.balances[to] = new(big.Int).Add(l.balance(to), amount)
	return nil
}
