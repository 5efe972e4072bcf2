package engine

import (
	"bytes"
	"fmt"
	"math/big"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gopiinho/stablecoin/internal/event"
	"github.com/gopiinho/stablecoin/internal/observability"
	"github.com/gopiinho/stablecoin/internal/oracle"
	"github.com/gopiinho/stablecoin/internal/token"
)

// Engine is the collateral/debt accounting core backing the synthetic
// token. It owns the only mint/burn authority over the synthetic supply,
// keeps the per-account collateral and debt ledgers, and refuses to commit
// any operation that would leave the acting account below the minimum
// health factor.
//
// Every public state-changing operation is atomic: mutations are staged on
// an overlay and committed only after every downstream check (solvency,
// transfer success) passes. On any failure the overlay is discarded and
// the ledgers are exactly as before the call.
type Engine struct {
	registry  *Registry
	guard     *oracle.Guard
	dsc       *token.Ledger
	authority *token.Authority

	// custody is the engine's own account on the asset and synthetic
	// ledgers: pulled collateral and escrowed synthetic balances are
	// booked under it.
	custody uuid.UUID

	mu    sync.RWMutex
	owner atomic.Uint64 // goroutine id of the in-flight operation, 0 when idle
	state *ledgerState

	sequence    int64
	persistChan chan<- event.Envelope
	publishChan chan<- event.Envelope

	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Config wires an Engine. CollateralAssets[i] is priced by PriceFeeds[i];
// the lists must have equal length or construction fails before any state
// exists. Synthetic/Authority must come from the same token.NewLedger call
// so the engine holds the sole supply capability.
type Config struct {
	CollateralAssets []token.Asset
	PriceFeeds       []oracle.PriceFeed
	Synthetic        *token.Ledger
	Authority        *token.Authority

	Guard *oracle.Guard // nil means oracle.NewGuard()

	// PersistChan receives every committed event (blocking send: the
	// engine stalls rather than lose an event). PublishChan is best-effort
	// (non-blocking send, dropped when full). Either may be nil.
	PersistChan chan<- event.Envelope
	PublishChan chan<- event.Envelope

	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time

	// StartSequence is the first sequence number to assign to emitted
	// events; a restarted service resumes from its persisted log head.
	StartSequence int64
}

func New(cfg Config) (*Engine, error) {
	registry, err := NewRegistry(cfg.CollateralAssets, cfg.PriceFeeds)
	if err != nil {
		return nil, err
	}
	if cfg.Synthetic == nil || cfg.Authority == nil {
		return nil, fmt.Errorf("engine: synthetic ledger and authority are required")
	}
	if cfg.Authority.Ledger() != cfg.Synthetic {
		return nil, fmt.Errorf("engine: authority does not control the synthetic ledger")
	}

	guard := cfg.Guard
	if guard == nil {
		guard = oracle.NewGuard()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		registry:    registry,
		guard:       guard,
		dsc:         cfg.Synthetic,
		authority:   cfg.Authority,
		custody:     uuid.New(),
		state:       newLedgerState(),
		sequence:    cfg.StartSequence,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		now:         now,
	}, nil
}

// CustodyAccount returns the engine's custody account on the asset and
// synthetic ledgers.
func (e *Engine) CustodyAccount() uuid.UUID {
	return e.custody
}

// callerGID reads the running goroutine's id out of the runtime stack
// header ("goroutine 123 [running]:"). Goroutine ids start at 1, so 0 is
// free to mean "no operation in flight".
func callerGID() uint64 {
	var buf [64]byte
	s := buf[:runtime.Stack(buf[:], false)]
	s = s[len("goroutine "):]
	i := bytes.IndexByte(s, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(s[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// protect runs fn as one atomic operation: reentrancy-guarded, serialized,
// committed and published only on success.
//
// The owner field is the reentrancy guard: asset transfers invoke
// external, untrusted code, and any nested call back into a protected
// operation from the same call stack sees its own goroutine id as the
// owner and is rejected before it can deadlock on the mutex or observe
// staged state. Independent callers never match the owner and serialize
// on the mutex like any other writer.
func (e *Engine) protect(op string, fn func(tx *txState) error) error {
	id := callerGID()
	if e.owner.Load() == id {
		return fmt.Errorf("%w: %s", ErrReentrantCall, op)
	}

	start := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.owner.Store(id)
	defer e.owner.Store(0)

	tx := newTxState(e.state)
	if err := fn(tx); err != nil {
		e.recordOp(op, "rejected", start)
		e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
		return err
	}

	tx.commit()
	e.emitAll(tx.events)
	e.recordOp(op, "applied", start)
	return nil
}

func (e *Engine) recordOp(op, outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.EngineOpsTotal.WithLabelValues(op, outcome).Inc()
	e.metrics.EngineOpDuration.WithLabelValues(op).Observe(e.now().Sub(start).Seconds())
}

// emitAll wraps committed events in envelopes and hands them to the
// persistence and publish channels. Persist sends block (no event may be
// lost); publish sends drop when the consumer falls behind.
func (e *Engine) emitAll(events []event.Event) {
	for _, ev := range events {
		env := event.Envelope{
			Sequence:  e.sequence,
			EventID:   uuid.New(),
			Type:      ev.EventType(),
			Timestamp: e.now(),
			Payload:   ev,
		}
		e.sequence++

		if e.metrics != nil {
			e.metrics.EventsEmitted.WithLabelValues(env.Type.String()).Inc()
		}
		if e.persistChan != nil {
			e.persistChan <- env
		}
		if e.publishChan != nil {
			select {
			case e.publishChan <- env:
			default:
				if e.metrics != nil {
					e.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Staged sub-operations. Each stages ledger mutations and queues events;
// external moves happen in the public operations after all staged checks.
// ---------------------------------------------------------------------------

func (e *Engine) stageDeposit(tx *txState, account uuid.UUID, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.IsRegistered(asset) {
		return fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset)
	}
	if err := tx.addCollateral(account, asset, amount); err != nil {
		return err
	}
	tx.emit(&event.CollateralDeposited{Account: account, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) stageWithdraw(tx *txState, from, to uuid.UUID, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !e.registry.IsRegistered(asset) {
		return fmt.Errorf("%w: %s", ErrUnregisteredAsset, asset)
	}
	if err := tx.addCollateral(from, asset, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	tx.emit(&event.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) stageMint(tx *txState, account uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := tx.addDebt(account, amount); err != nil {
		return err
	}
	tx.emit(&event.DebtMinted{Account: account, Amount: new(big.Int).Set(amount)})
	return nil
}

func (e *Engine) stageBurn(tx *txState, onBehalfOf, payer uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := tx.addDebt(onBehalfOf, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	tx.emit(&event.DebtBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: new(big.Int).Set(amount)})
	return nil
}

// pullCollateral moves amount of asset from the holder into engine
// custody via the asset's own transfer mechanism.
func (e *Engine) pullCollateral(from uuid.UUID, asset string, amount *big.Int) error {
	impl, _ := e.registry.Asset(asset)
	if err := impl.Transfer(from, e.custody, amount); err != nil {
		return fmt.Errorf("%w: pull %s %s from %s: %v", ErrTransferFailed, amount, asset, from, err)
	}
	return nil
}

// pushCollateral moves amount of asset from engine custody to the
// recipient.
func (e *Engine) pushCollateral(to uuid.UUID, asset string, amount *big.Int) error {
	impl, _ := e.registry.Asset(asset)
	if err := impl.Transfer(e.custody, to, amount); err != nil {
		return fmt.Errorf("%w: push %s %s to %s: %v", ErrTransferFailed, amount, asset, to, err)
	}
	return nil
}

// pullAndBurnDsc escrows amount of the synthetic token from payer and
// destroys it. If the burn somehow declines after a successful pull, the
// escrow is returned so no caller funds are stranded.
func (e *Engine) pullAndBurnDsc(payer uuid.UUID, amount *big.Int) error {
	if err := e.dsc.Transfer(payer, e.custody, amount); err != nil {
		return fmt.Errorf("%w: pull %s %s from %s: %v", ErrTransferFailed, amount, e.dsc.Symbol(), payer, err)
	}
	if err := e.authority.Burn(e.custody, amount); err != nil {
		if rerr := e.dsc.Transfer(e.custody, payer, amount); rerr != nil {
			e.log.Error().Err(rerr).Str("payer", payer.String()).Msg("escrow return failed after declined burn")
		}
		return fmt.Errorf("%w: %v", ErrBurnDeclined, err)
	}
	e.observeSupply()
	return nil
}

func (e *Engine) observeSupply() {
	if e.metrics == nil {
		return
	}
	supply, _ := new(big.Float).SetInt(e.dsc.TotalSupply()).Float64()
	e.metrics.SyntheticSupply.Set(supply / 1e18)
}

// ---------------------------------------------------------------------------
// Public operations
// ---------------------------------------------------------------------------

// DepositCollateral records amount of asset against account and pulls it
// into engine custody. The depositor's health factor is re-validated after
// the transfer so a composed deposit+mint is never judged against stale
// state.
func (e *Engine) DepositCollateral(account uuid.UUID, asset string, amount *big.Int) error {
	return e.protect("deposit_collateral", func(tx *txState) error {
		if err := e.stageDeposit(tx, account, asset, amount); err != nil {
			return err
		}
		if err := e.enforceSolvency(tx, account); err != nil {
			return err
		}
		return e.pullCollateral(account, asset, amount)
	})
}

// WithdrawCollateral returns amount of asset from account's deposits to
// the account itself. A withdrawal can break solvency even with no debt
// change, so the health factor is enforced on the staged state before the
// asset leaves custody.
func (e *Engine) WithdrawCollateral(account uuid.UUID, asset string, amount *big.Int) error {
	return e.protect("withdraw_collateral", func(tx *txState) error {
		if err := e.stageWithdraw(tx, account, account, asset, amount); err != nil {
			return err
		}
		if err := e.enforceSolvency(tx, account); err != nil {
			return err
		}
		return e.pushCollateral(account, asset, amount)
	})
}

// MintDsc raises account's debt by amount and mints that much synthetic
// token to it, provided the resulting health factor stays at or above the
// minimum.
func (e *Engine) MintDsc(account uuid.UUID, amount *big.Int) error {
	return e.protect("mint_dsc", func(tx *txState) error {
		if err := e.stageMint(tx, account, amount); err != nil {
			return err
		}
		if err := e.enforceSolvency(tx, account); err != nil {
			return err
		}
		if err := e.authority.Mint(account, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrMintDeclined, err)
		}
		e.observeSupply()
		return nil
	})
}

// BurnDsc retires amount of account's own debt, funded from its own
// synthetic balance.
func (e *Engine) BurnDsc(account uuid.UUID, amount *big.Int) error {
	return e.protect("burn_dsc", func(tx *txState) error {
		if err := e.stageBurn(tx, account, account, amount); err != nil {
			return err
		}
		// Solvency is validated for the operation's caller; a burn must
		// not mask an independently broken position.
		if err := e.enforceSolvency(tx, account); err != nil {
			return err
		}
		return e.pullAndBurnDsc(account, amount)
	})
}

// DepositCollateralAndMintDsc composes deposit and mint with one final
// solvency check over the combined staged state.
func (e *Engine) DepositCollateralAndMintDsc(account uuid.UUID, asset string, amount, mintAmount *big.Int) error {
	return e.protect("deposit_and_mint", func(tx *txState) error {
		if err := e.stageDeposit(tx, account, asset, amount); err != nil {
			return err
		}
		if err := e.stageMint(tx, account, mintAmount); err != nil {
			return err
		}
		if err := e.enforceSolvency(tx, account); err != nil {
			return err
		}
		if err := e.pullCollateral(account, asset, amount); err != nil {
			return err
		}
		if err := e.authority.Mint(account, mintAmount); err != nil {
			// Return the already-pulled collateral so the discarded stage
			// leaves no partial effect.
			if rerr := e.pushCollateral(account, asset, amount); rerr != nil {
				e.log.Error().Err(rerr).Str("account", account.String()).Msg("collateral return failed after declined mint")
			}
			return fmt.Errorf("%w: %v", ErrMintDeclined, err)
		}
		e.observeSupply()
		return nil
	})
}

// WithdrawCollateralForDsc composes burn and withdraw: it retires
// burnAmount of account's debt from its own synthetic balance, then
// returns amount of asset, with one final solvency check.
func (e *Engine) WithdrawCollateralForDsc(account uuid.UUID, asset string, amount, burnAmount *big.Int) error {
	return e.protect("withdraw_for_dsc", func(tx *txState) error {
		if err := e.stageBurn(tx, account, account, burnAmount); err != nil {
			return err
		}
		if err := e.stageWithdraw(tx, account, account, asset, amount); err != nil {
			return err
		}
		if err := e.enforceSolvency(tx, account); err != nil {
			return err
		}
		if err := e.pullAndBurnDsc(account, burnAmount); err != nil {
			return err
		}
		if err := e.pushCollateral(account, asset, amount); err != nil {
			// The burn already settled; re-mint so the discarded stage
			// leaves no partial effect.
			if rerr := e.authority.Mint(account, burnAmount); rerr != nil {
				e.log.Error().Err(rerr).Str("account", account.String()).Msg("re-mint failed after failed collateral push")
			}
			e.observeSupply()
			return err
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// Read-only accessors. These never mutate and never fail under valid
// state with fresh price data.
// ---------------------------------------------------------------------------

// rlock takes the read lock and returns its release, unless the calling
// goroutine is the one inside a protected operation. A read issued from
// an asset Transfer callback would otherwise block forever on the write
// lock that same stack already holds; it is served lock-free instead and
// sees the committed state the operation started from, never the staged
// overlay.
func (e *Engine) rlock() func() {
	if e.owner.Load() == callerGID() {
		return func() {}
	}
	e.mu.RLock()
	return e.mu.RUnlock
}

// HealthFactor returns account's current wad health factor, or the
// unbounded sentinel when it has no debt.
func (e *Engine) HealthFactor(account uuid.UUID) (*big.Int, error) {
	defer e.rlock()()
	return e.healthFactor(e.state, account)
}

// AccountInformation returns account's total minted debt and wad USD
// collateral value.
func (e *Engine) AccountInformation(account uuid.UUID) (debt, collateralUsd *big.Int, err error) {
	defer e.rlock()()
	collateralUsd, err = e.collateralValue(e.state, account)
	if err != nil {
		return nil, nil, err
	}
	return e.state.debtOf(account), collateralUsd, nil
}

// AccountCollateralValue returns the wad USD value of all collateral the
// account has deposited.
func (e *Engine) AccountCollateralValue(account uuid.UUID) (*big.Int, error) {
	defer e.rlock()()
	return e.collateralValue(e.state, account)
}

// TokenUsdValue values a wad amount of a registered asset in wad USD.
func (e *Engine) TokenUsdValue(asset string, amount *big.Int) (*big.Int, error) {
	defer e.rlock()()
	return e.usdValue(asset, amount)
}

// TokenAmountFromUsd converts a wad USD amount to wad units of a
// registered asset.
func (e *Engine) TokenAmountFromUsd(asset string, usd *big.Int) (*big.Int, error) {
	defer e.rlock()()
	return e.tokenAmountFromUsd(asset, usd)
}

// CollateralBalance returns account's deposited amount of one asset.
func (e *Engine) CollateralBalance(account uuid.UUID, asset string) *big.Int {
	defer e.rlock()()
	return e.state.collateralOf(account, asset)
}

// MintedDsc returns account's outstanding minted debt.
func (e *Engine) MintedDsc(account uuid.UUID) *big.Int {
	defer e.rlock()()
	return e.state.debtOf(account)
}

// CollateralTokens returns the registered asset symbols in registration
// order.
func (e *Engine) CollateralTokens() []string {
	return e.registry.Symbols()
}

// CollateralFeed returns the price feed paired with a registered asset.
func (e *Engine) CollateralFeed(asset string) (oracle.PriceFeed, bool) {
	return e.registry.Feed(asset)
}
