package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Type discriminator for engine event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeCollateralDeposited
	TypeCollateralRedeemed
	TypeDebtMinted
	TypeDebtBurned
	TypeLiquidationExecuted
)

func (t Type) String() string {
	switch t {
	case TypeCollateralDeposited:
		return "CollateralDeposited"
	case TypeCollateralRedeemed:
		return "CollateralRedeemed"
	case TypeDebtMinted:
		return "DebtMinted"
	case TypeDebtBurned:
		return "DebtBurned"
	case TypeLiquidationExecuted:
		return "LiquidationExecuted"
	default:
		return "Unknown"
	}
}

// Event is the interface all engine event payloads implement.
type Event interface {
	EventType() Type

	// AccountID returns the primary account the event concerns.
	AccountID() uuid.UUID
}

// Envelope wraps every emitted event with the engine-assigned sequence.
// Sequences are monotonic per engine instance; the persistence worker uses
// them as the idempotent write key.
type Envelope struct {
	Sequence  int64     `json:"sequence"`
	EventID   uuid.UUID `json:"event_id"`
	Type      Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Event     `json:"payload"`
}

// CollateralDeposited records a collateral pull into engine custody.
type CollateralDeposited struct {
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  *big.Int  `json:"amount"`
}

func (e *CollateralDeposited) EventType() Type      { return TypeCollateralDeposited }
func (e *CollateralDeposited) AccountID() uuid.UUID { return e.Account }

// CollateralRedeemed records collateral leaving engine custody, either a
// plain withdrawal (From == To's owner) or a liquidation seizure
// (To is the liquidator).
type CollateralRedeemed struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount *big.Int  `json:"amount"`
}

func (e *CollateralRedeemed) EventType() Type      { return TypeCollateralRedeemed }
func (e *CollateralRedeemed) AccountID() uuid.UUID { return e.From }

// DebtMinted records new synthetic supply attributed to an account.
type DebtMinted struct {
	Account uuid.UUID `json:"account"`
	Amount  *big.Int  `json:"amount"`
}

func (e *DebtMinted) EventType() Type      { return TypeDebtMinted }
func (e *DebtMinted) AccountID() uuid.UUID { return e.Account }

// DebtBurned records debt retirement. Payer funded the burn; OnBehalfOf is
// the account whose debt decreased (they differ inside a liquidation).
type DebtBurned struct {
	OnBehalfOf uuid.UUID `json:"on_behalf_of"`
	Payer      uuid.UUID `json:"payer"`
	Amount     *big.Int  `json:"amount"`
}

func (e *DebtBurned) EventType() Type      { return TypeDebtBurned }
func (e *DebtBurned) AccountID() uuid.UUID { return e.OnBehalfOf }

// LiquidationExecuted records a completed liquidation with the health
// factors observed before and after.
type LiquidationExecuted struct {
	Liquidator       uuid.UUID `json:"liquidator"`
	User             uuid.UUID `json:"user"`
	Asset            string    `json:"asset"`
	DebtCovered      *big.Int  `json:"debt_covered"`
	CollateralSeized *big.Int  `json:"collateral_seized"`
	HealthBefore     *big.Int  `json:"health_before"`
	HealthAfter      *big.Int  `json:"health_after"`
}

func (e *LiquidationExecuted) EventType() Type      { return TypeLiquidationExecuted }
func (e *LiquidationExecuted) AccountID() uuid.UUID { return e.User }
