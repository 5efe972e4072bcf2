package oracle

import (
	"math/big"
	"time"
)

// RoundData is one price reading from a feed. Readings are consumed
// transiently by the engine and never persisted.
type RoundData struct {
	RoundID         uint64
	Answer          *big.Int // raw feed units, Decimals() fractional digits
	StartedAt       time.Time
	UpdatedAt       time.Time
	AnsweredInRound uint64
}

// PriceFeed is the narrow capability the engine needs from a price source:
// read the latest round. Implementations are externally supplied and the
// engine stays polymorphic over them.
type PriceFeed interface {
	Symbol() string
	Decimals() uint8
	LatestRoundData() (RoundData, error)
}
