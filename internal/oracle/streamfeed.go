package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var ErrNoPriceData = errors.New("oracle: no price data received yet")

// StreamFeed holds the latest round pushed by an external price stream
// (see internal/stream.PriceSubscriber). Reads before the first update
// fail with ErrNoPriceData.
type StreamFeed struct {
	mu       sync.Mutex
	symbol   string
	decimals uint8
	round    RoundData
	primed   bool
}

func NewStreamFeed(symbol string, decimals uint8) *StreamFeed {
	return &StreamFeed{symbol: symbol, decimals: decimals}
}

func (f *StreamFeed) Symbol() string  { return f.symbol }
func (f *StreamFeed) Decimals() uint8 { return f.decimals }

func (f *StreamFeed) LatestRoundData() (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.primed {
		return RoundData{}, ErrNoPriceData
	}
	rd := f.round
	rd.Answer = new(big.Int).Set(f.round.Answer)
	return rd, nil
}

// Update records a new round. Out-of-order rounds (round ID at or below
// the current one) are dropped silently; price streams tolerate gaps.
func (f *StreamFeed) Update(roundID uint64, answer *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primed && roundID <= f.round.RoundID {
		return
	}
	f.round = RoundData{
		RoundID:         roundID,
		Answer:          new(big.Int).Set(answer),
		StartedAt:       updatedAt,
		UpdatedAt:       updatedAt,
		AnsweredInRound: roundID,
	}
	f.primed = true
}
