package oracle

import (
	"math/big"
	"sync"
	"time"
)

// StaticFeed is a fixture feed with a settable answer. Used by tests and
// local development wiring.
type StaticFeed struct {
	mu       sync.Mutex
	symbol   string
	decimals uint8
	round    RoundData
}

func NewStaticFeed(symbol string, decimals uint8, answer *big.Int, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{
		symbol:   symbol,
		decimals: decimals,
		round: RoundData{
			RoundID:         1,
			Answer:          new(big.Int).Set(answer),
			StartedAt:       updatedAt,
			UpdatedAt:       updatedAt,
			AnsweredInRound: 1,
		},
	}
}

func (f *StaticFeed) Symbol() string  { return f.symbol }
func (f *StaticFeed) Decimals() uint8 { return f.decimals }

func (f *StaticFeed) LatestRoundData() (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rd := f.round
	rd.Answer = new(big.Int).Set(f.round.Answer)
	return rd, nil
}

// SetAnswer publishes a new round with the given answer and timestamp.
func (f *StaticFeed) SetAnswer(answer *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round.RoundID++
	f.round.AnsweredInRound = f.round.RoundID
	f.round.Answer = new(big.Int).Set(answer)
	f.round.StartedAt = updatedAt
	f.round.UpdatedAt = updatedAt
}
