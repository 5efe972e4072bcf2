package oracle

import (
	"errors"
	"fmt"
	"time"
)

// StaleTimeout is the maximum tolerated age of a price reading before it
// is rejected.
const StaleTimeout = 3 * time.Hour

var (
	ErrStalePrice   = errors.New("oracle: stale price")
	ErrInvalidPrice = errors.New("oracle: non-positive price answer")
)

// Guard wraps feed reads with a staleness check. It holds no state and has
// no side effects beyond failing; a stale reading aborts whatever valuation
// the caller is doing.
type Guard struct {
	Timeout time.Duration    // zero means StaleTimeout
	Now     func() time.Time // zero means time.Now
}

func NewGuard() *Guard {
	return &Guard{Timeout: StaleTimeout, Now: time.Now}
}

func (g *Guard) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return StaleTimeout
}

func (g *Guard) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// LatestRoundData reads the feed's latest round and rejects it if the
// update timestamp is older than the timeout or the answer is not a
// positive price. A fresh, positive reading is returned unchanged.
func (g *Guard) LatestRoundData(feed PriceFeed) (RoundData, error) {
	rd, err := feed.LatestRoundData()
	if err != nil {
		return RoundData{}, fmt.Errorf("read feed %s: %w", feed.Symbol(), err)
	}

	elapsed := g.now().Sub(rd.UpdatedAt)
	if elapsed > g.timeout() {
		return RoundData{}, fmt.Errorf("%w: feed %s last updated %s ago (timeout %s)",
			ErrStalePrice, feed.Symbol(), elapsed, g.timeout())
	}

	if rd.Answer == nil || rd.Answer.Sign() <= 0 {
		return RoundData{}, fmt.Errorf("%w: feed %s answer %s",
			ErrInvalidPrice, feed.Symbol(), rd.Answer)
	}

	return rd, nil
}
