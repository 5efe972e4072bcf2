package engine

import (
	"fmt"

	"github.com/gopiinho/stablecoin/internal/oracle"
	"github.com/gopiinho/stablecoin/internal/token"
)

// Registry maps each accepted collateral asset to exactly one price feed.
// Built once at construction from two equal-length lists and immutable
// afterward; there is no dynamic asset registration.
type Registry struct {
	symbols []string // registration order, used for deterministic valuation
	assets  map[string]token.Asset
	feeds   map[string]oracle.PriceFeed
}

// NewRegistry pairs assets[i] with feeds[i]. It fails before any state is
// created if the lists differ in length or repeat a symbol.
func NewRegistry(assets []token.Asset, feeds []oracle.PriceFeed) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("%w: %d assets, %d feeds", ErrRegistryMismatch, len(assets), len(feeds))
	}

	r := &Registry{
		symbols: make([]string, 0, len(assets)),
		assets:  make(map[string]token.Asset, len(assets)),
		feeds:   make(map[string]oracle.PriceFeed, len(feeds)),
	}
	for i, a := range assets {
		sym := a.Symbol()
		if _, dup := r.assets[sym]; dup {
			return nil, fmt.Errorf("%w: duplicate asset %s", ErrRegistryMismatch, sym)
		}
		r.symbols = append(r.symbols, sym)
		r.assets[sym] = a
		r.feeds[sym] = feeds[i]
	}
	return r, nil
}

// Symbols returns registered asset symbols in registration order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Asset returns the asset implementation for a registered symbol.
func (r *Registry) Asset(symbol string) (token.Asset, bool) {
	a, ok := r.assets[symbol]
	return a, ok
}

// Feed returns the price feed paired with a registered symbol.
func (r *Registry) Feed(symbol string) (oracle.PriceFeed, bool) {
	f, ok := r.feeds[symbol]
	return f, ok
}

// IsRegistered reports whether symbol is an accepted collateral asset.
func (r *Registry) IsRegistered(symbol string) bool {
	_, ok := r.assets[symbol]
	return ok
}
