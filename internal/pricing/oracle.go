package pricing

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"DTokenSale/internal/models"
)

// OracleDecimals is the common fixed-point base of every normalised price.
const OracleDecimals uint8 = 8

var OracleBase = models.Pow10(OracleDecimals)

// Price is a raw feed reading.
type Price struct {
	Value    *big.Int
	Decimals uint8
}

// Feed is one external price source.
type Feed interface {
	LatestPrice(ctx context.Context) (Price, error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context) (Price, error)

func (f FeedFunc) LatestPrice(ctx context.Context) (Price, error) { return f(ctx) }

// Normalize rescales a feed reading to OracleDecimals. Extra precision is
// truncated.
func Normalize(p Price) (*big.Int, error) {
	if p.Value == nil || p.Value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", models.ErrOracleUnavailable)
	}
	out := new(big.Int).Set(p.Value)
	switch {
	case p.Decimals < OracleDecimals:
		out.Mul(out, models.Pow10(OracleDecimals-p.Decimals))
	case p.Decimals > OracleDecimals:
		out.Quo(out, models.Pow10(p.Decimals-OracleDecimals))
	}
	if out.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price below oracle precision", models.ErrOracleUnavailable)
	}
	return out, nil
}

// Oracles maps oracle identifiers to feeds.
type Oracles struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

func NewOracles() *Oracles {
	return &Oracles{feeds: make(map[string]Feed)}
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register adds or replaces the feed behind id.
func (o *Oracles) Register(id string, feed Feed) {
	key := normalizeID(id)
	if key == "" || feed == nil {
		return
	}
	o.mu.Lock()
	o.feeds[key] = feed
	o.mu.Unlock()
}

func (o *Oracles) Has(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.feeds[normalizeID(id)]
	return ok
}

// IDs returns the registered identifiers in sorted order.
func (o *Oracles) IDs() []string {
	o.mu.RLock()
	out := make([]string, 0, len(o.feeds))
	for id := range o.feeds {
		out = append(out, id)
	}
	o.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Read fetches the latest price behind id as an 8-decimal fixed-point value.
func (o *Oracles) Read(ctx context.Context, id string) (*big.Int, error) {
	key := normalizeID(id)
	o.mu.RLock()
	feed := o.feeds[key]
	o.mu.RUnlock()
	if feed == nil {
		return nil, fmt.Errorf("%w: no feed registered for %q", models.ErrOracleUnavailable, id)
	}
	p, err := feed.LatestPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrOracleUnavailable, key, err)
	}
	return Normalize(p)
}

// StaticFeed reports a fixed price that can be replaced at runtime.
type StaticFeed struct {
	mu    sync.RWMutex
	price Price
}

func NewStaticFeed(value *big.Int, decimals uint8) *StaticFeed {
	f := &StaticFeed{}
	f.Set(value, decimals)
	return f
}

func (f *StaticFeed) Set(value *big.Int, decimals uint8) {
	f.mu.Lock()
	f.price = Price{Value: models.CopyAmount(value), Decimals: decimals}
	f.mu.Unlock()
}

func (f *StaticFeed) LatestPrice(context.Context) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Price{Value: new(big.Int).Set(f.price.Value), Decimals: f.price.Decimals}, nil
}
