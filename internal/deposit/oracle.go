package deposit

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateSource fetches the current exchange rate: settlement currency per one
// unit of pay currency.
type RateSource interface {
	FetchRate(ctx context.Context, payCurrency string) (decimal.Decimal, error)
}

type rateEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Oracle is a read-through exchange-rate cache with a fixed TTL, constructed
// once at process start and handed to the components that need it.
// Concurrent callers during a cache miss may issue duplicate upstream
// fetches; that is accepted and not deduplicated.
type Oracle struct {
	source RateSource
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]rateEntry
}

func NewOracle(source RateSource, ttl time.Duration) *Oracle {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Oracle{source: source, ttl: ttl, cache: make(map[string]rateEntry)}
}

// Rate returns the cached rate for the currency, fetching through on miss or
// expiry. Fails closed with the source's error when no fresh rate can be
// obtained.
func (o *Oracle) Rate(ctx context.Context, payCurrency string) (decimal.Decimal, error) {
	o.mu.RLock()
	entry, ok := o.cache[payCurrency]
	o.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < o.ttl {
		return entry.rate, nil
	}

	rate, err := o.source.FetchRate(ctx, payCurrency)
	if err != nil {
		return decimal.Zero, err
	}
	o.mu.Lock()
	o.cache[payCurrency] = rateEntry{rate: rate, fetchedAt: time.Now()}
	o.mu.Unlock()
	return rate, nil
}
