package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gotnw/tradebot/internal/observability"
)

// ---------------------------------------------------------------------------
// PriceFeed — fallback chain over cache, push channel and REST adapters
// ---------------------------------------------------------------------------

// Config tunes the feed's freshness windows and the force-refresh budget.
type Config struct {
	// Freshness is the cache window: younger entries short-circuit GetPrice.
	Freshness time.Duration
	// PushStaleness is the maximum age of a push-channel value accepted
	// in the fallback chain.
	PushStaleness time.Duration
	// ForceRefreshBudget bounds the total time of a forced refresh.
	ForceRefreshBudget time.Duration
}

type pushEntry struct {
	quote Quote
	at    time.Time
}

// Feed orchestrates the price source adapters with a fixed-priority
// fallback chain and sanity filtering. All cache and history writes for
// a token are serialized; different tokens proceed concurrently.
type Feed struct {
	cfg      Config
	bounds   Bounds
	cache    *Cache
	history  *History
	adapters []PriceSourceAdapter

	pushMu   sync.RWMutex
	pushLast map[string]pushEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// Stats.
	cacheHits    atomic.Int64
	pushHits     atomic.Int64
	adapterHits  atomic.Int64
	totalMisses  atomic.Int64
}

// New creates a price feed. Adapters are queried in the given order.
func New(cfg Config, bounds Bounds, cache *Cache, history *History, adapters []PriceSourceAdapter) *Feed {
	if cfg.Freshness <= 0 {
		cfg.Freshness = 30 * time.Second
	}
	if cfg.PushStaleness <= 0 {
		cfg.PushStaleness = 60 * time.Second
	}
	if cfg.ForceRefreshBudget <= 0 {
		cfg.ForceRefreshBudget = 5 * time.Second
	}
	return &Feed{
		cfg:      cfg,
		bounds:   bounds,
		cache:    cache,
		history:  history,
		adapters: adapters,
		pushLast: make(map[string]pushEntry),
		locks:    make(map[string]*sync.Mutex),
	}
}

// RecordPush stores the latest push-channel value for a token and
// appends it to the rolling history, so every tick sharpens the signal
// window instead of one sample per cache-freshness interval. Safe to
// call from the subscription goroutine; never blocks on network.
func (f *Feed) RecordPush(t Tick) {
	q := Quote{
		Price:        t.Price,
		LiquidityUSD: t.Liquidity,
		Volume24h:    t.Volume,
		ObservedAt:   t.At,
	}
	if err := f.bounds.Check(q); err != nil {
		log.Debug().Str("token", t.Token).Str("price", t.Price.String()).
			Msg("feed: push tick rejected by sanity bounds")
		return
	}

	f.pushMu.Lock()
	f.pushLast[t.Token] = pushEntry{quote: q, at: time.Now()}
	f.pushMu.Unlock()

	f.history.Append(t.Token, Point{
		Price:     t.Price,
		Volume:    t.Volume,
		Liquidity: t.Liquidity,
		At:        t.At,
	})
	observability.TicksIngested.Inc()
}

// GetPrice returns a quote for a token, consulting the cache first and
// then walking the fallback chain: push channel, then each adapter in
// order. Every accepted quote passes the sanity filter, updates the
// cache and is appended to the rolling history. When the whole chain
// fails, ErrNoPrice is returned and the cache is left untouched.
func (f *Feed) GetPrice(ctx context.Context, token string, forceRefresh bool) (Quote, error) {
	if !forceRefresh {
		if q, ok := f.cache.Fresh(token, f.cfg.Freshness); ok {
			f.cacheHits.Add(1)
			observability.PriceFetches.WithLabelValues("cache", "hit").Inc()
			return q, nil
		}
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.ForceRefreshBudget)
		defer cancel()
	}

	lock := f.tokenLock(token)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	if !forceRefresh {
		if q, ok := f.cache.Fresh(token, f.cfg.Freshness); ok {
			f.cacheHits.Add(1)
			return q, nil
		}
	}

	// Push channel last value, if recent enough. No network call.
	f.pushMu.RLock()
	pe, hasPush := f.pushLast[token]
	f.pushMu.RUnlock()
	if hasPush && time.Since(pe.at) < f.cfg.PushStaleness {
		f.pushHits.Add(1)
		observability.PriceFetches.WithLabelValues("push", "hit").Inc()
		// History already holds this tick from ingest; only refresh the cache.
		f.cache.Put(token, pe.quote)
		return pe.quote, nil
	}

	// REST adapters in fixed priority order. A rejected quote counts as
	// that adapter's failure; the chain continues.
	for _, a := range f.adapters {
		q, err := a.Fetch(ctx, token)
		if err != nil {
			observability.PriceFetches.WithLabelValues(a.Name(), "error").Inc()
			log.Debug().Err(err).Str("token", token).Str("source", a.Name()).
				Msg("feed: adapter fetch failed")
			continue
		}
		if err := f.bounds.Check(q); err != nil {
			observability.PriceFetches.WithLabelValues(a.Name(), "rejected").Inc()
			log.Warn().Err(err).Str("token", token).Str("source", a.Name()).
				Msg("feed: implausible quote rejected")
			continue
		}

		f.adapterHits.Add(1)
		observability.PriceFetches.WithLabelValues(a.Name(), "hit").Inc()
		f.accept(token, q)
		return q, nil
	}

	f.totalMisses.Add(1)
	observability.PriceFetches.WithLabelValues("none", "miss").Inc()
	return Quote{}, ErrNoPrice
}

// accept updates the cache and appends to the rolling history. Caller
// holds the token lock.
func (f *Feed) accept(token string, q Quote) {
	f.cache.Put(token, q)
	f.history.Append(token, Point{
		Price:     q.Price,
		Volume:    q.Volume24h,
		Liquidity: q.LiquidityUSD,
		At:        q.ObservedAt,
	})
}

func (f *Feed) tokenLock(token string) *sync.Mutex {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()
	l, ok := f.locks[token]
	if !ok {
		l = &sync.Mutex{}
		f.locks[token] = l
	}
	return l
}

// Stats reports feed counters.
type Stats struct {
	CacheHits   int64 `json:"cache_hits"`
	PushHits    int64 `json:"push_hits"`
	AdapterHits int64 `json:"adapter_hits"`
	Misses      int64 `json:"misses"`
	CachedTokens int  `json:"cached_tokens"`
}

func (f *Feed) Stats() Stats {
	return Stats{
		CacheHits:    f.cacheHits.Load(),
		PushHits:     f.pushHits.Load(),
		AdapterHits:  f.adapterHits.Load(),
		Misses:       f.totalMisses.Load(),
		CachedTokens: f.cache.Len(),
	}
}
