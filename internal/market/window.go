package market

import (
	"math"
	"sync"
	"time"

	"signal-core/pkg/cache"
)

// windowSize is the number of recent samples kept per symbol.
const windowSize = 20

// Stats summarizes the recent window for one symbol.
type Stats struct {
	Samples   int
	AvgSpread float64
	AvgVolume float64
	ATR       float64 // average true range over the window, in price units
}

// window is a fixed-size ring buffer of recent quotes for one symbol.
// Writes come from a single ingest goroutine per symbol; reads are guarded by
// the lock only long enough to copy the samples out.
type window struct {
	mu    sync.RWMutex
	buf   [windowSize]cache.Quote
	next  int
	count int
}

func (w *window) push(q cache.Quote) {
	w.mu.Lock()
	w.buf[w.next] = q
	w.next = (w.next + 1) % windowSize
	if w.count < windowSize {
		w.count++
	}
	w.mu.Unlock()
}

func (w *window) stats() Stats {
	w.mu.RLock()
	n := w.count
	var samples [windowSize]cache.Quote
	copy(samples[:], w.buf[:])
	start := w.next
	w.mu.RUnlock()

	if n == 0 {
		return Stats{}
	}

	var spreadSum, volSum float64
	var hi, lo float64 = math.Inf(-1), math.Inf(1)

	for i := 0; i < n; i++ {
		idx := (start - n + i + windowSize*2) % windowSize
		q := samples[idx]
		spreadSum += q.Spread()
		volSum += q.Volume

		mid := q.Mid()
		if mid > hi {
			hi = mid
		}
		if mid < lo {
			lo = mid
		}
	}

	s := Stats{
		Samples:   n,
		AvgSpread: spreadSum / float64(n),
		AvgVolume: volSum / float64(n),
	}
	if n > 1 && hi > lo {
		// Range of the recent window stands in for average true range:
		// a stop tighter than this sits inside current noise.
		s.ATR = hi - lo
	}
	return s
}

// Book owns the per-symbol windows and the latest-quote cache. It is the
// single consumer of the market-data channel; everything else reads from it.
type Book struct {
	mu      sync.RWMutex
	windows map[string]*window
	quotes  *cache.ShardedQuoteCache
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{
		windows: make(map[string]*window),
		quotes:  cache.NewShardedQuoteCache(),
	}
}

// Record ingests one quote: updates the latest-quote cache and the symbol's
// rolling window.
func (b *Book) Record(q cache.Quote) {
	b.quotes.Set(q)

	b.mu.RLock()
	w, ok := b.windows[q.Symbol]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		w, ok = b.windows[q.Symbol]
		if !ok {
			w = &window{}
			b.windows[q.Symbol] = w
		}
		b.mu.Unlock()
	}
	w.push(q)
}

// Quote returns the latest quote for a symbol.
func (b *Book) Quote(symbol string) (cache.Quote, bool) {
	return b.quotes.Get(symbol)
}

// FreshQuote returns the latest quote only if newer than maxAge.
func (b *Book) FreshQuote(symbol string, maxAge time.Duration) (cache.Quote, bool) {
	return b.quotes.GetFresh(symbol, maxAge)
}

// Stats returns the rolling window summary for a symbol.
func (b *Book) Stats(symbol string) Stats {
	b.mu.RLock()
	w, ok := b.windows[symbol]
	b.mu.RUnlock()
	if !ok {
		return Stats{}
	}
	return w.stats()
}
