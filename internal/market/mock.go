package market

import (
	"context"
	"log"
	"math/rand"
	"time"

	"signal-core/pkg/cache"
)

// MockFeed generates synthetic quotes for local development and tests.
type MockFeed struct {
	Symbols    []string
	StartPrice float64
	Step       float64
	Spread     float64
	Interval   time.Duration
}

// Start emits a random walk per symbol into the returned channel until ctx
// is done.
func (m *MockFeed) Start(ctx context.Context) <-chan cache.Quote {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"EURUSD"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 1.0850
	}
	if m.Step == 0 {
		m.Step = 0.0002
	}
	if m.Spread == 0 {
		m.Spread = 0.0001
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	out := make(chan cache.Quote, 100)
	prices := make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.StartPrice
	}

	go func() {
		defer close(out)
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		log.Printf("market: mock feed started for %v", m.Symbols)
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, sym := range m.Symbols {
					// simple random walk
					p := prices[sym] + (rand.Float64()*2-1)*m.Step
					prices[sym] = p
					q := cache.Quote{
						Symbol: sym,
						Bid:    p - m.Spread/2,
						Ask:    p + m.Spread/2,
						Volume: 500 + rand.Float64()*1000,
						Ts:     time.Now(),
					}
					select {
					case out <- q:
					default:
						// lossy-tolerant channel, drop on backpressure
					}
				}
			}
		}
	}()
	return out
}
