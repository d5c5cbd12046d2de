package market

import (
	"context"
	"log"

	"signal-core/internal/events"
	"signal-core/pkg/cache"
)

// Ingest drains the market-data channel into the book on a dedicated loop so
// a slow downstream consumer can never starve ingestion, then republishes
// each quote on the bus for the vitality engine and truth tracker.
type Ingest struct {
	Book *Book
	Bus  *events.Bus
}

// Run consumes quotes until ctx is done. Malformed producers are tolerated:
// anything that is not a quote is counted and dropped.
func (in *Ingest) Run(ctx context.Context, quotes <-chan cache.Quote) {
	dropped := 0
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			if q.Symbol == "" || q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
				dropped++
				if dropped%100 == 1 {
					log.Printf("market: dropped %d malformed quotes (latest %+v)", dropped, q)
				}
				continue
			}
			in.Book.Record(q)
			if in.Bus != nil {
				in.Bus.Publish(events.EventQuote, q)
			}
		}
	}
}
