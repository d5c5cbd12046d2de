package ledger

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"signal-core/internal/mission"
)

// BucketStats aggregates outcomes sharing one key (a pattern, a symbol).
type BucketStats struct {
	Key        string
	Wins       int
	Losses     int
	Breakevens int
	Unresolved int
	NetPips    float64
	AvgMAE     float64
	AvgHold    time.Duration
}

// Total returns the number of outcomes in the bucket.
func (b BucketStats) Total() int {
	return b.Wins + b.Losses + b.Breakevens + b.Unresolved
}

// WinRate returns wins over decided outcomes (wins + losses), 0 when none.
func (b BucketStats) WinRate() float64 {
	decided := b.Wins + b.Losses
	if decided == 0 {
		return 0
	}
	return float64(b.Wins) / float64(decided)
}

// Report is a full-ledger aggregation.
type Report struct {
	ByPattern map[string]*BucketStats
	BySymbol  map[string]*BucketStats
	ByMode    map[mission.Mode]*BucketStats
	Overall   BucketStats
}

// BuildReport replays the ledger into aggregate buckets.
func BuildReport(l *Ledger) (*Report, error) {
	r := &Report{
		ByPattern: make(map[string]*BucketStats),
		BySymbol:  make(map[string]*BucketStats),
		ByMode:    make(map[mission.Mode]*BucketStats),
		Overall:   BucketStats{Key: "ALL"},
	}
	err := l.Replay(func(out mission.Outcome) error {
		r.add(&r.Overall, out)
		r.add(bucket(r.ByPattern, orUnknown(out.Pattern)), out)
		r.add(bucket(r.BySymbol, out.Symbol), out)
		if out.Mode != "" {
			b, ok := r.ByMode[out.Mode]
			if !ok {
				b = &BucketStats{Key: string(out.Mode)}
				r.ByMode[out.Mode] = b
			}
			r.add(b, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func bucket(m map[string]*BucketStats, key string) *BucketStats {
	b, ok := m[key]
	if !ok {
		b = &BucketStats{Key: key}
		m[key] = b
	}
	return b
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func (r *Report) add(b *BucketStats, out mission.Outcome) {
	n := b.Total()
	switch out.Result {
	case mission.ResultWin:
		b.Wins++
	case mission.ResultLoss:
		b.Losses++
	case mission.ResultBreakeven:
		b.Breakevens++
	default:
		b.Unresolved++
	}
	b.NetPips += out.Pips
	// Running means, weighted by prior count.
	b.AvgMAE = (b.AvgMAE*float64(n) + out.MaxAdverse) / float64(n+1)
	b.AvgHold = time.Duration((int64(b.AvgHold)*int64(n) + int64(out.Duration)) / int64(n+1))
}

// Render writes the report as operator-readable tables.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Outcomes: %d total, %.1f%% win rate, %+.1f net pips\n\n",
		r.Overall.Total(), r.Overall.WinRate()*100, r.Overall.NetPips)

	renderBuckets(w, "PATTERN", r.ByPattern)
	renderBuckets(w, "SYMBOL", r.BySymbol)

	modes := make(map[string]*BucketStats, len(r.ByMode))
	for mode, b := range r.ByMode {
		modes[string(mode)] = b
	}
	renderBuckets(w, "MODE", modes)
}

func renderBuckets(w io.Writer, label string, buckets map[string]*BucketStats) {
	if len(buckets) == 0 {
		return
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.Header(label, "Trades", "Win%", "Net pips", "Avg MAE", "Avg hold")
	for _, k := range keys {
		b := buckets[k]
		table.Append(
			b.Key,
			fmt.Sprintf("%d", b.Total()),
			fmt.Sprintf("%.1f", b.WinRate()*100),
			fmt.Sprintf("%+.1f", b.NetPips),
			fmt.Sprintf("%.1f", b.AvgMAE),
			b.AvgHold.Truncate(time.Second).String(),
		)
	}
	table.Render()
	fmt.Fprintln(w)
}
