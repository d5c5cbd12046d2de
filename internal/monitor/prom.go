package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prom holds the prometheus collectors exported on /metrics. Labelled
// counters cover the dimensions the operator dashboards slice on; the
// in-process SystemMetrics keeps the latency percentiles.
type Prom struct {
	SignalsTotal       prometheus.Counter
	FiresTotal         *prometheus.CounterVec
	RejectionsTotal    *prometheus.CounterVec
	ConfirmationsTotal *prometheus.CounterVec
	OutcomesTotal      *prometheus.CounterVec
	VitalityScore      *prometheus.GaugeVec
	SlotsHeld          *prometheus.GaugeVec
	DispatchSeconds    prometheus.Histogram
	ChannelUp          *prometheus.GaugeVec
}

// NewProm registers the collectors on reg.
func NewProm(reg prometheus.Registerer) *Prom {
	factory := promauto.With(reg)
	return &Prom{
		SignalsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "signalcore",
			Name:      "signals_total",
			Help:      "Signals received on the intake channel.",
		}),
		FiresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalcore",
			Name:      "fires_total",
			Help:      "Fire orders dispatched, by signal mode.",
		}, []string{"mode"}),
		RejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalcore",
			Name:      "rejections_total",
			Help:      "Missions rejected, by reason code.",
		}, []string{"reason"}),
		ConfirmationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalcore",
			Name:      "confirmations_total",
			Help:      "Terminal confirmations processed, by status.",
		}, []string{"status"}),
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalcore",
			Name:      "outcomes_total",
			Help:      "Resolved mission outcomes, by result.",
		}, []string{"result"}),
		VitalityScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalcore",
			Name:      "vitality_score",
			Help:      "Last computed vitality score per symbol.",
		}, []string{"symbol"}),
		SlotsHeld: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalcore",
			Name:      "slots_held",
			Help:      "Concurrent mission slots currently held per user.",
		}, []string{"user"}),
		DispatchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "signalcore",
			Name:      "dispatch_seconds",
			Help:      "Signal receipt to fire dispatch latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		ChannelUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalcore",
			Name:      "channel_up",
			Help:      "Transport channel health (1 healthy, 0 degraded).",
		}, []string{"channel"}),
	}
}
