package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"signal-core/internal/api"
	"signal-core/internal/confirm"
	"signal-core/internal/events"
	"signal-core/internal/ledger"
	"signal-core/internal/market"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/internal/router"
	"signal-core/internal/transport"
	"signal-core/internal/truth"
	"signal-core/internal/vitality"
	"signal-core/pkg/cache"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
)

const buildVersion = "1.0.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	reportOnly := flag.Bool("report", false, "print the outcome report from the ledger and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *reportOnly {
		if err := printReport(cfg.LedgerPath); err != nil {
			log.Fatalf("report failed: %v", err)
		}
		return
	}

	log.Printf("signal core %s starting on port %s", buildVersion, cfg.Port)

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Printf("policy file %s unavailable (%v), using built-in defaults", cfg.PolicyPath, err)
		policy = config.DefaultPolicy()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("database migrations failed: %v", err)
	}
	queries := db.NewQueries(database.DB)

	outcomes, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("ledger open failed: %v", err)
	}
	defer outcomes.Close()

	// Core services
	bus := events.NewBus()
	book := market.NewBook()
	nodeID := transport.NodeID(cfg.NodeID)
	log.Printf("node id %s", nodeID)

	tp, mockQuotes := buildTransport(ctx, cfg, nodeID)
	defer tp.Close()

	ingest := &market.Ingest{Book: book, Bus: bus}
	go ingest.Run(ctx, tp.Quotes())
	if mockQuotes != nil {
		go feedLoopback(ctx, tp, mockQuotes)
	}

	// Observability
	metrics := monitor.NewSystemMetrics()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := monitor.NewProm(promReg)

	// State
	store := mission.NewStore(cfg.RetentionWindow)
	slots := mission.NewSlotCounter()
	tracker := risk.NewTracker()
	registry := risk.NewRegistry()
	seedRegistry(ctx, registry, queries, policy, cfg.UseMockFeed)

	engine := vitality.NewEngine(book, policy.Symbols, cfg.VitalityCacheTTL)
	sizer := risk.NewSizer(policy.Symbols, tracker, book)
	sched := router.NewScheduler()
	defer sched.Stop()

	fireRouter := router.New(router.Options{
		Store:           store,
		Slots:           slots,
		Vitality:        engine,
		Sizer:           sizer,
		Tracker:         tracker,
		Transport:       tp,
		Bus:             bus,
		Scheduler:       sched,
		Metrics:         metrics,
		Prom:            prom,
		Profiles:        registry,
		DispatchTimeout: cfg.DispatchTimeout,
	})

	truthTracker := truth.New(truth.Options{
		Store:        store,
		Risk:         tracker,
		Bus:          bus,
		Ledger:       outcomes,
		Specs:        policy.Symbols,
		Metrics:      metrics,
		Prom:         prom,
		SilenceLimit: cfg.QuoteSilenceLimit,
		Cooldown: func(userID string) time.Duration {
			if p, ok := registry.Get(userID); ok {
				return p.Cooldown
			}
			return 0
		},
	})

	// Restore open missions from the last run before any new signal lands.
	restoreMissions(ctx, store, fireRouter, truthTracker, queries)

	listener := confirm.NewListener(store, tracker, bus, tp, truthTracker, metrics, prom)
	go listener.Run(ctx)
	go truthTracker.Run(ctx)

	go db.NewMirror(queries, bus).Run(ctx)
	go fireRouter.Run(ctx)

	// Scheduled maintenance
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("0 0 * * *", tracker.ResetDaily); err != nil {
		log.Fatalf("cron setup failed: %v", err)
	}
	if _, err := scheduler.AddFunc("@hourly", func() {
		if n := store.Sweep(time.Now()); n > 0 {
			log.Printf("retention sweep removed %d terminal missions", n)
		}
	}); err != nil {
		log.Fatalf("cron setup failed: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	go watchChannels(ctx, tp, prom)

	server := api.NewServer(api.Options{
		Store:     store,
		Slots:     slots,
		Registry:  registry,
		Risk:      tracker,
		Router:    fireRouter,
		Transport: tp,
		Metrics:   metrics,
		Ledger:    outcomes,
		Queries:   queries,
		PromReg:   promReg,
		JWTSecret: cfg.JWTSecret,
		AdminKey:  cfg.AdminKey,
		Meta: api.SystemMeta{
			NodeID:      nodeID,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
			StartedAt:   time.Now(),
		},
	})
	go func() {
		if err := server.Start(ctx, ":"+cfg.Port); err != nil {
			log.Printf("api server stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()
	// Give the drain loops a moment to publish their last events.
	time.Sleep(200 * time.Millisecond)
}

// buildTransport picks websocket links when endpoints are configured,
// otherwise an in-process loopback. With the mock feed enabled the loopback
// also receives synthetic quotes.
func buildTransport(ctx context.Context, cfg *config.Config, nodeID string) (transport.Transport, <-chan cache.Quote) {
	if cfg.MarketDataURL != "" && cfg.SignalInURL != "" && cfg.FireOutURL != "" && cfg.ConfirmInURL != "" {
		log.Printf("transport: websocket links enabled")
		ws := transport.NewWS(ctx, transport.WSConfig{
			NodeID:            nodeID,
			MarketDataURL:     cfg.MarketDataURL,
			SignalInURL:       cfg.SignalInURL,
			FireOutURL:        cfg.FireOutURL,
			ConfirmInURL:      cfg.ConfirmInURL,
			HeartbeatURL:      cfg.HeartbeatURL,
			HeartbeatWindow:   cfg.HeartbeatWindow,
			HeartbeatInterval: cfg.HeartbeatInterval,
			FireRateLimit:     cfg.FireRateLimit,
			FireRateBurst:     cfg.FireRateBurst,
		})
		return ws, nil
	}

	log.Printf("transport: loopback (no remote endpoints configured)")
	lb := transport.NewLoopback()
	if !cfg.UseMockFeed {
		return lb, nil
	}
	feed := &market.MockFeed{Symbols: cfg.MockSymbols}
	return lb, feed.Start(ctx)
}

// feedLoopback pushes mock quotes through the loopback boundary so the rest
// of the core sees them exactly as wire traffic.
func feedLoopback(ctx context.Context, tp transport.Transport, quotes <-chan cache.Quote) {
	lb, ok := tp.(*transport.Loopback)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case q, open := <-quotes:
			if !open {
				return
			}
			lb.InjectQuote(q)
		}
	}
}

func seedRegistry(ctx context.Context, registry *risk.Registry, queries *db.Queries, policy *config.Policy, mockMode bool) {
	profiles, err := queries.Profiles(ctx)
	if err != nil {
		log.Printf("profile load failed: %v", err)
	}
	for _, p := range profiles {
		if tier, ok := policy.Tiers[p.Tier]; ok {
			p.Patterns = tier.Patterns
		}
		registry.Upsert(p)
	}
	if len(profiles) > 0 {
		log.Printf("loaded %d user risk profiles", len(profiles))
		return
	}
	if !mockMode {
		log.Printf("no user risk profiles stored; the router will fan out to nobody")
		return
	}
	// Local development convenience: one demo user per tier.
	for name, tier := range policy.Tiers {
		p := risk.ProfileFromTier("demo-"+name, tier)
		p.Balance = 10000
		registry.Upsert(p)
		if err := queries.UpsertProfile(ctx, p); err != nil {
			log.Printf("demo profile persist failed: %v", err)
		}
	}
	log.Printf("seeded %d demo profiles (mock mode)", len(policy.Tiers))
}

func restoreMissions(ctx context.Context, store *mission.Store, fireRouter *router.Router, truthTracker *truth.Tracker, queries *db.Queries) {
	open, err := queries.OpenMissions(ctx)
	if err != nil {
		log.Printf("mission restore failed: %v", err)
		return
	}
	if len(open) == 0 {
		return
	}
	orders, err := queries.OrdersFor(ctx, open)
	if err != nil {
		log.Printf("order restore failed: %v", err)
		return
	}
	store.Restore(open, orders)
	fireRouter.Rearm(open)
	truthTracker.Rewatch(open)
	log.Printf("restored %d open missions, %d orders", len(open), len(orders))
}

// watchChannels mirrors transport health into the exported gauges.
func watchChannels(ctx context.Context, tp transport.Transport, prom *monitor.Prom) {
	channels := []transport.Channel{
		transport.ChannelMarketData,
		transport.ChannelSignalIn,
		transport.ChannelFireOut,
		transport.ChannelConfirmIn,
		transport.ChannelHeartbeat,
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range channels {
				v := 0.0
				if tp.Healthy(ch) {
					v = 1
				}
				prom.ChannelUp.WithLabelValues(string(ch)).Set(v)
			}
		}
	}
}

func printReport(path string) error {
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()
	report, err := ledger.BuildReport(l)
	if err != nil {
		return err
	}
	report.Render(os.Stdout)
	fmt.Println()
	return nil
}
