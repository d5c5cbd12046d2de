// Package api exposes the operator surface: health, metrics, mission
// inspection, cancellation and risk profile management. It only reads and
// cancels; the lifecycle itself never depends on this package.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-core/internal/ledger"
	"signal-core/internal/mission"
	"signal-core/internal/monitor"
	"signal-core/internal/risk"
	"signal-core/internal/router"
	"signal-core/internal/transport"
	"signal-core/pkg/db"
)

// Server wires HTTP endpoints around the running core.
type Server struct {
	Engine    *gin.Engine
	Store     *mission.Store
	Slots     *mission.SlotCounter
	Registry  *risk.Registry
	Risk      *risk.Tracker
	Router    *router.Router
	Transport transport.Transport
	Metrics   *monitor.SystemMetrics
	Ledger    *ledger.Ledger
	Queries   *db.Queries
	PromReg   *prometheus.Registry
	JWTSecret string
	AdminKey  string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	NodeID      string
	UseMockFeed bool
	Version     string
	StartedAt   time.Time
}

// Options bundles the server's collaborators.
type Options struct {
	Store     *mission.Store
	Slots     *mission.SlotCounter
	Registry  *risk.Registry
	Risk      *risk.Tracker
	Router    *router.Router
	Transport transport.Transport
	Metrics   *monitor.SystemMetrics
	Ledger    *ledger.Ledger
	Queries   *db.Queries
	PromReg   *prometheus.Registry
	JWTSecret string
	AdminKey  string
	Meta      SystemMeta
}

func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())

	s := &Server{
		Engine:    r,
		Store:     opts.Store,
		Slots:     opts.Slots,
		Registry:  opts.Registry,
		Risk:      opts.Risk,
		Router:    opts.Router,
		Transport: opts.Transport,
		Metrics:   opts.Metrics,
		Ledger:    opts.Ledger,
		Queries:   opts.Queries,
		PromReg:   opts.PromReg,
		JWTSecret: opts.JWTSecret,
		AdminKey:  opts.AdminKey,
		Meta:      opts.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Engine.GET("/health", s.health)
	if s.PromReg != nil {
		s.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.PromReg, promhttp.HandlerOpts{})))
	}

	api := s.Engine.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.POST("/auth/token", s.issueToken)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/metrics", s.getMetrics)
			protected.GET("/missions", s.getMissions)
			protected.GET("/missions/:id", s.getMission)
			protected.POST("/missions/:id/cancel", s.cancelMission)
			protected.GET("/slots", s.getSlots)
			protected.GET("/report", s.getReport)
			protected.GET("/profiles", s.getProfiles)
			protected.PUT("/profiles/:id", s.putProfile)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	channels := map[string]bool{}
	for _, ch := range []transport.Channel{
		transport.ChannelMarketData,
		transport.ChannelSignalIn,
		transport.ChannelFireOut,
		transport.ChannelConfirmIn,
		transport.ChannelHeartbeat,
	} {
		channels[string(ch)] = s.Transport.Healthy(ch)
	}
	c.JSON(http.StatusOK, gin.H{
		"node_id":       s.Meta.NodeID,
		"use_mock_feed": s.Meta.UseMockFeed,
		"version":       s.Meta.Version,
		"started_at":    s.Meta.StartedAt,
		"uptime":        time.Since(s.Meta.StartedAt).Truncate(time.Second).String(),
		"channels":      channels,
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getMissions(c *gin.Context) {
	var out []mission.Mission
	if state := c.Query("state"); state != "" {
		out = s.Store.InState(mission.State(strings.ToUpper(state)))
	} else {
		out = s.Store.Active()
	}
	c.JSON(http.StatusOK, gin.H{"missions": out, "count": len(out)})
}

func (s *Server) getMission(c *gin.Context) {
	m, ok := s.Store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_MISSION",
			"error": "no such mission",
		})
		return
	}
	resp := gin.H{"mission": m}
	if m.OrderID != "" {
		if o, ok := s.Store.Order(m.OrderID); ok {
			resp["order"] = o
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelMission(c *gin.Context) {
	m, err := s.Router.Cancel(c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"mission": m})
	case errors.Is(err, mission.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{
			"code":  "NOT_CANCELLABLE",
			"error": err.Error(),
		})
	default:
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_MISSION",
			"error": err.Error(),
		})
	}
}

func (s *Server) getSlots(c *gin.Context) {
	held := map[string]gin.H{}
	for _, p := range s.Registry.Profiles() {
		held[p.UserID] = gin.H{
			"held": s.Slots.Held(p.UserID),
			"max":  p.MaxConcurrentSlots,
			"day":  s.Risk.Day(p.UserID),
		}
	}
	c.JSON(http.StatusOK, gin.H{"slots": held})
}

func (s *Server) getReport(c *gin.Context) {
	report, err := ledger.BuildReport(s.Ledger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "REPORT_ERROR",
			"error": err.Error(),
		})
		return
	}
	if c.Query("format") == "text" {
		c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
		report.Render(c.Writer)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"profiles": s.Registry.Profiles()})
}

func (s *Server) putProfile(c *gin.Context) {
	var p risk.UserRiskProfile
	if err := c.BindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	p.UserID = c.Param("id")
	if p.Tier == "" || p.MaxConcurrentSlots <= 0 || p.RiskPercent <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PROFILE",
			"error": "tier, max_concurrent_slots and risk_percent are required",
		})
		return
	}
	s.Registry.Upsert(p)
	if s.Queries != nil {
		if err := s.Queries.UpsertProfile(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":  "PERSIST_ERROR",
				"error": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// Start runs the HTTP server until ctx is cancelled, then drains with a
// short grace period.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Engine}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
