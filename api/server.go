// Package api exposes the cleared price and power series of a node over a
// read-only HTTP API.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/kilianp07/transactive/core/market"
	"github.com/kilianp07/transactive/infra/logger"
	"github.com/kilianp07/transactive/infra/metrics"
)

// Source lists the markets served by the API.
type Source interface {
	Markets() []*market.ConsensusMarket
	Market(name string) (*market.ConsensusMarket, bool)
}

// History queries recorded journal entries.
type History interface {
	Query(ctx context.Context, q metrics.JournalQuery) ([]metrics.Entry, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves GET /api/markets/:name/history from h.
func WithHistory(h History) Option { return func(s *Server) { s.history = h } }

// WithGatherer serves /metrics from g instead of the default gatherer.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option { return func(s *Server) { s.log = l } }

// Server serves the API routes.
type Server struct {
	cfg      Config
	src      Source
	history  History
	gatherer prometheus.Gatherer
	log      logger.Logger
	handler  http.Handler
}

// New builds the router for src.
func New(cfg Config, src Source, opts ...Option) *Server {
	cfg.SetDefaults()
	s := &Server{cfg: cfg, src: src}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrNew(s.log, "api")
	if os.Getenv("APP_ENV") != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(s.requestLogger(), recovery())
	router.GET("/healthz", s.health)
	router.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	g := router.Group("/api")
	g.GET("/markets", s.listMarkets)
	g.GET("/markets/:name/intervals", s.intervals)
	g.GET("/markets/:name/history", s.historyEntries)

	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)
	return s
}

// Handler returns the root handler including CORS.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		s.log.Infof("API listening on %s", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugw("api request", map[string]any{
			"method": c.Request.Method, "path": c.Request.URL.Path,
			"status": c.Writer.Status(), "latency_ms": time.Since(start).Milliseconds(),
		})
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, _ any) {
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred")
		c.Abort()
	})
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{"error": errorDetail{Code: code, Message: msg}})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "markets": len(s.src.Markets())})
}

// marketSummary is one entry of GET /api/markets.
type marketSummary struct {
	Name             string   `json:"name"`
	State            string   `json:"state"`
	Method           string   `json:"method"`
	IntervalMinutes  int      `json:"interval_minutes"`
	HorizonIntervals int      `json:"horizon_intervals"`
	Participants     int      `json:"participants"`
	Iterations       int      `json:"last_iterations"`
	DualityGap       *float64 `json:"last_duality_gap,omitempty"`
	Forced           bool     `json:"last_forced"`
}

func (s *Server) listMarkets(c *gin.Context) {
	ms := s.src.Markets()
	out := make([]marketSummary, 0, len(ms))
	for _, m := range ms {
		cfg := m.Config()
		res := m.LastResult()
		sum := marketSummary{
			Name: m.Name(), State: m.State().String(), Method: cfg.Method,
			IntervalMinutes: cfg.IntervalMinutes, HorizonIntervals: cfg.HorizonIntervals,
			Participants: len(m.Participants()), Iterations: res.Iterations, Forced: res.Forced,
		}
		if res.Iterations > 0 && finite(res.DualityGap) {
			gap := res.DualityGap
			sum.DualityGap = &gap
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, gin.H{"markets": out})
}

func (s *Server) intervals(c *gin.Context) {
	m, ok := s.src.Market(c.Param("name"))
	if !ok {
		writeError(c, http.StatusNotFound, "MARKET_NOT_FOUND", "unknown market "+c.Param("name"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": m.Name(), "state": m.State().String(), "intervals": m.Cleared()})
}

func (s *Server) historyEntries(c *gin.Context) {
	if s.history == nil {
		writeError(c, http.StatusNotFound, "HISTORY_DISABLED", "no journal sink configured")
		return
	}
	name := c.Param("name")
	if _, ok := s.src.Market(name); !ok {
		writeError(c, http.StatusNotFound, "MARKET_NOT_FOUND", "unknown market "+name)
		return
	}
	q := metrics.JournalQuery{Market: name, Kind: strings.ToLower(c.Query("kind"))}
	for key, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_PARAM", key+" must be RFC3339")
			return
		}
		*dst = t
	}
	entries, err := s.history.Query(c.Request.Context(), q)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "HISTORY_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": name, "entries": entries})
}

func finite(f float64) bool { return !math.IsInf(f, 0) && !math.IsNaN(f) }
