// Package server exposes runs, traces and metrics over HTTP, and tails live
// trace records over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"republic/internal/agent/trace"
	"republic/internal/logging"
	"republic/internal/observability"
	"republic/internal/runstore"
	"republic/internal/toolregistry"
)

// Config holds the listener settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	TraceRoot   string
	Version     string
	Debug       bool
}

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunDetail combines the ledger row and the replayed record stream of a run.
type RunDetail struct {
	Record *runstore.RunRecord `json:"record,omitempty"`
	Info   *trace.RunInfo      `json:"info,omitempty"`
	Spans  []trace.Span        `json:"spans,omitempty"`
	Events []trace.Event       `json:"events,omitempty"`
	End    *trace.End          `json:"end,omitempty"`
}

// Option customizes a Server.
type Option func(*Server)

// WithLedger serves run history from a ledger instead of the trace files.
func WithLedger(ledger runstore.Ledger) Option {
	return func(s *Server) { s.ledger = ledger }
}

// WithMetrics mounts the collector under /metrics.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithHub streams live records from hub. The same hub must be registered
// as a trace sink of the runtime.
func WithHub(hub *Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithRegistry lists the tool contracts under /api/tools.
func WithRegistry(registry *toolregistry.Registry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// Server serves the read-side API of the control loop.
type Server struct {
	cfg      Config
	ledger   runstore.Ledger
	metrics  *observability.MetricsCollector
	hub      *Hub
	registry *toolregistry.Registry
	logger   logging.Logger
	started  time.Time
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds a server and its routes.
func New(cfg Config, opts ...Option) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8787"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	s := &Server{
		cfg:     cfg,
		logger:  logging.NewComponentLogger("server"),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = NewHub(0)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.allowOrigin,
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(s.corsConfig()))
	s.engine = engine
	s.routes()
	return s
}

func (s *Server) corsConfig() cors.Config {
	config := cors.DefaultConfig()
	config.AllowMethods = []string{"GET", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	config.AllowWebSockets = true
	if len(s.cfg.CORSOrigins) == 0 || containsString(s.cfg.CORSOrigins, "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = s.cfg.CORSOrigins
	}
	return config
}

func (s *Server) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.CORSOrigins) == 0 || containsString(s.cfg.CORSOrigins, "*") {
		return true
	}
	return containsString(s.cfg.CORSOrigins, origin)
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.engine.Group("/api")
	{
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
		api.GET("/traces/latest", s.handleLatestTrace)
		api.GET("/stats", s.handleStats)
		api.GET("/tools", s.handleTools)
		api.GET("/stream", s.handleStream)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the live record hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run listens until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, gin.H{
		"status":      "ok",
		"version":     s.cfg.Version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"subscribers": s.hub.Subscribers(),
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	filter := runstore.Filter{
		AgentID: c.Query("agent"),
		State:   strings.ToUpper(c.Query("state")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			fail(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, fmt.Errorf("invalid since %q: want RFC3339", raw))
			return
		}
		filter.Since = since
	}

	if s.ledger != nil {
		runs, err := s.ledger.List(c.Request.Context(), filter)
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		ok(c, runs)
		return
	}

	runs, err := s.traceRuns()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	ok(c, runstore.FilterTraceRuns(runs, filter))
}

func (s *Server) traceRuns() ([]trace.RunInfo, error) {
	if s.cfg.TraceRoot == "" {
		return nil, nil
	}
	return trace.ListRuns(s.cfg.TraceRoot)
}

func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")
	detail := RunDetail{}

	if s.ledger != nil {
		rec, err := s.ledger.Get(c.Request.Context(), runID)
		switch {
		case err == nil:
			detail.Record = &rec
		case !errors.Is(err, runstore.ErrNotFound):
			fail(c, http.StatusInternalServerError, err)
			return
		}
	}

	if s.cfg.TraceRoot != "" {
		path, err := trace.FindRun(s.cfg.TraceRoot, runID)
		switch {
		case err == nil:
			if err := s.fillReplay(&detail, path); err != nil {
				fail(c, http.StatusInternalServerError, err)
				return
			}
		case !errors.Is(err, trace.ErrRunNotFound):
			fail(c, http.StatusBadRequest, err)
			return
		}
	}

	if detail.Record == nil && detail.Info == nil {
		fail(c, http.StatusNotFound, fmt.Errorf("run %s not found", runID))
		return
	}
	ok(c, detail)
}

func (s *Server) fillReplay(detail *RunDetail, path string) error {
	replay, err := trace.ReadFile(path)
	if err != nil {
		return err
	}
	info := trace.RunInfo{
		RunID:      replay.RunID,
		AgentID:    replay.AgentID,
		Path:       path,
		Closed:     replay.Closed(),
		SpanCount:  len(replay.Spans),
		EventCount: len(replay.Events),
	}
	if replay.Start != nil {
		info.StartedAt = replay.Start.Timestamp
	}
	if replay.End != nil {
		info.FinalStatus = string(replay.End.FinalStatus)
	}
	detail.Info = &info
	detail.Spans = replay.Spans
	detail.Events = replay.Events
	detail.End = replay.End
	return nil
}

func (s *Server) handleLatestTrace(c *gin.Context) {
	if s.cfg.TraceRoot == "" {
		fail(c, http.StatusNotFound, trace.ErrRunNotFound)
		return
	}
	latest, err := trace.LatestRun(s.cfg.TraceRoot)
	if errors.Is(err, trace.ErrRunNotFound) {
		fail(c, http.StatusNotFound, err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	detail := RunDetail{}
	if err := s.fillReplay(&detail, latest.Path); err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	detail.Info.Date = latest.Date
	ok(c, detail)
}

func (s *Server) handleStats(c *gin.Context) {
	if s.ledger != nil {
		stats, err := s.ledger.Stats(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, err)
			return
		}
		ok(c, stats)
		return
	}

	runs, err := s.traceRuns()
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}
	counts := map[string]int{}
	for _, run := range runs {
		state := run.FinalStatus
		if !run.Closed {
			state = "OPEN"
		}
		counts[state]++
	}
	stats := make([]runstore.StateStats, 0, len(counts))
	for state, n := range counts {
		stats = append(stats, runstore.StateStats{State: state, Runs: int64(n)})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].State < stats[j].State })
	ok(c, stats)
}

func (s *Server) handleTools(c *gin.Context) {
	if s.registry == nil {
		ok(c, []any{})
		return
	}
	ok(c, s.registry.Contracts())
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
