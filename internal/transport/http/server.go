// Package httpapi exposes the operations surface: breaker status and
// reset, process state, cycle history and position queries.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"vigil/internal/engine"
	"vigil/internal/logger"
	"vigil/internal/store"

	"github.com/gin-gonic/gin"
)

// Server wraps the gin router and its http.Server.
type Server struct {
	addr   string
	router *gin.Engine
	srv    *http.Server
}

// Config describes the server dependencies. Store and Audit are
// optional; the related endpoints 404 without them.
type Config struct {
	Addr   string
	Engine *engine.Engine
	Store  store.Store
	Audit  store.AuditLog
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires the engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8086"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{engine: cfg.Engine, store: cfg.Store, audit: cfg.Audit}
	api := router.Group("/api")
	{
		api.GET("/engine", h.engineState)
		api.POST("/engine/pause", h.pause)
		api.POST("/engine/resume", h.resume)
		api.POST("/engine/emergency-stop", h.emergencyStop)
		api.POST("/engine/maintenance", h.maintenance)
		api.GET("/breaker", h.breakerState)
		api.POST("/breaker/reset", h.breakerReset)
		api.GET("/positions", h.positions)
		if cfg.Store != nil {
			api.GET("/cycles", h.cycles)
		}
		if cfg.Audit != nil {
			api.GET("/trips", h.trips)
		}
	}
	if cfg.Store != nil {
		router.GET("/charts/cycles", h.cyclesChart)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http: listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutCtx); err != nil {
		return err
	}
	return <-errCh
}

// Router exposes the underlying router for tests.
func (s *Server) Router() http.Handler { return s.router }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Debugf("http: %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(started).Truncate(time.Millisecond))
	}
}

type handlers struct {
	engine *engine.Engine
	store  store.Store
	audit  store.AuditLog
}

func (h *handlers) engineState(c *gin.Context) {
	m := h.engine.Machine()
	c.JSON(http.StatusOK, gin.H{
		"state":   m.State(),
		"since":   m.Since(),
		"history": m.History(),
	})
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func (h *handlers) pause(c *gin.Context) {
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator pause"
	}
	if err := h.engine.Pause(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.engine.Machine().State()})
}

func (h *handlers) resume(c *gin.Context) {
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator resume"
	}
	if err := h.engine.Resume(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.engine.Machine().State()})
}

func (h *handlers) emergencyStop(c *gin.Context) {
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator emergency stop"
	}
	if err := h.engine.EmergencyStop(c.Request.Context(), req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("http: emergency stop requested (%s)", req.Reason)
	c.JSON(http.StatusOK, gin.H{"state": h.engine.Machine().State()})
}

func (h *handlers) maintenance(c *gin.Context) {
	var req reasonReq
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "operator maintenance"
	}
	if err := h.engine.Maintenance(req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.engine.Machine().State()})
}

func (h *handlers) breakerState(c *gin.Context) {
	b := h.engine.Breaker()
	resp := gin.H{"state": b.State()}
	if trip, ok := b.LastTrip(); ok {
		resp["last_trip"] = trip
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) breakerReset(c *gin.Context) {
	var req struct {
		Operator string `json:"operator"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Operator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator field is required"})
		return
	}
	if err := h.engine.ResetBreaker(req.Operator); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	logger.Warnf("http: breaker reset requested by %q", req.Operator)
	c.JSON(http.StatusOK, gin.H{"state": h.engine.Breaker().State()})
}

func (h *handlers) positions(c *gin.Context) {
	// The book is the live view; the store serves history.
	if c.Query("all") == "1" && h.store != nil {
		all, err := h.store.ListPositions(c.Request.Context(), false)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"positions": all})
		return
	}
	snap := h.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"balance":            snap.Balance,
		"daily_realized_pnl": snap.DailyRealizedPnL,
		"taken_at":           snap.TakenAt,
		"positions":          snap.Positions,
	})
}

func (h *handlers) cycles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := h.store.ListCycleResults(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": recs})
}

func (h *handlers) trips(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trips, err := h.audit.BreakerTrips(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trips": trips})
}
