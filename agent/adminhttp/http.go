// Package adminhttp is the agent's read-only operational surface:
// health, stats, and the current label, served over plain HTTP
// alongside the UDP protocol. Uses the same gin.New + gin-contrib/zap
// middleware stack, and the same httpServer/HTTPServer split, as the
// rest of this stack's admin surfaces.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Stats is the snapshot the admin surface exposes. agent.Stats is an
// alias of this type; declaring it here keeps adminhttp free of an
// import cycle back to the agent package.
type Stats struct {
	Label           uint8
	LastRenewalUnix int64
	IOError         bool
	LabelExpired    bool
	Uncommitted     uint32
	IDsIssued       uint64
	LastFsyncUnix   int64
	StartedAt       time.Time
}

// StatsSource publishes a point-in-time snapshot for the admin server
// to render. The agent.Server satisfies it.
type StatsSource interface {
	Snapshot() Stats
}

// Server wraps a gin.Engine bound to one address; it never mutates
// agent state, only reads through StatsSource.
type Server struct {
	logger *zap.Logger
	source StatsSource
	addr   string
	router *gin.Engine
	http   *http.Server
}

// New builds an unstarted admin Server listening on addr.
func New(addr string, logger *zap.Logger, source StatsSource) (*Server, error) {
	s := &Server{logger: logger, source: source, addr: addr}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	s.registerRoutes(router)
	s.router = router
	s.http = &http.Server{Addr: addr, Handler: router}

	return s, nil
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.healthz)

	v1 := router.Group("v1")
	v1.GET("stats", s.getStats)
	v1.GET("label", s.getLabel)
}

func (s *Server) healthz(c *gin.Context) {
	st := s.source.Snapshot()
	if st.IOError {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "io_error"})
		return
	}
	if st.LabelExpired {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "label_expired"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getStats(c *gin.Context) {
	st := s.source.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"label":             st.Label,
		"last_renewal_unix": st.LastRenewalUnix,
		"io_error":          st.IOError,
		"label_expired":     st.LabelExpired,
		"uncommitted":       st.Uncommitted,
		"ids_issued":        st.IDsIssued,
		"last_fsync_unix":   st.LastFsyncUnix,
		"uptime_seconds":    time.Since(st.StartedAt).Seconds(),
	})
}

func (s *Server) getLabel(c *gin.Context) {
	st := s.source.Snapshot()
	c.JSON(http.StatusOK, gin.H{"label": st.Label})
}

// Run blocks serving admin HTTP until Close is called.
func (s *Server) Run() error {
	s.logger.Info("admin http listening", zap.String("addr", s.addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		s.logger.Info("admin http closing", zap.String("addr", s.addr))
		return nil
	}
	return err
}

// Close shuts the admin HTTP listener down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
