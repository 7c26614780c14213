// Package admin exposes the operational HTTP surface: health and
// readiness probes, book depth queries, order cancellation, and
// instrument directory reload/clear. Trading traffic never flows
// through here; orders arrive via the inbound queue.
package admin

import (
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"keel/domain/instrument"
	"keel/domain/orderbook"
	"keel/service"
)

type Server struct {
	router *service.Router
	dir    *instrument.Directory
	loader *instrument.Loader
	logger *zap.Logger
}

func NewServer(router *service.Router, dir *instrument.Directory, loader *instrument.Loader, logger *zap.Logger) *Server {
	return &Server{router: router, dir: dir, loader: loader, logger: logger}
}

func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))

	r.GET("/healthz", s.health)
	r.GET("/readyz", s.ready)

	v1 := r.Group("/v1")
	v1.GET("/book/:instrument", s.bookDepth)
	v1.DELETE("/orders/:instrument/:id", s.cancelOrder)
	v1.GET("/instruments", s.listInstruments)
	v1.POST("/instruments/reload", s.reloadInstruments)
	v1.DELETE("/instruments", s.clearInstruments)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports per-instrument engine state. Partial startup is a
// supported mode: 200 as long as at least one engine serves, with the
// full map in the body for operators.
func (s *Server) ready(c *gin.Context) {
	states := s.router.ReadyStates()

	anyReady := false
	for _, ok := range states {
		if ok {
			anyReady = true
			break
		}
	}

	code := http.StatusOK
	if !anyReady {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"instruments": states})
}

func (s *Server) bookDepth(c *gin.Context) {
	id := c.Param("instrument")
	eng, err := s.router.Engine(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	view, err := eng.Depth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, view)
}

// cancelOrder removes a resting order through the owning engine, so
// the cancel is WAL-logged and the book update published like any
// queue-driven mutation.
func (s *Server) cancelOrder(c *gin.Context) {
	eng, err := s.router.Engine(c.Param("instrument"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	remaining, err := eng.Cancel(c.Request.Context(), orderID)
	switch {
	case errors.Is(err, orderbook.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEngineNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{
			"order_id":  orderID,
			"remaining": remaining,
		})
	}
}

func (s *Server) listInstruments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instruments": s.dir.All()})
}

func (s *Server) reloadInstruments(c *gin.Context) {
	if err := s.loader.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instruments": s.dir.Len()})
}

func (s *Server) clearInstruments(c *gin.Context) {
	s.dir.Clear()
	c.JSON(http.StatusOK, gin.H{"instruments": 0})
}
