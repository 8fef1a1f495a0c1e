// Package api exposes the metering engine over HTTP: session lifecycle,
// settlement operations, the rate table and a websocket live feed.
package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nanobill/nanobill/internal/billing"
	"github.com/nanobill/nanobill/internal/caps"
	"github.com/nanobill/nanobill/internal/engine"
	"github.com/nanobill/nanobill/internal/feed"
	"github.com/nanobill/nanobill/internal/rates"
	"github.com/nanobill/nanobill/internal/session"
	"github.com/nanobill/nanobill/internal/settlement"
	"github.com/nanobill/nanobill/internal/storage"
)

// Server is the public HTTP API server.
type Server struct {
	engine      *engine.Engine
	store       *session.Store
	settlements *settlement.Coordinator
	table       *rates.Table
	hub         *feed.Hub
	logger      zerolog.Logger

	server   *http.Server
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer wires the API routes over the given components.
func NewServer(addr string, eng *engine.Engine, store *session.Store, settlements *settlement.Coordinator, table *rates.Table, hub *feed.Hub, logger zerolog.Logger) *Server {
	s := &Server{
		engine:      eng,
		store:       store,
		settlements: settlements,
		table:       table,
		hub:         hub,
		logger:      logger.With().Str("component", "api").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/sessions", s.startSession)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/:id/events", s.logEvent)
		api.POST("/sessions/:id/end", s.endSession)
		api.DELETE("/sessions/:id", s.removeSession)

		api.POST("/settlements/validate", s.validateSettlement)
		api.POST("/settlements", s.initiateSettlement)
		api.GET("/settlements", s.listSettlements)
		api.GET("/settlements/summary", s.settlementSummary)
		api.POST("/settlements/:id/confirm", s.confirmSettlement)
		api.POST("/settlements/:id/fail", s.failSettlement)
		api.POST("/settlements/:id/refund", s.refundSettlement)

		api.GET("/rates", s.getRates)
		api.POST("/rates/refresh", s.refreshRates)

		api.GET("/ws", s.handleWebSocket)
	}

	s.server = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Close()
}

// abortWithError maps domain errors onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, settlement.ErrSettlementNotFound),
		errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrInvalidConfiguration),
		errors.Is(err, rates.ErrUnknownCurrency),
		errors.Is(err, rates.ErrUnknownUnit):
		status = http.StatusBadRequest
	case errors.Is(err, caps.ErrCapConflict),
		errors.Is(err, settlement.ErrInvalidStateTransition):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
