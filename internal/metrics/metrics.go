package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Metering metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobill_ticks_total",
			Help: "Total metering ticks processed",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanobill_active_sessions",
			Help: "Number of currently active sessions",
		},
	)

	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobill_sessions_started_total",
			Help: "Total sessions started",
		},
	)

	SessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanobill_sessions_ended_total",
			Help: "Total sessions ended",
		},
		[]string{"reason"},
	)

	// Cap metrics
	CapBreaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanobill_cap_breaches_total",
			Help: "Total cap breaches observed",
		},
		[]string{"scope"},
	)

	CapConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobill_cap_conflicts_total",
			Help: "Sessions rejected at start for exceeding universal headroom",
		},
	)

	// Settlement metrics
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanobill_settlements_total",
			Help: "Total settlement records by status",
		},
		[]string{"status"},
	)

	SettlementsClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobill_settlements_clamped_total",
			Help: "Settlements whose requested amount exceeded accumulated cost",
		},
	)

	// Rate table metrics
	RateRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobill_rate_refreshes_total",
			Help: "Successful rate table refreshes",
		},
	)

	RateRefreshErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanobill_rate_refresh_errors_total",
			Help: "Failed rate table refreshes",
		},
	)

	// Feed metrics
	FeedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nanobill_feed_subscribers",
			Help: "Number of live feed subscribers",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		ActiveSessions,
		SessionsStarted,
		SessionsEnded,
		CapBreaches,
		CapConflicts,
		SettlementsTotal,
		SettlementsClamped,
		RateRefreshes,
		RateRefreshErrors,
		FeedSubscribers,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
