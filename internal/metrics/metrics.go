package metrics

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tracking metrics
	CheckinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_checkins_total",
			Help: "Total check-in attempts by result",
		},
		[]string{"result"},
	)

	CheckoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_checkouts_total",
			Help: "Total check-out attempts by result",
		},
		[]string{"result"},
	)

	// OpenSessions is computed from the session store at scrape time, so
	// every process sharing a store reports the same value.
	OpenSessions = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tasktracker_open_sessions",
			Help: "Number of sessions currently checked in",
		},
		countOpenSessions,
	)

	TrackedSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasktracker_tracked_seconds_total",
			Help: "Total seconds accumulated into the ledger",
		},
	)

	ClockSkew = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasktracker_clock_skew_total",
			Help: "Check-outs whose end time preceded the start time",
		},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_reports_total",
			Help: "Total reports built by result",
		},
		[]string{"result"},
	)

	// HTTP metrics
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasktracker_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "method", "status"},
	)
)

// openSessionsSource holds a func() (int, error) counting open sessions.
var openSessionsSource atomic.Value

// SetOpenSessionsSource sets the function the open sessions gauge reads
// on each scrape.
func SetOpenSessionsSource(fn func() (int, error)) {
	openSessionsSource.Store(fn)
}

func countOpenSessions() float64 {
	fn, ok := openSessionsSource.Load().(func() (int, error))
	if !ok || fn == nil {
		return 0
	}
	n, err := fn()
	if err != nil {
		return math.NaN()
	}
	return float64(n)
}

func init() {
	// Register all metrics
	prometheus.MustRegister(
		CheckinsTotal,
		CheckoutsTotal,
		OpenSessions,
		TrackedSeconds,
		ClockSkew,
		ReportsTotal,
		RequestDuration,
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
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
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
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
