// Package api provides the read-only HTTP status API of the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/homegrid/internal/config"
	"github.com/resident-x/homegrid/internal/domain"
)

// StatusSource is the view of the hub the API reports on.
type StatusSource interface {
	State() string
	Records() []domain.SwitchRecord
}

// Server represents the HTTP API server.
type Server struct {
	config    *config.Config
	server    *http.Server
	router    *mux.Router
	source    StatusSource
	metrics   http.Handler
	logger    zerolog.Logger
	startTime time.Time
	version   string
}

// NewServer creates a new HTTP API server. metricsHandler may be nil.
func NewServer(cfg *config.Config, source StatusSource, metricsHandler http.Handler, version string) *Server {
	s := &Server{
		config:    cfg,
		router:    mux.NewRouter(),
		source:    source,
		metrics:   metricsHandler,
		logger:    log.With().Str("component", "api").Logger(),
		startTime: time.Now(),
		version:   version,
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all API endpoint handlers.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/switches", s.handleListSwitches).Methods("GET")
	api.HandleFunc("/switches/{mac}", s.handleGetSwitch).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}
}

// Handler returns the router wrapped in access logging and panic recovery.
func (s *Server) Handler() http.Handler {
	access := s.logger.With().Str("kind", "access").Logger()
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
	)(handlers.LoggingHandler(access, s.router))
}

// Start begins listening for HTTP requests.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("host", s.config.API.Host).
			Int("port", s.config.API.Port).
			Msg("Starting HTTP API server")

		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info().Msg("Stopping HTTP API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}

	return nil
}

// switchView is the JSON shape of one switch.
type switchView struct {
	MAC                   string     `json:"mac"`
	GUID                  string     `json:"guid"`
	LastSeen              *time.Time `json:"lastSeen"`
	PowerState            bool       `json:"powerState"`
	CumulativeEnergyKWh   float64    `json:"cumulativeEnergyKwh"`
	CumulativeCostDollars float64    `json:"cumulativeCostDollars"`
}

func viewOf(rec domain.SwitchRecord) switchView {
	v := switchView{
		MAC:                   rec.MAC,
		GUID:                  rec.GUID,
		PowerState:            rec.PowerState,
		CumulativeEnergyKWh:   rec.CumulativeEnergyKWh,
		CumulativeCostDollars: rec.CumulativeCostDollars,
	}
	if !rec.LastSeen.IsZero() {
		seen := rec.LastSeen
		v.LastSeen = &seen
	}
	return v
}

// handleStatus returns hub status information.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	records := s.source.Records()

	on := 0
	var energy, cost float64
	for _, rec := range records {
		if rec.PowerState {
			on++
		}
		energy += rec.CumulativeEnergyKWh
		cost += rec.CumulativeCostDollars
	}

	s.writeJSON(w, map[string]interface{}{
		"status":           "ok",
		"state":            s.source.State(),
		"version":          s.version,
		"uptime":           time.Since(s.startTime).String(),
		"switchCount":      len(records),
		"switchesOn":       on,
		"totalEnergyKwh":   energy,
		"totalCostDollars": cost,
	}, http.StatusOK)
}

// handleListSwitches returns every switch in registry order.
func (s *Server) handleListSwitches(w http.ResponseWriter, _ *http.Request) {
	records := s.source.Records()

	result := make([]switchView, 0, len(records))
	for _, rec := range records {
		result = append(result, viewOf(rec))
	}

	s.writeJSON(w, map[string]interface{}{
		"switches": result,
		"count":    len(result),
	}, http.StatusOK)
}

// handleGetSwitch returns one switch by MAC.
func (s *Server) handleGetSwitch(w http.ResponseWriter, r *http.Request) {
	mac := mux.Vars(r)["mac"]

	for _, rec := range s.source.Records() {
		if rec.MAC == mac {
			s.writeJSON(w, viewOf(rec), http.StatusOK)
			return
		}
	}

	s.writeError(w, "Switch not found", http.StatusNotFound)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := map[string]string{"error": message}
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode error response")
	}
}

// recoveryLogger adapts zerolog to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	logger zerolog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Msg(fmt.Sprint(v...))
}
