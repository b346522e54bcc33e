// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/models"
	"github.com/chainpulse/chainpulse/internal/provider"
	"github.com/chainpulse/chainpulse/internal/storage"
	"github.com/chainpulse/chainpulse/pkg/utils"
)

// Server exposes the worker's operational endpoints: liveness, a status
// snapshot and Prometheus metrics
type Server struct {
	cfg       *config.Config
	storage   storage.Storage
	providers *provider.Manager
	metrics   *metrics.Manager
	logger    *logrus.Entry

	httpServer *http.Server
	startedAt  time.Time
}

// NewServer creates the ops HTTP server
func NewServer(cfg *config.Config, store storage.Storage, providers *provider.Manager, metricsManager *metrics.Manager) *Server {
	s := &Server{
		cfg:       cfg,
		storage:   store,
		providers: providers,
		metrics:   metricsManager,
		logger:    utils.ComponentLogger("server"),
		startedAt: time.Now().UTC(),
	}

	router := mux.NewRouter()
	if cfg.Server.EnableHealth {
		router.HandleFunc("/health", s.handleHealth).Methods("GET")
		router.HandleFunc("/status", s.handleStatus).Methods("GET")
	}
	if cfg.Server.EnableMetrics {
		router.Handle("/metrics", metricsManager.Handler()).Methods("GET")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.WithField("addr", s.httpServer.Addr).Info("Ops server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Ops server failed")
		}
	}()
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness and storage reachability
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := s.storage.Ping(); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"version":   s.cfg.App.Version,
		"worker_id": s.cfg.App.WorkerID,
		"uptime":    time.Since(s.startedAt).String(),
	})
}

// statusResponse is the /status payload
type statusResponse struct {
	WorkerID  string                `json:"worker_id"`
	Version   string                `json:"version"`
	Uptime    string                `json:"uptime"`
	Providers []*models.RpcProvider `json:"providers"`
	Scanner   *scannerStatus        `json:"scanner,omitempty"`
}

type scannerStatus struct {
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// handleStatus reports the provider pool and scanner progress
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		WorkerID:  s.cfg.App.WorkerID,
		Version:   s.cfg.App.Version,
		Uptime:    time.Since(s.startedAt).String(),
		Providers: s.providers.Pool().Snapshot(),
	}

	cursor, err := s.storage.GetCursor(r.Context(), storage.CursorScanner)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read scanner cursor")
	} else if cursor != nil {
		resp.Scanner = &scannerStatus{
			BlockNumber: cursor.BlockNumber,
			BlockHash:   cursor.BlockHash,
			UpdatedAt:   cursor.UpdatedAt,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
