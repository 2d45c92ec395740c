package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/servicedesk/internal/backup"
	"github.com/dukerupert/servicedesk/internal/handler"
	"github.com/dukerupert/servicedesk/internal/middleware"
	ws "github.com/dukerupert/servicedesk/internal/websocket"
)

type Config struct {
	// OperatorTokens are bcrypt hashes; empty disables authentication.
	OperatorTokens []string
	AllowedOrigins []string
	// RateLimit is requests per second per client on /api; 0 disables it.
	RateLimit float64
	RateBurst int
}

type Server struct {
	cfg         Config
	hub         *ws.Hub
	backupH     *handler.BackupHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(cfg Config, svc handler.BackupService, hub *ws.Hub, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		backupH: handler.NewBackupHandler(svc, hub, handler.NewAuditLogger(logger), logger.With("component", "backup_handler")),
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return s
}

// StatusBroadcaster forwards orchestrator state changes to websocket clients.
func StatusBroadcaster(hub *ws.Hub) backup.StatusCallback {
	return func(st backup.Status) {
		hub.Broadcast(ws.NewMessage("backup", "status", st.BackupID, st))
	}
}

// RunMaintenance prunes idle rate limiter buckets until ctx is done.
func (s *Server) RunMaintenance(ctx context.Context) {
	if s.rateLimiter == nil {
		return
	}
	s.rateLimiter.RunCleanup(ctx, 10*time.Minute)
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	protect := middleware.RequireOperator(s.cfg.OperatorTokens, s.logger.With("component", "auth"))
	api := func(h http.HandlerFunc) http.Handler {
		return protect(s.rateLimited(h))
	}

	mux.Handle("GET /ws", protect(ws.HandleWebSocket(s.hub, s.cfg.AllowedOrigins)))

	// Backup API routes
	mux.Handle("POST /api/backups", api(s.backupH.Create))
	mux.Handle("GET /api/backups", api(s.backupH.List))
	mux.Handle("GET /api/backups/status", api(s.backupH.Status))
	mux.Handle("POST /api/backups/integrity", api(s.backupH.VerifyAll))
	mux.Handle("GET /api/backups/{id}", api(s.backupH.Get))
	mux.Handle("DELETE /api/backups/{id}", api(s.backupH.Delete))
	mux.Handle("POST /api/backups/{id}/restore", api(s.backupH.Restore))
	mux.Handle("POST /api/backups/{id}/integrity", api(s.backupH.Verify))
	mux.Handle("GET /api/backups/{id}/checks", api(s.backupH.Checks))

	return middleware.RequestIDs(middleware.RequestLogger(s.logger.With("component", "http"))(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	if s.rateLimiter == nil {
		return h
	}
	return middleware.RateLimit(s.rateLimiter, middleware.RealIP)(h)
}
