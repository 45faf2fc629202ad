package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/risto-app/risto/internal/auth"
	"github.com/risto-app/risto/internal/config"
	"github.com/risto-app/risto/internal/handler"
	"github.com/risto-app/risto/internal/metrics"
	"github.com/risto-app/risto/internal/middleware"
	"github.com/risto-app/risto/internal/ratelimit"
	"github.com/risto-app/risto/internal/store"
	ws "github.com/risto-app/risto/internal/websocket"
)

const (
	ipLimit  = 10
	ipWindow = time.Minute
)

type Server struct {
	db        *sql.DB
	cfg       config.Config
	hub       *ws.Hub
	authSvc   *auth.Service
	authH     *handler.AuthHandler
	animeH    *handler.AnimeHandler
	ipLimiter *ratelimit.Limiter
	clientIP  func(*http.Request) string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wires the stores, the auth service, and the handlers. limitStore
// holds the per-user and per-IP rate limit records; a nil store keeps them
// in SQLite.
func New(db *sql.DB, cfg config.Config, mailer auth.Mailer, limitStore ratelimit.Store, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if limitStore == nil {
		limitStore = store.NewRateLimitStore(db)
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	hub := ws.NewHub(logger)
	m := metrics.New(reg)

	limiter := ratelimit.New(limitStore, cfg.RateLimitMax, cfg.RateLimitWindow)
	hasher := auth.NewBcryptHasher(cfg.BcryptCost, cfg.HashWorkers)
	authSvc := auth.NewService(auth.NewSQLBackend(db), hasher, limiter, mailer, logger)

	return &Server{
		db:        db,
		cfg:       cfg,
		hub:       hub,
		authSvc:   authSvc,
		authH:     handler.NewAuthHandler(authSvc, hub, m, cfg.SessionCookieName, cfg.Production(), logger.With("component", "auth_handler")),
		animeH:    handler.NewAnimeHandler(store.NewAnimeStore(db), hub, logger.With("component", "anime")),
		ipLimiter: ratelimit.New(limitStore, ipLimit, ipWindow),
		clientIP:  middleware.ClientIP(cfg.TrustProxyHeaders),
		metrics:   m,
		logger:    logger,
	}
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public routes (no session required)
	mux.HandleFunc("POST /api/auth/signup", s.ipLimited(s.authH.SignUp))
	mux.HandleFunc("POST /api/auth/signin", s.ipLimited(s.authH.SignIn))
	mux.HandleFunc("GET /api/auth/verify", s.authH.Verify)
	mux.HandleFunc("POST /api/auth/verify/regenerate", s.ipLimited(s.authH.RegenerateVerification))
	mux.HandleFunc("POST /api/auth/forgot-password", s.ipLimited(s.authH.ForgotPassword))
	mux.HandleFunc("POST /api/auth/reset-password", s.authH.ResetPassword)
	mux.HandleFunc("POST /api/auth/change-password", s.authH.ChangePassword)
	mux.HandleFunc("GET /api/auth/session", s.authH.Session)
	mux.HandleFunc("DELETE /api/auth/session", s.authH.SignOut)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Protected routes
	requireAuth := middleware.RequireAuth(s.authSvc.Sessions(), s.cfg.SessionCookieName, s.logger.With("component", "auth_middleware"))
	mux.Handle("GET /api/user/anime", requireAuth(http.HandlerFunc(s.animeH.List)))
	mux.Handle("POST /api/user/anime", requireAuth(http.HandlerFunc(s.animeH.Create)))
	mux.Handle("GET /api/user/anime/{malId}", requireAuth(http.HandlerFunc(s.animeH.GetByMalID)))
	mux.Handle("PATCH /api/user/anime/{id}", requireAuth(http.HandlerFunc(s.animeH.Update)))
	mux.Handle("GET /ws", requireAuth(ws.HandleWebSocket(s.hub, originPatterns(s.cfg.AppURL), s.logger)))

	return middleware.RequestLogger(s.logger.With("component", "http"), s.clientIP)(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ipLimited applies the per-IP throttle used on credential endpoints. The
// counters share the per-user limit store under ip: principals.
func (s *Server) ipLimited(h http.HandlerFunc) http.HandlerFunc {
	key := func(r *http.Request) string { return ratelimit.IPPrincipal(s.clientIP(r)) }
	rl := middleware.RateLimit(s.ipLimiter, key, s.metrics, s.logger.With("component", "ip_throttle"))
	return rl(h).ServeHTTP
}

// originPatterns allows websocket upgrades from the app's own host.
func originPatterns(appURL string) []string {
	u, err := url.Parse(appURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
