// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/jwtauth/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cmatc13/stathera/internal/engine"
	"github.com/cmatc13/stathera/internal/ledger"
	"github.com/cmatc13/stathera/internal/security"
	"github.com/cmatc13/stathera/pkg/config"
	"github.com/cmatc13/stathera/pkg/health"
	"github.com/cmatc13/stathera/pkg/logging"
	"github.com/cmatc13/stathera/pkg/metrics"
)

// Server is the Batch Engine control plane: batch status, manual finalize
// trigger, and health/metrics, behind the same JWT/API-key/CSRF/rate-limit
// stack the teacher's API server runs for its user-facing routes.
type Server struct {
	config           *config.Config
	router           *chi.Mux
	engine           *engine.BatchEngine
	insurance        *ledger.InsuranceFund
	tokenAuth        *jwtauth.JWTAuth
	server           *http.Server
	logger           *logging.Logger
	metricsCollector *metrics.Metrics
	healthRegistry   *health.Registry
}

// NewServer creates a new API server fronting a live BatchEngine and its
// insurance fund.
func NewServer(cfg *config.Config, eng *engine.BatchEngine, insurance *ledger.InsuranceFund) *Server {
	r := chi.NewRouter()
	tokenAuth := jwtauth.New("HS256", []byte(cfg.Auth.JWTSecret), nil)

	logCfg := logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      log.Writer(),
		ServiceName: "api",
		Environment: cfg.Log.Environment,
	}
	logger := logging.New(logCfg)

	metricsCfg := metrics.Config{
		Namespace:   cfg.Metrics.Namespace,
		Subsystem:   "api",
		ServiceName: "api",
	}
	metricsCollector := metrics.New(metricsCfg)

	healthRegistry := health.NewRegistry(logger)

	s := &Server{
		config:           cfg,
		router:           r,
		engine:           eng,
		insurance:        insurance,
		tokenAuth:        tokenAuth,
		logger:           logger,
		metricsCollector: metricsCollector,
		healthRegistry:   healthRegistry,
		server: &http.Server{
			Addr:    ":" + cfg.API.Port,
			Handler: r,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.setupHealthChecks()

	return s
}

func (s *Server) setupMiddleware() {
	securityManager, err := security.NewSecurityManager(s.config.Redis.Address, s.config.Auth.JWTSecret)
	if err != nil {
		s.logger.Error("Failed to initialize security manager", "error", err)
		return
	}

	securityMiddleware := NewSecurityMiddleware(securityManager, s.tokenAuth, s.logger)

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)

	s.router.Use(securityMiddleware.SecureHeaders)
	s.router.Use(securityMiddleware.ContentSecurityPolicy)
	s.router.Use(securityMiddleware.ErrorHandling)
	s.router.Use(securityMiddleware.XSSProtection)
	s.router.Use(securityMiddleware.SQLInjectionProtection)
	s.router.Use(securityMiddleware.RequestLogging)

	s.router.Use(MetricsMiddleware(s.metricsCollector, "api"))
	s.router.Use(RecovererWithMetrics(s.logger, s.metricsCollector, "api"))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.API.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-API-Key"},
		ExposedHeaders:   []string{"X-New-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Use(securityMiddleware.RateLimiter(100, 1*time.Minute))
}

func (s *Server) setupRoutes() {
	securityManager, err := security.NewSecurityManager(s.config.Redis.Address, s.config.Auth.JWTSecret)
	if err != nil {
		s.logger.Error("Failed to initialize security manager", "error", err)
		return
	}

	securityMiddleware := NewSecurityMiddleware(securityManager, s.tokenAuth, s.logger)

	// Public routes
	s.router.Group(func(r chi.Router) {
		r.Use(securityMiddleware.InputSanitization)

		r.Get("/health", s.handleHealth)
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.With(securityMiddleware.ValidateContentType("application/json")).Post("/login", s.handleLogin)
	})

	// Operator routes - require admin JWT/API key authentication
	s.router.Group(func(r chi.Router) {
		r.Use(securityMiddleware.APIKeyAuth)
		r.Use(jwtauth.Verifier(s.tokenAuth))
		r.Use(securityMiddleware.JWTWithBruteForceProtection)
		r.Use(jwtauth.Authenticator)
		r.Use(s.adminOnly)
		r.Use(securityMiddleware.CSRFProtection)
		r.Use(securityMiddleware.InputSanitization)
		r.Use(securityMiddleware.ResponseSanitization)

		r.Get("/batch/status", s.handleBatchStatus)
		r.Get("/batch/state/roots", s.handleBatchStateRoots)
		r.With(securityMiddleware.ValidateContentType("application/json")).Post("/batch/finalize", s.handleBatchFinalize)

		r.Get("/insurance/balance", s.handleInsuranceBalance)
		r.With(securityMiddleware.ValidateContentType("application/json")).Post("/insurance/settle", s.handleInsuranceSettle)
	})
}

func (s *Server) setupHealthChecks() {
	s.healthRegistry.Register("api", health.ServiceChecker("api", func(ctx context.Context) error {
		return nil
	}))

	s.healthRegistry.Register("redis", health.RedisChecker(s.config.Redis.Address, func(ctx context.Context) error {
		return nil
	}))

	s.healthRegistry.Register("batch-engine", health.DependencyChecker("batch-engine", func(ctx context.Context) error {
		if s.engine == nil {
			return http.ErrServerClosed
		}
		return nil
	}))
}

// Start starts the API server
func (s *Server) Start() {
	s.logger.Info("Starting API server", "port", s.config.API.Port)

	s.metricsCollector.ServiceLastStarted.Set(float64(time.Now().Unix()))

	uptimeDone := make(chan struct{})
	s.metricsCollector.RecordUptime(uptimeDone)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Error starting server", "error", err)
		close(uptimeDone)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", "error", err)
	}
	s.logger.Info("API server shutdown complete")
}

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.healthRegistry.RunChecks(r.Context())

	status := health.StatusUp
	for _, check := range checks {
		if check.Status == health.StatusDown {
			status = health.StatusDown
			break
		} else if check.Status == health.StatusUnknown && status != health.StatusDown {
			status = health.StatusUnknown
		}
	}

	httpStatus := http.StatusOK
	if status == health.StatusDown {
		httpStatus = http.StatusServiceUnavailable
	}

	resp := Response{
		Success: status == health.StatusUp,
		Message: "Service health status: " + string(status),
		Data: map[string]interface{}{
			"status":    status,
			"timestamp": time.Now().Unix(),
			"version":   s.config.API.Version,
			"checks":    checks,
			"system": map[string]interface{}{
				"go_version":    runtime.Version(),
				"go_goroutines": runtime.NumGoroutine(),
				"go_cpus":       runtime.NumCPU(),
			},
		},
	}

	s.renderJSON(w, resp, httpStatus)
}

// handleLogin issues an operator JWT against the configured admin credentials.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Username != s.config.Auth.AdminUsername {
		s.renderError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	securityManager, err := security.NewSecurityManager(s.config.Redis.Address, s.config.Auth.JWTSecret)
	if err != nil || !securityManager.VerifyPassword(s.config.Auth.AdminPasswordHash, req.Password) {
		s.renderError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	claims := map[string]interface{}{
		"user_id":  "operator",
		"username": req.Username,
		"role":     "admin",
		"exp":      time.Now().Add(s.config.Auth.JWTExpirationTime).Unix(),
	}

	_, tokenString, err := s.tokenAuth.Encode(claims)
	if err != nil {
		s.renderError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	resp := Response{
		Success: true,
		Message: "Login successful",
		Data: map[string]interface{}{
			"token":      tokenString,
			"expires_at": time.Now().Add(s.config.Auth.JWTExpirationTime).Unix(),
		},
	}

	s.renderJSON(w, resp, http.StatusOK)
}

// handleBatchStatus reports the in-flight batch's running counters.
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	counters := s.engine.CurrentCounters()

	resp := Response{
		Success: true,
		Data: map[string]interface{}{
			"running_tx_count": counters.RunningTxCount,
			"deposits":         counters.NDeposits,
			"withdrawals":      counters.NWithdrawals,
			"threshold":        engine.TransactionsPerBatch,
		},
	}

	s.renderJSON(w, resp, http.StatusOK)
}

// handleBatchStateRoots reports the current spot/perp state tree roots.
func (s *Server) handleBatchStateRoots(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Success: true,
		Data: map[string]interface{}{
			"spot_root": s.engine.SpotTree.Root(),
			"perp_root": s.engine.PerpTree.Root(),
		},
	}

	s.renderJSON(w, resp, http.StatusOK)
}

// handleBatchFinalize triggers an out-of-band finalize, ahead of the
// transaction-count threshold, for operator-driven batch cutover.
func (s *Server) handleBatchFinalize(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.FinalizeBatch(); err != nil {
		s.renderError(w, "Finalize failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.renderJSON(w, Response{Success: true, Message: "Batch finalized"}, http.StatusOK)
}

// handleInsuranceBalance reports the insurance fund's current signed balance.
func (s *Server) handleInsuranceBalance(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Success: true,
		Data: map[string]interface{}{
			"balance": s.insurance.Balance(),
		},
	}
	s.renderJSON(w, resp, http.StatusOK)
}

// handleInsuranceSettle records an out-of-band adjustment against the
// insurance fund (an operator-confirmed liquidation shortfall or surplus).
func (s *Server) handleInsuranceSettle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta  int64  `json:"delta"`
		Reason string `json:"reason"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.renderError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		s.renderError(w, "Reason is required", http.StatusBadRequest)
		return
	}

	if err := s.insurance.Settle(req.Delta, req.Reason); err != nil {
		s.renderError(w, "Settle failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	resp := Response{
		Success: true,
		Message: "Insurance fund settled",
		Data: map[string]interface{}{
			"balance": s.insurance.Balance(),
		},
	}
	s.renderJSON(w, resp, http.StatusOK)
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			s.renderError(w, "Authentication error", http.StatusUnauthorized)
			return
		}

		role, ok := claims["role"].(string)
		if !ok || role != "admin" {
			s.renderError(w, "Admin access required", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) renderJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, message string, status int) {
	s.metricsCollector.RecordError("api", "http", strconv.Itoa(status))

	resp := Response{
		Success: false,
		Error:   message,
	}

	s.renderJSON(w, resp, status)
}
