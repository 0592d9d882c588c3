// Package api serves the policy, claim and gateway operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/ppiankov/extralife/internal/audit"
	"github.com/ppiankov/extralife/internal/beneficiary"
	"github.com/ppiankov/extralife/internal/cache"
	"github.com/ppiankov/extralife/internal/checkout"
	"github.com/ppiankov/extralife/internal/claim"
	"github.com/ppiankov/extralife/internal/clock"
	"github.com/ppiankov/extralife/internal/documents"
	"github.com/ppiankov/extralife/internal/metrics"
	"github.com/ppiankov/extralife/internal/model"
	"github.com/ppiankov/extralife/internal/policy"
	"github.com/ppiankov/extralife/internal/worker"
)

// Deps are the services behind the routes
type Deps struct {
	Policies      *policy.Manager
	Beneficiaries *beneficiary.Allocator
	Claims        *claim.Manager
	Checkout      *checkout.Service
	Documents     documents.Store
	Audit         *audit.Service
	Clock         clock.Clock
}

// Server is the HTTP front end
type Server struct {
	deps      Deps
	cfg       model.ServerConfig
	maxUpload int64
	jwtSecret []byte
	limiter   *worker.Limiter
	router    *mux.Router
	logger    logrus.FieldLogger

	// verifications maps issued verification ids to their policy number
	verifications   cache.Cache
	verificationTTL time.Duration
}

// NewServer builds the router and middleware chain
func NewServer(cfg model.Config, deps Deps, logger logrus.FieldLogger) *Server {
	s := &Server{
		deps:      deps,
		cfg:       cfg.Server,
		maxUpload: cfg.Documents.MaxBytes,
		logger:    logger.WithField("component", "api"),
	}
	if s.maxUpload <= 0 {
		s.maxUpload = documents.DefaultMaxBytes
	}
	s.verificationTTL = cfg.Documents.VerificationTTL
	if s.verificationTTL <= 0 {
		s.verificationTTL = time.Hour
	}
	s.verifications = cache.NewMemoryCache(s.verificationTTL, 10*time.Minute)
	if cfg.Auth.JWTSecret != "" {
		s.jwtSecret = []byte(cfg.Auth.JWTSecret)
	}
	if cfg.Server.RateLimit > 0 {
		s.limiter = worker.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Use(metrics.Instrument(routeTemplate))

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.rateLimit)

	api.HandleFunc("/quotes", s.quote).Methods(http.MethodPost)

	api.HandleFunc("/policies", s.createPolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies/{number}/status", s.policyStatus).Methods(http.MethodGet)
	api.HandleFunc("/policies/{number}/contract-hash", s.setContractHash).Methods(http.MethodPut)
	api.HandleFunc("/policies/{id}/beneficiaries", s.listBeneficiaries).Methods(http.MethodGet)
	api.HandleFunc("/policies/{id}/beneficiaries", s.createBeneficiary).Methods(http.MethodPost)
	api.HandleFunc("/policies/{number}", s.getPolicy).Methods(http.MethodGet)
	api.Handle("/policies/{id}", s.admin(s.updatePolicy)).Methods(http.MethodPatch)

	api.HandleFunc("/beneficiaries/{id}", s.updateBeneficiary).Methods(http.MethodPatch)
	api.HandleFunc("/beneficiaries/{id}", s.deleteBeneficiary).Methods(http.MethodDelete)

	// static claim routes must precede {id}
	api.HandleFunc("/claims/upload", s.uploadEvidence).Methods(http.MethodPost)
	api.HandleFunc("/claims/verify", s.verifyEvidence).Methods(http.MethodPost)
	api.HandleFunc("/claims/process", s.processClaim).Methods(http.MethodPost)
	api.HandleFunc("/claims/{id}", s.getClaim).Methods(http.MethodGet)
	api.Handle("/claims/{id}/status", s.admin(s.transitionClaim)).Methods(http.MethodPut)
	api.Handle("/claims/{id}/payout", s.admin(s.payoutClaim)).Methods(http.MethodPost)

	api.HandleFunc("/juno/clabe", s.createClabe).Methods(http.MethodPost)
	api.HandleFunc("/juno/deposits/mock", s.mockDeposit).Methods(http.MethodPost)
	api.HandleFunc("/juno/deposits", s.listDeposits).Methods(http.MethodGet)
	api.HandleFunc("/juno/transactions", s.listTransactions).Methods(http.MethodGet)

	api.Handle("/logs", s.admin(s.queryLogs)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: "method not allowed"})
	})
	return r
}

// Handler exposes the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   s.deps.Clock.Now().UTC(),
	})
}
