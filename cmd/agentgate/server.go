package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"agentgate/internal/account"
	"agentgate/internal/auth"
	"agentgate/internal/config"
	"agentgate/internal/constants"
	"agentgate/internal/database"
	"agentgate/internal/deadletter"
	"agentgate/internal/dispatch"
	"agentgate/internal/metrics"
	"agentgate/internal/middleware"
	"agentgate/internal/otp"
	"agentgate/internal/provision"
	"agentgate/internal/ratelimit"
	"agentgate/internal/replay"
	"agentgate/internal/session"
	"agentgate/internal/tools"
	"agentgate/pkg/emailapi"
	"agentgate/pkg/lineapi"
	"agentgate/pkg/storage"
	"agentgate/pkg/twilio"
)

// Server owns the router and every wired service.
type Server struct {
	cfg    *config.Config
	router *mux.Router
	logger *logrus.Logger
	server *http.Server

	db          *database.Database
	authSvc     *auth.Service
	dispatcher  *dispatch.Dispatcher
	provisioner *provision.Service
	drain       *deadletter.Service
	otpSvc      *otp.Service
	accounts    *account.Service
	registry    *tools.Registry
	sessions    *session.Registry
	store       *storage.Store
	metrics     *metrics.Metrics
	limiter     *ratelimit.Limiter
	replay      *replay.Cache
	ipLimiter   *ipRateLimiter

	telephony twilio.Client
	email     emailapi.Client
	line      lineapi.Client

	streams *streamHub
}

// Deps bundles everything main wires before handing over to the server.
type Deps struct {
	DB          *database.Database
	Auth        *auth.Service
	Dispatcher  *dispatch.Dispatcher
	Provisioner *provision.Service
	Drain       *deadletter.Service
	OTP         *otp.Service
	Accounts    *account.Service
	Registry    *tools.Registry
	Sessions    *session.Registry
	Store       *storage.Store
	Metrics     *metrics.Metrics
	Limiter     *ratelimit.Limiter
	Telephony   twilio.Client
	Email       emailapi.Client
	Line        lineapi.Client
}

// NewServer builds the router over the wired services.
func NewServer(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		router:      mux.NewRouter(),
		logger:      logger,
		db:          deps.DB,
		authSvc:     deps.Auth,
		dispatcher:  deps.Dispatcher,
		provisioner: deps.Provisioner,
		drain:       deps.Drain,
		otpSvc:      deps.OTP,
		accounts:    deps.Accounts,
		registry:    deps.Registry,
		sessions:    deps.Sessions,
		store:       deps.Store,
		metrics:     deps.Metrics,
		limiter:     deps.Limiter,
		replay:      replay.NewCache(constants.ReplayCacheSize, constants.ReplayCacheAge),
		ipLimiter:   newIPRateLimiter(cfg.HTTPRateLimitPerIP, constants.HTTPRateLimitWindow),
		telephony:   deps.Telephony,
		email:       deps.Email,
		line:        deps.Line,
		streams:     newStreamHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recover(s.logger))
	s.router.Use(middleware.Observability(s.logger))
	s.router.Use(s.securityHeaders)
	s.router.Use(s.ipFilter)
	s.router.Use(s.perIPRateLimit)

	// Ops surface.
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.handleReady()).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/storage/{key}", s.handleStorage()).Methods(http.MethodGet)

	// Carrier ingress.
	webhooks := s.router.PathPrefix("/webhooks/{agentId}").Subrouter()
	webhooks.HandleFunc("/sms", s.handleTwilioMessage(false)).Methods(http.MethodPost)
	webhooks.HandleFunc("/whatsapp", s.handleTwilioMessage(true)).Methods(http.MethodPost)
	webhooks.HandleFunc("/voice", s.handleTwilioVoice()).Methods(http.MethodPost)
	webhooks.HandleFunc("/status", s.handleTwilioStatus()).Methods(http.MethodPost)
	webhooks.HandleFunc("/email", s.handleEmailWebhook()).Methods(http.MethodPost)
	webhooks.HandleFunc("/line", s.handleLineWebhook()).Methods(http.MethodPost)
	webhooks.HandleFunc("/outbound-voice", s.handleOutboundVoice()).Methods(http.MethodPost, http.MethodGet)
	webhooks.HandleFunc("/play", s.handlePlay()).Methods(http.MethodPost, http.MethodGet)

	// Authenticated REST mirror of the tool operations.
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.requirePrincipal)
	api.HandleFunc("/send-message", s.handleSendMessage()).Methods(http.MethodPost)
	api.HandleFunc("/make-call", s.handleMakeCall()).Methods(http.MethodPost)
	api.HandleFunc("/transfer-call", s.handleTransferCall()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handleWaitingMessages()).Methods(http.MethodGet)
	api.HandleFunc("/provision", s.handleProvision()).Methods(http.MethodPost)
	api.HandleFunc("/deprovision", s.handleDeprovision()).Methods(http.MethodPost)
	api.HandleFunc("/usage", s.handleUsage()).Methods(http.MethodGet)
	api.HandleFunc("/billing", s.handleBilling()).Methods(http.MethodGet)
	api.HandleFunc("/otp/send", s.handleOTPSend()).Methods(http.MethodPost)
	api.HandleFunc("/otp/verify", s.handleOTPVerify()).Methods(http.MethodPost)
	api.HandleFunc("/erasure", s.handleErasure()).Methods(http.MethodPost)
	api.HandleFunc("/audit/verify", s.handleAuditVerify()).Methods(http.MethodGet)
	api.HandleFunc("/operations", s.handleOperations()).Methods(http.MethodGet)

	// Account surface: register/login are anonymous, approval is not.
	s.router.HandleFunc("/api/v1/users/register", s.handleRegister()).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/users/login", s.handleLogin()).Methods(http.MethodPost)
	api.HandleFunc("/users/approve", s.handleApprove()).Methods(http.MethodPost)

	// Tool-call transport.
	s.router.HandleFunc("/stream", s.handleStream()).Methods(http.MethodGet)
	s.router.HandleFunc("/sse", s.handleSSE()).Methods(http.MethodGet)
	s.router.HandleFunc("/messages", s.handleStreamMessage()).Methods(http.MethodPost)
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultIdleTimeoutSec * time.Second,
	}
	s.logger.WithField("port", s.cfg.Port).Info("server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
