package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"agentgate/internal/account"
	"agentgate/internal/alerts"
	"agentgate/internal/auth"
	"agentgate/internal/compliance"
	"agentgate/internal/config"
	"agentgate/internal/constants"
	"agentgate/internal/database"
	"agentgate/internal/deadletter"
	"agentgate/internal/dispatch"
	"agentgate/internal/metrics"
	"agentgate/internal/otp"
	"agentgate/internal/provision"
	"agentgate/internal/ratelimit"
	"agentgate/internal/retry"
	"agentgate/internal/routing"
	"agentgate/internal/session"
	"agentgate/internal/tools"
	"agentgate/internal/tracing"
	"agentgate/pkg/emailapi"
	"agentgate/pkg/lineapi"
	"agentgate/pkg/storage"
	"agentgate/pkg/tts"
	"agentgate/pkg/twilio"
)

// version is set via -ldflags at build time.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentgate %s\n", version)
		return
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err == nil {
		logger.Info("loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if *verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer := tracing.NewManager(cfg.Tracing, logger)
	if err := tracer.Initialize(ctx, version); err != nil {
		logger.WithError(err).Fatal("failed to initialize tracing")
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	var db *database.Database
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		var openErr error
		db, openErr = database.New(cfg.DBPath, cfg.CredentialsEncryptionKey)
		return openErr
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	store, err := storage.NewStore(cfg.StorageDir, cfg.WebhookBaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage")
	}

	var (
		telephony  twilio.Client
		emailer    emailapi.Client
		liner      lineapi.Client
		synthesize tts.Client
	)
	if cfg.DemoMode {
		logger.Warn("demo mode: all providers are mocked, no real traffic leaves this process")
		telephony = twilio.NewMockClient()
		emailer = emailapi.NewMockClient()
		liner = lineapi.NewMockClient()
		synthesize = tts.NewMockClient()
	} else {
		telephony = twilio.NewLiveClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		emailer = emailapi.NewHTTPClient(cfg.ResendAPIKey, cfg.ResendWebhookSecret)
		liner = lineapi.NewHTTPClient(cfg.LineChannelToken, cfg.LineChannelSecret)
		synthesize = tts.NewHTTPClient(cfg.ElevenLabsAPIKey)
	}

	m := metrics.New()
	authSvc := auth.NewService(db, cfg.MasterToken, cfg.DemoMode, logger)
	gate := compliance.NewGate(db, logger)
	limiter := ratelimit.NewLimiter(db)
	selector := routing.NewSelector(db)
	sessions := session.NewRegistry(constants.VoiceSessionTTL)
	alertSvc := alerts.NewService(db, m, nil, logger)

	dispatcher := dispatch.New(db, gate, limiter, selector, sessions, m, alertSvc,
		dispatch.Providers{
			Telephony: telephony,
			Email:     emailer,
			Line:      liner,
			TTS:       synthesize,
			Storage:   store,
		},
		dispatch.Options{
			WebhookBaseURL:  cfg.WebhookBaseURL,
			EmailDomain:     cfg.EmailDefaultDomain,
			DefaultGreeting: cfg.VoiceDefaultGreeting,
			DefaultVoice:    cfg.VoiceDefaultVoice,
			DefaultLanguage: cfg.VoiceDefaultLanguage,
			AlertWhatsAppTo: cfg.AlertWhatsAppTo,
			AlertEmailTo:    cfg.AlertEmailTo,
			AlertFrom:       "alerts@" + cfg.EmailDefaultDomain,
		}, logger)
	alertSvc.SetNotifier(dispatcher)

	provisioner := provision.NewService(db, telephony, cfg.WebhookBaseURL, cfg.EmailDefaultDomain, m, logger)
	drain := deadletter.NewService(db)
	registry := tools.NewRegistry(dispatcher, provisioner, drain, limiter, db)
	otpSvc := otp.NewService(db, dispatcher, logger)
	accounts := account.NewService(db, logger)

	if n, err := db.CountActiveAgents(ctx); err == nil {
		m.ActiveAgents.Set(float64(n))
	}

	server := NewServer(cfg, Deps{
		DB:          db,
		Auth:        authSvc,
		Dispatcher:  dispatcher,
		Provisioner: provisioner,
		Drain:       drain,
		OTP:         otpSvc,
		Accounts:    accounts,
		Registry:    registry,
		Sessions:    sessions,
		Store:       store,
		Metrics:     m,
		Limiter:     limiter,
		Telephony:   telephony,
		Email:       emailer,
		Line:        liner,
	}, logger)

	serverErr := make(chan error, constants.ServerErrorChannelSize)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.WithError(err).Fatal("server failed")
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownSec*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
	logger.Info("server stopped")
}
