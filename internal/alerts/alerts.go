// Package alerts grades operational events by severity and routes them:
// LOW hits metrics only, MEDIUM and HIGH additionally reach the audit log,
// CRITICAL also notifies the configured admin out-of-band.
package alerts

import (
	"context"

	"github.com/sirupsen/logrus"

	"agentgate/internal/database"
	"agentgate/internal/metrics"
	"agentgate/internal/models"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Notifier delivers a critical alert over a side channel. The dispatcher
// satisfies this with WhatsApp/email sends to the configured admin.
type Notifier interface {
	NotifyAdmin(ctx context.Context, subject, body string) error
}

// Service routes alerts.
type Service struct {
	db       *database.Database
	metrics  *metrics.Metrics
	notifier Notifier
	logger   *logrus.Logger
}

// NewService builds the alert router. notifier may be nil; critical alerts
// then degrade to metrics + audit + log.
func NewService(db *database.Database, m *metrics.Metrics, notifier Notifier, logger *logrus.Logger) *Service {
	return &Service{db: db, metrics: m, notifier: notifier, logger: logger}
}

// SetNotifier installs the side channel after construction (the dispatcher
// is built later than the alert service).
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Raise records the alert at its severity's routing level. Raise never
// returns an error: alerting must not fail the operation that triggered it.
func (s *Service) Raise(ctx context.Context, severity Severity, event, detail string) {
	s.metrics.Alerts.WithLabelValues(string(severity)).Inc()

	entry := s.logger.WithFields(logrus.Fields{
		"severity": severity,
		"event":    event,
	})
	switch severity {
	case SeverityLow:
		entry.Info(detail)
		return
	case SeverityMedium, SeverityHigh:
		entry.Warn(detail)
	case SeverityCritical:
		entry.Error(detail)
	}

	if err := s.db.AppendAudit(ctx, &models.AuditEntry{
		EventType: "alert_" + string(severity),
		Actor:     "system",
		Target:    event,
		Details:   detail,
	}); err != nil {
		s.logger.WithError(err).Error("failed to audit alert")
	}

	if severity == SeverityCritical && s.notifier != nil {
		if err := s.notifier.NotifyAdmin(ctx, "CRITICAL: "+event, detail); err != nil {
			s.logger.WithError(err).Error("failed to deliver critical alert notification")
		}
	}
}
