package alerts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentgate/internal/database"
	"agentgate/internal/metrics"
)

type recordingNotifier struct {
	subjects []string
}

func (r *recordingNotifier) NotifyAdmin(_ context.Context, subject, _ string) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

func setupAlerts(t *testing.T) (*Service, *database.Database, *recordingNotifier) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "alerts.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	notifier := &recordingNotifier{}
	return NewService(db, metrics.New(), notifier, logger), db, notifier
}

func TestLowSeveritySkipsAudit(t *testing.T) {
	svc, db, notifier := setupAlerts(t)
	ctx := context.Background()

	svc.Raise(ctx, SeverityLow, "cache_miss", "replay cache rebuilt")

	entries, err := db.ListAudit(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, notifier.subjects)
}

func TestHighSeverityAudits(t *testing.T) {
	svc, db, notifier := setupAlerts(t)
	ctx := context.Background()

	svc.Raise(ctx, SeverityHigh, "signature_failures", "repeated invalid webhook signatures")

	entries, err := db.ListAudit(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alert_HIGH", entries[0].EventType)
	assert.Empty(t, notifier.subjects)
}

func TestCriticalSeverityNotifies(t *testing.T) {
	svc, db, notifier := setupAlerts(t)
	ctx := context.Background()

	svc.Raise(ctx, SeverityCritical, "provider_down", "telephony provider unreachable")

	entries, err := db.ListAudit(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, notifier.subjects, 1)
	assert.Contains(t, notifier.subjects[0], "provider_down")
}
