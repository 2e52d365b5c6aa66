// Package compliance gates outbound traffic: DNC lookup, content screen,
// and the TCPA calling window. Gates run in order and the first failure
// wins.
package compliance

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agentgate/internal/constants"
	"agentgate/internal/database"
	apperrors "agentgate/internal/errors"
	"agentgate/internal/models"
	"agentgate/internal/routing"
)

// Gate evaluates compliance rules for a dispatch.
type Gate struct {
	db     *database.Database
	logger *logrus.Logger

	now func() time.Time
}

// NewGate builds the compliance gate.
func NewGate(db *database.Database, logger *logrus.Logger) *Gate {
	return &Gate{db: db, logger: logger, now: time.Now}
}

// SetClock overrides the gate's time source.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

var threatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:kill|murder|bomb|shoot)\b.{0,40}\byou\b`),
	regexp.MustCompile(`(?i)\byou\b.{0,40}\b(?:will die|are dead)\b`),
	regexp.MustCompile(`(?i)\b(?:kidnap|ransom)\b`),
}

var profanityWords = []string{
	"fuck", "shit", "bitch", "asshole", "cunt",
}

// profanityThreshold is the number of distinct profane words tolerated
// before the content screen denies.
const profanityThreshold = 2

// CheckResult carries non-fatal findings the dispatcher must audit.
type CheckResult struct {
	ConsentWarning string
}

// Check runs every gate for an outbound dispatch. timezone is the
// caller-provided recipient timezone; empty falls back to the carrier
// country's default.
func (g *Gate) Check(ctx context.Context, orgID string, channel models.Channel, to, body, timezone string) (*CheckResult, error) {
	blocked, err := g.db.IsOnDNC(ctx, orgID, to)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if blocked {
		return nil, apperrors.ComplianceDenied("recipient is on the Do Not Contact list")
	}

	if reason := screenContent(body); reason != "" {
		return nil, apperrors.ComplianceDenied(reason)
	}

	if channel == models.ChannelSMS || channel == models.ChannelVoice {
		if err := g.checkTCPAWindow(to, timezone); err != nil {
			return nil, err
		}
	}

	result := &CheckResult{}
	if channel == models.ChannelVoice {
		if country := routing.CountryOf(to); allPartyConsent[country] {
			result.ConsentWarning = "recipient jurisdiction requires all-party recording consent"
			g.logger.WithFields(logrus.Fields{
				"country": country,
				"channel": channel,
			}).Warn("call to all-party consent jurisdiction without verified announcement")
		}
	}
	return result, nil
}

func screenContent(body string) string {
	for _, p := range threatPatterns {
		if p.MatchString(body) {
			return "content matches threat pattern"
		}
	}
	lower := strings.ToLower(body)
	hits := 0
	for _, w := range profanityWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	if hits > profanityThreshold {
		return "content exceeds profanity threshold"
	}
	return ""
}

// checkTCPAWindow enforces the 08:00-21:00 recipient-local calling window.
func (g *Gate) checkTCPAWindow(to, timezone string) error {
	tz := timezone
	if tz == "" {
		tz = countryTimezone(routing.CountryOf(to))
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	hour := g.now().In(loc).Hour()
	if hour < constants.TCPAWindowStartHour || hour >= constants.TCPAWindowEndHour {
		return apperrors.ComplianceDenied("outside permitted contact hours for recipient timezone")
	}
	return nil
}

// allPartyConsent lists jurisdictions where call recording needs every
// party's consent.
var allPartyConsent = map[string]bool{
	"DE": true,
	"CH": true,
	"AU": true,
}

// countryTimezone is the carrier-country default used when the caller
// supplies no recipient timezone.
func countryTimezone(iso string) string {
	switch iso {
	case "US", "CA":
		return "America/New_York"
	case "GB", "IE", "PT":
		return "Europe/London"
	case "IL":
		return "Asia/Jerusalem"
	case "DE", "FR", "IT", "ES", "NL", "BE", "CH", "AT", "PL", "SE", "NO", "DK":
		return "Europe/Berlin"
	case "JP", "KR":
		return "Asia/Tokyo"
	case "CN", "TW", "HK", "SG", "MY", "PH":
		return "Asia/Shanghai"
	case "IN":
		return "Asia/Kolkata"
	case "AU":
		return "Australia/Sydney"
	case "NZ":
		return "Pacific/Auckland"
	case "BR", "AR", "CL":
		return "America/Sao_Paulo"
	case "MX", "CO":
		return "America/Mexico_City"
	case "RU", "TR", "UA":
		return "Europe/Moscow"
	case "AE", "SA":
		return "Asia/Dubai"
	case "EG", "ZA", "NG", "KE":
		return "Africa/Cairo"
	default:
		return "America/New_York"
	}
}
