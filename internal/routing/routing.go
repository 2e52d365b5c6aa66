// Package routing selects the outbound sender identity for a dispatch:
// country-affinity against the org's number pool, falling back to the
// agent's own number.
package routing

import (
	"context"

	"agentgate/internal/database"
	"agentgate/internal/models"
)

// Selector resolves from-numbers against the shared pool.
type Selector struct {
	db *database.Database
}

// NewSelector builds a pool-backed selector.
func NewSelector(db *database.Database) *Selector {
	return &Selector{db: db}
}

// ResolveFrom picks the sending number for a dispatch. Selection order:
// country match (default-first, then oldest), org default, agent's own
// number. An empty result means no sender is selectable.
func (s *Selector) ResolveFrom(ctx context.Context, agentPhone, recipient string, channel models.Channel, orgID string) (string, error) {
	capability := channelCapability(channel)
	if capability == "" {
		// Channels without pool capabilities always use the agent identity.
		return agentPhone, nil
	}

	entries, err := s.db.ListNumberPool(ctx, orgID)
	if err != nil {
		return "", err
	}

	var capable []*models.NumberPoolEntry
	for _, e := range entries {
		if e.HasCapability(capability) {
			capable = append(capable, e)
		}
	}

	country := CountryOf(recipient)

	// Entries arrive default-first then oldest, so the first country match
	// already honors the tiebreak.
	for _, e := range capable {
		if e.CountryCode == country {
			return e.PhoneNumber, nil
		}
	}
	for _, e := range capable {
		if e.IsDefault {
			return e.PhoneNumber, nil
		}
	}
	if agentPhone != "" {
		return agentPhone, nil
	}
	return "", nil
}

func channelCapability(channel models.Channel) string {
	switch channel {
	case models.ChannelSMS:
		return "sms"
	case models.ChannelVoice:
		return "voice"
	default:
		return ""
	}
}
