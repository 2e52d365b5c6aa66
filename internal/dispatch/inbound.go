package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agentgate/internal/constants"
	"agentgate/internal/models"
	"agentgate/internal/retry"
)

// InboundOutcome tells the webhook handler how to answer the carrier.
type InboundOutcome int

const (
	// InboundUnknown means no agent owns the "to" identity; 404.
	InboundUnknown InboundOutcome = iota
	// InboundIgnored means the agent exists but is inactive or blocks the
	// channel; the carrier still gets its minimal success response.
	InboundIgnored
	// InboundAccepted means the message was taken and the callback forward
	// scheduled.
	InboundAccepted
)

// HandleInbound resolves the owning agent and schedules the callback
// forward. It returns before the callback is attempted: the carrier
// response must never wait on the agent.
func (d *Dispatcher) HandleInbound(ctx context.Context, msg *models.InboundMessage) (InboundOutcome, error) {
	agent, err := d.db.FindAgentByIdentity(ctx, msg.Channel, msg.To)
	if err != nil {
		return InboundUnknown, err
	}
	if agent == nil {
		d.metrics.WebhookReject.WithLabelValues("unknown_recipient").Inc()
		return InboundUnknown, nil
	}
	if agent.Status != models.AgentActive || agent.ChannelBlocked(msg.Channel) {
		return InboundIgnored, nil
	}

	d.metrics.MessagesRecv.WithLabelValues(string(msg.Channel)).Inc()

	// Fire-and-log. The background context outlives the webhook request.
	go d.forwardToCallback(context.WithoutCancel(ctx), agent, msg)

	return InboundAccepted, nil
}

// forwardToCallback POSTs the neutral shape to the agent's callback URL.
// Any failure dead-letters the full payload with reason agent_offline.
func (d *Dispatcher) forwardToCallback(ctx context.Context, agent *models.Agent, msg *models.InboundMessage) {
	if agent.CallbackURL == "" {
		d.deadLetterInbound(ctx, agent, msg, fmt.Errorf("agent has no callback URL"))
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.WithError(err).Error("failed to encode inbound payload")
		return
	}

	client := &http.Client{Timeout: constants.CallbackTimeout}
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, agent.CallbackURL, bytes.NewReader(payload))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("callback returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"agent_id": agent.AgentID,
			"channel":  msg.Channel,
		}).WithError(err).Warn("agent callback unreachable, dead-lettering")
		d.deadLetterInbound(ctx, agent, msg, err)
	}
}

func (d *Dispatcher) deadLetterInbound(ctx context.Context, agent *models.Agent, msg *models.InboundMessage, cause error) {
	original, _ := json.Marshal(msg)
	d.enqueueDeadLetter(ctx, &models.DeadLetter{
		ID:              uuid.NewString(),
		AgentID:         agent.AgentID,
		OrgID:           agent.OrgID,
		Channel:         string(msg.Channel),
		Direction:       models.DirectionInbound,
		Reason:          "agent_offline",
		FromAddress:     msg.From,
		ToAddress:       msg.To,
		Body:            msg.Body,
		MediaURL:        msg.MediaURL,
		OriginalRequest: string(original),
		ErrorDetails:    cause.Error(),
		ExternalID:      msg.ExternalID,
	})
}
