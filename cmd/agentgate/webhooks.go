package main

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"agentgate/internal/constants"
	"agentgate/internal/dispatch"
	"agentgate/internal/httputil"
	"agentgate/internal/models"
)

const (
	twilioSignatureHeader = "X-Twilio-Signature"
	lineSignatureHeader   = "X-Line-Signature"
	emailSignatureHeader  = "X-Webhook-Signature"
)

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = fmt.Fprintf(w, "<?xml version=\"1.0\" encoding=\"UTF-8\"?><Response>%s</Response>", body)
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// verifyTwilioRequest parses the form and checks the provider signature over
// the full public URL and the posted params.
func (s *Server) verifyTwilioRequest(r *http.Request) (map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		return nil, false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	fullURL := s.cfg.WebhookBaseURL + r.URL.RequestURI()
	if !s.telephony.ValidateSignature(fullURL, params, r.Header.Get(twilioSignatureHeader)) {
		return nil, false
	}
	return params, true
}

// handleTwilioMessage ingests inbound SMS and WhatsApp. The carrier is
// answered before the agent callback is ever attempted.
func (s *Server) handleTwilioMessage(whatsapp bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := s.verifyTwilioRequest(r)
		if !ok {
			s.metrics.WebhookReject.WithLabelValues("invalid_signature").Inc()
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		if s.replay.Seen(params["MessageSid"]) {
			s.metrics.WebhookReject.WithLabelValues("replay").Inc()
			writeTwiML(w, "")
			return
		}

		channel := models.ChannelSMS
		from, to := params["From"], params["To"]
		if whatsapp {
			channel = models.ChannelWhatsApp
			from = strings.TrimPrefix(from, "whatsapp:")
			to = strings.TrimPrefix(to, "whatsapp:")
		}

		outcome, err := s.dispatcher.HandleInbound(r.Context(), &models.InboundMessage{
			Channel:    channel,
			From:       from,
			To:         to,
			Body:       params["Body"],
			MediaURL:   params["MediaUrl0"],
			ExternalID: params["MessageSid"],
		})
		if err != nil {
			s.logger.WithError(err).Error("inbound message handling failed")
			http.Error(w, "", http.StatusInternalServerError)
			return
		}
		if outcome == dispatch.InboundUnknown {
			http.Error(w, "unknown recipient", http.StatusNotFound)
			return
		}
		writeTwiML(w, "")
	}
}

// handleTwilioVoice answers an inbound call with the agent's greeting and
// notifies the agent's callback that a call arrived.
func (s *Server) handleTwilioVoice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := s.verifyTwilioRequest(r)
		if !ok {
			s.metrics.WebhookReject.WithLabelValues("invalid_signature").Inc()
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		if s.replay.Seen(params["CallSid"]) {
			s.metrics.WebhookReject.WithLabelValues("replay").Inc()
			writeTwiML(w, "")
			return
		}

		agent, err := s.db.FindAgentByIdentity(r.Context(), models.ChannelVoice, params["To"])
		if err != nil {
			s.logger.WithError(err).Error("inbound call lookup failed")
			http.Error(w, "", http.StatusInternalServerError)
			return
		}
		if agent == nil {
			s.metrics.WebhookReject.WithLabelValues("unknown_recipient").Inc()
			http.Error(w, "unknown recipient", http.StatusNotFound)
			return
		}
		if agent.Status != models.AgentActive || agent.ChannelBlocked(models.ChannelVoice) {
			writeTwiML(w, "<Reject/>")
			return
		}

		if err := s.db.InsertCallLog(r.Context(), &models.CallLog{
			ID:          uuid.NewString(),
			AgentID:     agent.AgentID,
			CallSID:     params["CallSid"],
			Direction:   models.DirectionInbound,
			FromAddress: params["From"],
			ToAddress:   params["To"],
			Status:      models.CallInProgress,
			OrgID:       agent.OrgID,
		}); err != nil {
			s.logger.WithError(err).Error("failed to record inbound call")
		}

		if _, err := s.dispatcher.HandleInbound(r.Context(), &models.InboundMessage{
			Channel:    models.ChannelVoice,
			From:       params["From"],
			To:         params["To"],
			ExternalID: params["CallSid"],
		}); err != nil {
			s.logger.WithError(err).Error("inbound call notification failed")
		}

		greeting := agent.Greeting
		if greeting == "" {
			greeting = s.cfg.VoiceDefaultGreeting
		}
		writeTwiML(w, "<Say>"+xmlEscape(greeting)+"</Say>")
	}
}

// handleTwilioStatus records call lifecycle transitions.
func (s *Server) handleTwilioStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, ok := s.verifyTwilioRequest(r)
		if !ok {
			s.metrics.WebhookReject.WithLabelValues("invalid_signature").Inc()
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		duration, _ := strconv.Atoi(params["CallDuration"])
		if sid, status := params["CallSid"], params["CallStatus"]; sid != "" && status != "" {
			if err := s.db.UpdateCallStatus(r.Context(), sid, status, duration); err != nil {
				s.logger.WithError(err).Error("failed to update call status")
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEmailWebhook ingests inbound email from the email provider.
func (s *Server) handleEmailWebhook() http.HandlerFunc {
	type inboundEmail struct {
		Type string `json:"type"`
		Data struct {
			EmailID string   `json:"email_id"`
			From    string   `json:"from"`
			To      []string `json:"to"`
			Subject string   `json:"subject"`
			Text    string   `json:"text"`
		} `json:"data"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxRequestBytes))
		if err != nil {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
		if !s.email.VerifySignature(body, r.Header.Get(emailSignatureHeader)) {
			s.metrics.WebhookReject.WithLabelValues("invalid_signature").Inc()
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload inboundEmail
		if err := json.Unmarshal(body, &payload); err != nil || len(payload.Data.To) == 0 {
			s.metrics.WebhookReject.WithLabelValues("malformed_payload").Inc()
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}
		if payload.Data.EmailID != "" && s.replay.Seen(payload.Data.EmailID) {
			s.metrics.WebhookReject.WithLabelValues("replay").Inc()
			httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}

		outcome, err := s.dispatcher.HandleInbound(r.Context(), &models.InboundMessage{
			Channel:    models.ChannelEmail,
			From:       payload.Data.From,
			To:         payload.Data.To[0],
			Body:       payload.Data.Text,
			ExternalID: payload.Data.EmailID,
		})
		if err != nil {
			s.logger.WithError(err).Error("inbound email handling failed")
			http.Error(w, "", http.StatusInternalServerError)
			return
		}
		if outcome == dispatch.InboundUnknown {
			http.Error(w, "unknown recipient", http.StatusNotFound)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleLineWebhook ingests LINE message events. LINE addresses the bot
// channel, not a number, so the path agent id is the recipient identity.
func (s *Server) handleLineWebhook() http.HandlerFunc {
	type lineEvent struct {
		Type    string `json:"type"`
		Message struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"message"`
		Source struct {
			UserID string `json:"userId"`
		} `json:"source"`
	}
	type lineWebhook struct {
		Events []lineEvent `json:"events"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agentId"]
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxRequestBytes))
		if err != nil {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
		if !s.line.VerifySignature(body, r.Header.Get(lineSignatureHeader)) {
			s.metrics.WebhookReject.WithLabelValues("invalid_signature").Inc()
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload lineWebhook
		if err := json.Unmarshal(body, &payload); err != nil {
			s.metrics.WebhookReject.WithLabelValues("malformed_payload").Inc()
			http.Error(w, "malformed payload", http.StatusBadRequest)
			return
		}

		for _, ev := range payload.Events {
			if ev.Type != "message" || ev.Message.Type != "text" {
				continue
			}
			if ev.Message.ID != "" && s.replay.Seen(ev.Message.ID) {
				s.metrics.WebhookReject.WithLabelValues("replay").Inc()
				continue
			}
			if _, err := s.dispatcher.HandleInbound(r.Context(), &models.InboundMessage{
				Channel:    models.ChannelLine,
				From:       ev.Source.UserID,
				To:         agentID,
				Body:       ev.Message.Text,
				ExternalID: ev.Message.ID,
			}); err != nil {
				s.logger.WithError(err).Error("inbound line event handling failed")
			}
		}
		// LINE retries on anything but 200.
		w.WriteHeader(http.StatusOK)
	}
}

// handleOutboundVoice is the pickup webhook for AI voice calls: the carrier
// fetches TwiML here when the callee answers.
func (s *Server) handleOutboundVoice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.sessions.Get(r.URL.Query().Get("session"))
		if sess == nil {
			writeTwiML(w, "<Say>This call session has expired. Goodbye.</Say><Hangup/>")
			return
		}
		greeting := sess.Greeting
		if greeting == "" {
			greeting = s.cfg.VoiceDefaultGreeting
		}
		writeTwiML(w, "<Say>"+xmlEscape(greeting)+"</Say>")
	}
}

// handlePlay speaks a pre-synthesized message: the carrier fetches TwiML
// pointing at the stored audio artifact.
func (s *Server) handlePlay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audio := r.URL.Query().Get("audio")
		if audio == "" {
			writeTwiML(w, "<Hangup/>")
			return
		}
		writeTwiML(w, "<Play>"+xmlEscape(audio)+"</Play>")
	}
}
