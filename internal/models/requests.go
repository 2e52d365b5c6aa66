package models

// SendRequest is the neutral outbound-send input accepted by the dispatcher
// for every channel.
type SendRequest struct {
	AgentID      string            `json:"agent_id"`
	Channel      Channel           `json:"channel"`
	To           string            `json:"to"`
	Body         string            `json:"body"`
	Subject      string            `json:"subject,omitempty"`
	HTML         string            `json:"html,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
	MediaURL     string            `json:"media_url,omitempty"`
	Timezone     string            `json:"timezone,omitempty"`
}

// SendResponse is the dispatcher's success result.
type SendResponse struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	From       string `json:"from"`
	To         string `json:"to"`
	Status     string `json:"status"`
	Cost       float64 `json:"cost,omitempty"`
}

// CallRequest starts an AI voice call or a synthesized voice message.
type CallRequest struct {
	AgentID      string `json:"agent_id"`
	To           string `json:"to"`
	Message      string `json:"message,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
	Voice        string `json:"voice,omitempty"`
	Language     string `json:"language,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// TransferRequest moves an in-progress call to a phone number or another
// agent.
type TransferRequest struct {
	AgentID string `json:"agent_id"`
	CallSID string `json:"call_sid"`
	To      string `json:"to"`
}

// InboundMessage is the neutral shape every carrier payload is parsed into
// and the exact body POSTed to the agent callback.
type InboundMessage struct {
	Channel    Channel `json:"channel"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Body       string  `json:"body"`
	MediaURL   string  `json:"media_url,omitempty"`
	ExternalID string  `json:"external_id,omitempty"`
}

// ProvisionRequest describes the identities to allocate for a new agent.
type ProvisionRequest struct {
	AgentID      string               `json:"agent_id"`
	DisplayName  string               `json:"display_name"`
	Country      string               `json:"country,omitempty"`
	CallbackURL  string               `json:"callback_url,omitempty"`
	SystemPrompt string               `json:"system_prompt,omitempty"`
	Greeting     string               `json:"greeting,omitempty"`
	Capabilities ProvisionCapabilities `json:"capabilities"`
}

// ProvisionCapabilities selects which identities the agent gets.
type ProvisionCapabilities struct {
	Phone    bool `json:"phone"`
	WhatsApp bool `json:"whatsapp"`
	Email    bool `json:"email"`
	VoiceAI  bool `json:"voice_ai"`
}

// ProvisionResult is returned only on full success; the plaintext token is
// never persisted or shown again.
type ProvisionResult struct {
	AgentID            string            `json:"agent_id"`
	Token              string            `json:"token"`
	Channels           map[string]string `json:"channels"`
	PoolSlotsRemaining int               `json:"pool_slots_remaining"`
}
