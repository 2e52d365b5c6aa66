package models

import (
	"time"
)

// Channel identifies a message transport.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
	ChannelVoice    Channel = "voice"
	ChannelLine     Channel = "line"
)

// AllChannels lists every supported transport.
var AllChannels = []Channel{ChannelSMS, ChannelWhatsApp, ChannelEmail, ChannelVoice, ChannelLine}

// IsValidChannel reports whether s names a supported transport.
func IsValidChannel(s string) bool {
	for _, c := range AllChannels {
		if string(c) == s {
			return true
		}
	}
	return false
}

// Scope is an authorization capability attached to a principal.
type Scope string

const (
	ScopeAgent      Scope = "agent"
	ScopeAdmin      Scope = "admin"
	ScopeSuperAdmin Scope = "super_admin"
)

// Principal is the authenticated subject of a request.
type Principal struct {
	OrgID   string
	AgentID string
	Scopes  []Scope
}

// HasScope reports whether the principal carries the given scope.
func (p *Principal) HasScope(s Scope) bool {
	for _, have := range p.Scopes {
		if have == s {
			return true
		}
	}
	return false
}

// IsAdmin reports admin or super_admin scope.
func (p *Principal) IsAdmin() bool {
	return p.HasScope(ScopeAdmin) || p.HasScope(ScopeSuperAdmin)
}

/// Organization is the tenant: the unit of data isolation.
type Organization struct {
	ID        string
	Name      string
	Slug      string
	Settings  string
	CreatedAt time.Time
}

// UserAccount statuses.
const (
	AccountPendingReview = "pending_review"
	AccountApproved      = "approved"
)

// UserAccount is a human login bound to an organization.
type UserAccount struct {
	ID             string
	Email          string
	PasswordHash   string
	OrgID          string
	Verified       bool
	LockedUntil    *time.Time
	FailedAttempts int
	AccountStatus  string
	CreatedAt      time.Time
}

// Agent statuses.
const (
	AgentActive        = "active"
	AgentDeprovisioned = "deprovisioned"
)

// Agent is a logical sender owning provisioned identities across channels.
type Agent struct {
	AgentID           string
	DisplayName       string
	PhoneNumber       string
	WhatsAppSenderSID string
	WhatsAppStatus    string
	EmailAddress      string
	VoiceID           string
	SystemPrompt      string
	Greeting          string
	CallbackURL       string
	BlockedChannels   []string
	Status            string
	OrgID             string
	CreatedAt         time.Time
}

// ChannelBlocked reports whether the agent blocks the channel, honoring the
// "*" wildcard.
func (a *Agent) ChannelBlocked(ch Channel) bool {
	for _, b := range a.BlockedChannels {
		if b == "*" || b == string(ch) {
			return true
		}
	}
	return false
}

// AgentPool is the singleton capacity row.
type AgentPool struct {
	MaxAgents    int
	ActiveAgents int
}

// WhatsApp pool entry statuses.
const (
	PoolAvailable = "available"
	PoolAssigned  = "assigned"
)

// WhatsAppPoolEntry is a shared WhatsApp sender weakly referenced by at most
// one agent.
type WhatsAppPoolEntry struct {
	PhoneNumber     string
	SenderSID       string
	Status          string
	AssignedToAgent string
}

// NumberPoolEntry is a shared outbound phone identity.
type NumberPoolEntry struct {
	PhoneNumber  string
	CountryCode  string
	Capabilities []string
	IsDefault    bool
	OrgID        string
	CreatedAt    time.Time
}

// HasCapability reports whether the entry supports the channel.
func (n *NumberPoolEntry) HasCapability(cap string) bool {
	for _, c := range n.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AgentToken is a persisted (hashed) bearer credential.
type AgentToken struct {
	TokenHash  string
	AgentID    string
	Label      string
	CreatedAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// OrgToken is an org-scoped admin bearer credential.
type OrgToken struct {
	TokenHash  string
	OrgID      string
	Label      string
	CreatedAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// UsageLog is an immutable record of one billable action.
type UsageLog struct {
	ID            int64
	AgentID       string
	ActionType    string
	Channel       string
	TargetAddress string
	Cost          float64
	ExternalID    string
	CreatedAt     time.Time
	OrgID         string
}

// AuditEntry is one row of the tamper-evident chain.
type AuditEntry struct {
	ID        int64
	Timestamp string
	EventType string
	Actor     string
	Target    string
	Details   string
	PrevHash  string
	RowHash   string
	OrgID     string
}

// Dead letter statuses and directions.
const (
	DeadLetterPending      = "pending"
	DeadLetterAcknowledged = "acknowledged"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// DeadLetter materializes a failed delivery for later drain.
type DeadLetter struct {
	ID              string
	AgentID         string
	OrgID           string
	Channel         string
	Direction       string
	Reason          string
	FromAddress     string
	ToAddress       string
	Body            string
	MediaURL        string
	OriginalRequest string
	ErrorDetails    string
	ExternalID      string
	Status          string
	CreatedAt       time.Time
	AcknowledgedAt  *time.Time
}

// SpendingLimits are per-agent overrides; zero values mean "use defaults".
type SpendingLimits struct {
	AgentID             string
	MaxActionsPerMinute int
	MaxActionsPerHour   int
	MaxActionsPerDay    int
	MaxSpendPerDay      float64
	MaxSpendPerMonth    float64
}

// Billing tiers.
const (
	TierFree       = "free"
	TierStarter    = "starter"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// BillingConfig carries the per-agent commercial settings.
type BillingConfig struct {
	AgentID       string
	Tier          string
	MarkupPercent float64
	BillingEmail  string
}

// Call statuses.
const (
	CallPending    = "pending"
	CallRinging    = "ringing"
	CallInProgress = "in-progress"
	CallCompleted  = "completed"
	CallFailed     = "failed"
)

// CallLog records one voice call's lifecycle.
type CallLog struct {
	ID              string
	AgentID         string
	CallSID         string
	Direction       string
	FromAddress     string
	ToAddress       string
	Status          string
	DurationSeconds int
	TransferTo      string
	EndedAt         *time.Time
	OrgID           string
	CreatedAt       time.Time
}

// ErasureRequest tracks a GDPR-style cascade delete by subject identifier.
type ErasureRequest struct {
	ID                string
	SubjectIdentifier string
	IdentifierType    string
	Status            string
	TablesAffected    string
	RowsDeleted       int
	CompletedAt       *time.Time
	CreatedAt         time.Time
}

// DNCEntry blocks outbound traffic to an address.
type DNCEntry struct {
	ID           int64
	PhoneNumber  string
	EmailAddress string
	Reason       string
	AddedBy      string
	AddedAt      time.Time
	OrgID        string
}

// OTPCode is a short-lived verification code (hash only).
type OTPCode struct {
	ID             int64
	ContactAddress string
	CodeHash       string
	ExpiresAt      time.Time
	Attempts       int
	Purpose        string
	CreatedAt      time.Time
}

// Expired reports whether the code's window has passed.
func (o *OTPCode) Expired() bool {
	return time.Now().After(o.ExpiresAt)
}

// VoiceSession holds in-flight call configuration between the initiating
// request and the provider's outbound webhook.
type VoiceSession struct {
	SessionID    string
	AgentID      string
	SystemPrompt string
	Greeting     string
	Voice        string
	Language     string
	ExpiresAt    time.Time
}
