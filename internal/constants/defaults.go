package constants

import "time"

// HTTP server defaults.
const (
	DefaultPort            = "8080"
	DefaultReadTimeoutSec  = 15
	DefaultWriteTimeoutSec = 15
	DefaultIdleTimeoutSec  = 60
	GracefulShutdownSec    = 10
	ServerErrorChannelSize = 1
)

// Provider call deadlines (spec: webhooks answered within 5 s, callback
// forwarding never on that path).
const (
	SendTimeout          = 10 * time.Second
	VoiceInitiateTimeout = 30 * time.Second
	SignatureTimeout     = 5 * time.Second
	CallbackTimeout      = 10 * time.Second
)

// Database defaults.
const (
	DatabaseRetryAttempts = 5
	InitialBackoffMs      = 100
	MaxBackoffMs          = 5000
)

// Auth.
const (
	TokenBytes              = 32
	MaxTokenChecksPerMinute = 30
	AccountLockThreshold    = 5
	AccountLockDuration     = 15 * time.Minute
	MinPasswordLength       = 12
)

// OTP.
const (
	OTPLength      = 6
	OTPTTL         = 5 * time.Minute
	OTPMaxAttempts = 5
)

// Replay cache bounds.
const (
	ReplayCacheSize = 10000
	ReplayCacheAge  = 10 * time.Minute
)

// Voice sessions.
const (
	VoiceSessionTTL = 10 * time.Minute
)

// TCPA calling window, recipient local time.
const (
	TCPAWindowStartHour = 8
	TCPAWindowEndHour   = 21
)

// System-wide rate and spend defaults, applied when neither a per-agent
// override nor a billing tier supplies a value.
const (
	DefaultMaxActionsPerMinute = 10
	DefaultMaxActionsPerHour   = 100
	DefaultMaxActionsPerDay    = 500
	DefaultMaxSpendPerDay      = 10.0
	DefaultMaxSpendPerMonth    = 100.0
)

// Mock provider unit costs (USD), matching typical carrier pricing.
const (
	CostSMS      = 0.0079
	CostWhatsApp = 0.005
	CostEmail    = 0.0001
	CostCall     = 0.014
	CostTTSChar  = 0.00003
)

// Sanitizer bounds.
const (
	MaxBodyLength    = 4096
	MaxSubjectLength = 255
	MaxFieldLength   = 1024
	MaxRequestBytes  = 1 << 20
)

// Dead-letter drain.
const (
	DefaultWaitingMessageLimit = 10
	MaxWaitingMessageLimit     = 100
)

// Per-IP HTTP rate limiting.
const (
	DefaultHTTPRateLimitPerIP = 120
	HTTPRateLimitWindow       = time.Minute
)
