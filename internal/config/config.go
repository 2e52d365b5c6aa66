package config

import (
	"os"
	"strconv"
	"strings"
)

// Config is loaded once at startup and treated as immutable afterwards.
type Config struct {
	Env      string
	Port     string
	LogLevel string

	DemoMode       bool
	MasterToken    string
	WebhookBaseURL string

	DBPath     string
	StorageDir string

	// At-rest encryption key for provider secrets: 64 hex chars or a
	// 32-byte-or-longer passphrase.
	CredentialsEncryptionKey string

	TwilioAccountSID    string
	TwilioAuthToken     string
	ResendAPIKey        string
	ResendWebhookSecret string
	ElevenLabsAPIKey    string
	AnthropicAPIKey     string
	LineChannelToken    string
	LineChannelSecret   string

	EmailDefaultDomain   string
	VoiceDefaultGreeting string
	VoiceDefaultVoice    string
	VoiceDefaultLanguage string
	IdentityMode         string
	IsolationMode        string

	AdminIPAllowlist   []string
	IPDenylist         []string
	CORSAllowedOrigins []string
	HTTPRateLimitPerIP int

	AlertWhatsAppTo string
	AlertEmailTo    string

	Tracing TracingConfig
}

// TracingConfig controls the OpenTelemetry pipeline.
type TracingConfig struct {
	Enabled      bool
	UseStdout    bool
	OTLPEndpoint string
	SampleRate   float64
	Environment  string
}

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return "config: " + e.Message
}

// Load reads configuration from the environment and validates it. godotenv
// is applied by main before this runs.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getenv("AGENTGATE_ENV", "development"),
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DemoMode:       getenvBool("DEMO_MODE"),
		MasterToken:    os.Getenv("MASTER_SECURITY_TOKEN"),
		WebhookBaseURL: strings.TrimRight(getenv("WEBHOOK_BASE_URL", "http://localhost:8080"), "/"),

		DBPath:     getenv("DB_PATH", "agentgate.db"),
		StorageDir: getenv("STORAGE_DIR", "storage"),

		CredentialsEncryptionKey: os.Getenv("CREDENTIALS_ENCRYPTION_KEY"),

		TwilioAccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		ResendAPIKey:        os.Getenv("RESEND_API_KEY"),
		ResendWebhookSecret: os.Getenv("RESEND_WEBHOOK_SECRET"),
		ElevenLabsAPIKey:    os.Getenv("ELEVENLABS_API_KEY"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		LineChannelToken:    os.Getenv("LINE_CHANNEL_TOKEN"),
		LineChannelSecret:   os.Getenv("LINE_CHANNEL_SECRET"),

		EmailDefaultDomain:   getenv("EMAIL_DEFAULT_DOMAIN", "agents.example.com"),
		VoiceDefaultGreeting: getenv("VOICE_DEFAULT_GREETING", "Hello, how can I help you today?"),
		VoiceDefaultVoice:    getenv("VOICE_DEFAULT_VOICE", "alloy"),
		VoiceDefaultLanguage: getenv("VOICE_DEFAULT_LANGUAGE", "en-US"),
		IdentityMode:         getenv("IDENTITY_MODE", "dedicated"),
		IsolationMode:        getenv("ISOLATION_MODE", "single-account"),

		AdminIPAllowlist:   splitList(os.Getenv("ADMIN_IP_ALLOWLIST")),
		IPDenylist:         splitList(os.Getenv("IP_DENYLIST")),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		HTTPRateLimitPerIP: getenvInt("HTTP_RATE_LIMIT_PER_IP", 120),

		AlertWhatsAppTo: os.Getenv("ALERT_WHATSAPP_TO"),
		AlertEmailTo:    os.Getenv("ALERT_EMAIL_TO"),

		Tracing: TracingConfig{
			Enabled:      getenvBool("TRACING_ENABLED"),
			UseStdout:    getenvBool("TRACING_STDOUT"),
			OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4318"),
			SampleRate:   getenvFloat("TRACING_SAMPLE_RATE", 0.1),
			Environment:  getenv("AGENTGATE_ENV", "development"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether hardening checks apply.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func validate(c *Config) error {
	if c.DBPath == "" {
		return ConfigError{Message: "database path is required"}
	}
	if c.HTTPRateLimitPerIP < 0 {
		return ConfigError{Message: "HTTP_RATE_LIMIT_PER_IP cannot be negative"}
	}

	if c.DemoMode {
		return nil
	}

	if c.MasterToken == "" {
		return ConfigError{Message: "MASTER_SECURITY_TOKEN is required outside demo mode"}
	}
	if len(c.MasterToken) < 32 {
		return ConfigError{Message: "MASTER_SECURITY_TOKEN must be at least 32 characters"}
	}
	if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" {
		return ConfigError{Message: "TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required outside demo mode"}
	}

	if c.IsProduction() {
		if c.CredentialsEncryptionKey == "" {
			return ConfigError{Message: "CREDENTIALS_ENCRYPTION_KEY is required in production"}
		}
		if len(c.CredentialsEncryptionKey) < 32 {
			return ConfigError{Message: "CREDENTIALS_ENCRYPTION_KEY must be at least 32 bytes"}
		}
		if !strings.HasPrefix(c.WebhookBaseURL, "https://") {
			return ConfigError{Message: "WEBHOOK_BASE_URL must be https in production"}
		}
		if c.LogLevel == "debug" {
			return ConfigError{Message: "debug logging must not be enabled in production"}
		}
	}

	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
