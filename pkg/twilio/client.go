// Package twilio adapts the telephony provider behind a narrow interface so
// the dispatcher and provisioning saga never touch the SDK directly. A mock
// implementation backs demo mode and tests.
package twilio

import "context"

// SendResult is the provider's answer to a message or call creation.
type SendResult struct {
	ExternalID string
	Status     string
	Cost       float64
}

// PurchasedNumber identifies a number bought from the provider; SID is
// needed to configure and later release it.
type PurchasedNumber struct {
	PhoneNumber string
	SID         string
}

// Client is the telephony surface the gateway depends on.
type Client interface {
	SendSMS(ctx context.Context, from, to, body, mediaURL string) (*SendResult, error)
	SendWhatsApp(ctx context.Context, from, to, body, templateID string, templateVars map[string]string, mediaURL string) (*SendResult, error)
	MakeCall(ctx context.Context, from, to, webhookURL string) (*SendResult, error)
	TransferCall(ctx context.Context, callSID, to string) error
	BuyNumber(ctx context.Context, country string, smsEnabled, voiceEnabled bool) (*PurchasedNumber, error)
	ReleaseNumber(ctx context.Context, sid string) error
	ConfigureWebhooks(ctx context.Context, sid, smsURL, voiceURL string) error
	ValidateSignature(url string, params map[string]string, signature string) bool
}
