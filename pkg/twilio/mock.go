package twilio

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agentgate/internal/constants"
)

// MockClient is the demo-mode telephony provider. It fabricates SIDs,
// records every call for assertions, and can be told to fail specific
// operations.
type MockClient struct {
	mu sync.Mutex

	SentSMS       []MockSend
	SentWhatsApp  []MockSend
	Calls         []MockSend
	Transfers     []MockTransfer
	Bought        []PurchasedNumber
	Released      []string
	Configured    []string
	SignatureOK   bool

	FailSendSMS           bool
	FailBuyNumber         bool
	FailMakeCall          bool
	FailTransfer          bool
	FailConfigureWebhooks bool
}

// MockSend records one outbound message or call.
type MockSend struct {
	From, To, Body string
}

// MockTransfer records one call redirect.
type MockTransfer struct {
	CallSID, To string
}

// NewMockClient builds a mock that accepts all signatures.
func NewMockClient() *MockClient {
	return &MockClient{SignatureOK: true}
}

func (m *MockClient) SendSMS(_ context.Context, from, to, body, _ string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSendSMS {
		return nil, fmt.Errorf("mock sms failure")
	}
	m.SentSMS = append(m.SentSMS, MockSend{From: from, To: to, Body: body})
	return &SendResult{
		ExternalID: "SM" + uuid.NewString(),
		Status:     "queued",
		Cost:       constants.CostSMS,
	}, nil
}

func (m *MockClient) SendWhatsApp(_ context.Context, from, to, body, _ string, _ map[string]string, _ string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentWhatsApp = append(m.SentWhatsApp, MockSend{From: from, To: to, Body: body})
	return &SendResult{
		ExternalID: "WA" + uuid.NewString(),
		Status:     "queued",
		Cost:       constants.CostWhatsApp,
	}, nil
}

func (m *MockClient) MakeCall(_ context.Context, from, to, _ string) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailMakeCall {
		return nil, fmt.Errorf("mock call failure")
	}
	m.Calls = append(m.Calls, MockSend{From: from, To: to})
	return &SendResult{
		ExternalID: "CA" + uuid.NewString(),
		Status:     "queued",
		Cost:       constants.CostCall,
	}, nil
}

func (m *MockClient) TransferCall(_ context.Context, callSID, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTransfer {
		return fmt.Errorf("mock transfer failure")
	}
	m.Transfers = append(m.Transfers, MockTransfer{CallSID: callSID, To: to})
	return nil
}

func (m *MockClient) BuyNumber(_ context.Context, country string, _, _ bool) (*PurchasedNumber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailBuyNumber {
		return nil, fmt.Errorf("mock purchase failure")
	}
	n := PurchasedNumber{
		PhoneNumber: mockNumberFor(country, len(m.Bought)),
		SID:         "PN" + uuid.NewString(),
	}
	m.Bought = append(m.Bought, n)
	return &n, nil
}

func (m *MockClient) ReleaseNumber(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Released = append(m.Released, sid)
	return nil
}

func (m *MockClient) ConfigureWebhooks(_ context.Context, sid, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailConfigureWebhooks {
		return fmt.Errorf("mock webhook configuration failure")
	}
	m.Configured = append(m.Configured, sid)
	return nil
}

func (m *MockClient) ValidateSignature(_ string, _ map[string]string, _ string) bool {
	return m.SignatureOK
}

func mockNumberFor(country string, n int) string {
	switch country {
	case "GB":
		return fmt.Sprintf("+44207183%04d", 8000+n)
	case "IL":
		return fmt.Sprintf("+9724376%04d", 1000+n)
	default:
		return fmt.Sprintf("+1415555%04d", 1000+n)
	}
}
