package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"agentgate/internal/constants"
)

// LiveClient talks to the real Twilio REST API.
type LiveClient struct {
	rest      *twilio.RestClient
	validator twilioclient.RequestValidator
}

// NewLiveClient builds a client from account credentials.
func NewLiveClient(accountSID, authToken string) *LiveClient {
	return &LiveClient{
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		validator: twilioclient.NewRequestValidator(authToken),
	}
}

func (c *LiveClient) SendSMS(ctx context.Context, from, to, body, mediaURL string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &api.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	msg, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return nil, fmt.Errorf("twilio sms send failed: %w", err)
	}
	return messageResult(msg, constants.CostSMS), nil
}

func (c *LiveClient) SendWhatsApp(ctx context.Context, from, to, body, templateID string, templateVars map[string]string, mediaURL string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &api.CreateMessageParams{}
	params.SetFrom(whatsappPrefix(from))
	params.SetTo(whatsappPrefix(to))
	if templateID != "" {
		params.SetContentSid(templateID)
		if len(templateVars) > 0 {
			vars, err := json.Marshal(templateVars)
			if err != nil {
				return nil, fmt.Errorf("failed to encode template variables: %w", err)
			}
			params.SetContentVariables(string(vars))
		}
	} else {
		params.SetBody(body)
	}
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	msg, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return nil, fmt.Errorf("twilio whatsapp send failed: %w", err)
	}
	return messageResult(msg, constants.CostWhatsApp), nil
}

func (c *LiveClient) MakeCall(ctx context.Context, from, to, webhookURL string) (*SendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &api.CreateCallParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetUrl(webhookURL)
	params.SetMethod("POST")

	call, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return nil, fmt.Errorf("twilio call creation failed: %w", err)
	}
	result := &SendResult{Cost: constants.CostCall}
	if call.Sid != nil {
		result.ExternalID = *call.Sid
	}
	if call.Status != nil {
		result.Status = *call.Status
	}
	return result, nil
}

func (c *LiveClient) TransferCall(ctx context.Context, callSID, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(fmt.Sprintf("<Response><Dial>%s</Dial></Response>", to))

	if _, err := c.rest.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("twilio call transfer failed: %w", err)
	}
	return nil
}

func (c *LiveClient) BuyNumber(ctx context.Context, country string, smsEnabled, voiceEnabled bool) (*PurchasedNumber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	searchParams := &api.ListAvailablePhoneNumberLocalParams{}
	searchParams.SetSmsEnabled(smsEnabled)
	searchParams.SetVoiceEnabled(voiceEnabled)
	searchParams.SetLimit(1)

	available, err := c.rest.Api.ListAvailablePhoneNumberLocal(country, searchParams)
	if err != nil {
		return nil, fmt.Errorf("twilio number search failed: %w", err)
	}
	if len(available) == 0 || available[0].PhoneNumber == nil {
		return nil, fmt.Errorf("no numbers available in %s", country)
	}

	buyParams := &api.CreateIncomingPhoneNumberParams{}
	buyParams.SetPhoneNumber(*available[0].PhoneNumber)

	bought, err := c.rest.Api.CreateIncomingPhoneNumber(buyParams)
	if err != nil {
		return nil, fmt.Errorf("twilio number purchase failed: %w", err)
	}
	purchased := &PurchasedNumber{}
	if bought.PhoneNumber != nil {
		purchased.PhoneNumber = *bought.PhoneNumber
	}
	if bought.Sid != nil {
		purchased.SID = *bought.Sid
	}
	return purchased, nil
}

func (c *LiveClient) ReleaseNumber(ctx context.Context, sid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.rest.Api.DeleteIncomingPhoneNumber(sid, &api.DeleteIncomingPhoneNumberParams{}); err != nil {
		return fmt.Errorf("twilio number release failed: %w", err)
	}
	return nil
}

func (c *LiveClient) ConfigureWebhooks(ctx context.Context, sid, smsURL, voiceURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &api.UpdateIncomingPhoneNumberParams{}
	params.SetSmsUrl(smsURL)
	params.SetSmsMethod("POST")
	params.SetVoiceUrl(voiceURL)
	params.SetVoiceMethod("POST")

	if _, err := c.rest.Api.UpdateIncomingPhoneNumber(sid, params); err != nil {
		return fmt.Errorf("twilio webhook configuration failed: %w", err)
	}
	return nil
}

func (c *LiveClient) ValidateSignature(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}

func messageResult(msg *api.ApiV2010Message, fallbackCost float64) *SendResult {
	result := &SendResult{Cost: fallbackCost}
	if msg.Sid != nil {
		result.ExternalID = *msg.Sid
	}
	if msg.Status != nil {
		result.Status = *msg.Status
	}
	if msg.Price != nil {
		if price, err := strconv.ParseFloat(strings.TrimPrefix(*msg.Price, "-"), 64); err == nil {
			result.Cost = price
		}
	}
	return result
}

func whatsappPrefix(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
