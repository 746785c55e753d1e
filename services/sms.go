package services

import (
	"context"
	"fmt"

	twilio "github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioMessenger sends the consent-gated follow-up text after a call ends.
type TwilioMessenger struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioMessenger creates a messenger sending from the given number.
func NewTwilioMessenger(accountSID, authToken, from string) *TwilioMessenger {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioMessenger{client: client, from: from}
}

// SendText delivers one SMS to the caller.
func (m *TwilioMessenger) SendText(ctx context.Context, to, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(m.from)
	params.SetBody(body)

	if _, err := m.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("sending SMS to %s: %w", to, err)
	}
	return nil
}
