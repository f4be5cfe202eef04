package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the part of the Twilio REST API used for SMS.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioOpts holds configuration for the SMS notifier.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	ToNumber   string
}

// TwilioOption configures the SMS notifier.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio Account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio Auth Token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(number string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = number }
}

// WithToNumber sets the sales team phone number.
func WithToNumber(number string) TwilioOption {
	return func(o *TwilioOpts) { o.ToNumber = number }
}

// TwilioNotifier sends notifications as SMS to the sales team.
type TwilioNotifier struct {
	api  messageCreator
	from string
	to   string
}

// NewTwilioNotifier builds an SMS notifier. Unset options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER and SALES_TO_NUMBER.
func NewTwilioNotifier(opts ...TwilioOption) (*TwilioNotifier, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.ToNumber == "" {
		cfg.ToNumber = os.Getenv("SALES_TO_NUMBER")
	}

	slog.Debug("TwilioNotifier config",
		"account_sid_set", cfg.AccountSID != "",
		"auth_token_set", cfg.AuthToken != "",
		"from_number_set", cfg.FromNumber != "",
		"to_number_set", cfg.ToNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" || cfg.ToNumber == "" {
		return nil, fmt.Errorf("twilio notifier requires account SID, auth token, from and to numbers")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioNotifier{api: client.Api, from: cfg.FromNumber, to: cfg.ToNumber}, nil
}

// Notify sends the subject and body as one SMS.
func (t *TwilioNotifier) Notify(ctx context.Context, n Notification) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(t.to)
	params.SetFrom(t.from)
	params.SetBody(n.Subject + "\n" + n.Body)

	if _, err := t.api.CreateMessage(params); err != nil {
		slog.Error("TwilioNotifier Notify failed", "to", t.to, "error", err)
		return fmt.Errorf("failed to send sms to %s: %w", t.to, err)
	}
	slog.Debug("TwilioNotifier sms sent", "to", t.to, "subject", n.Subject)
	return nil
}
