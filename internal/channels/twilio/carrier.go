// Package twilio sends SMS through the Twilio REST API and validates
// inbound webhook signatures.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smsrelay/internal/app/relay"
	relayerrors "smsrelay/internal/errors"
	"smsrelay/internal/logging"

	twilio "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Config holds Twilio credentials and send options.
type Config struct {
	AccountSID        string
	AuthToken         string
	StatusCallbackURL string
	Retry             relayerrors.RetryConfig
	Breaker           relayerrors.CircuitBreakerConfig
}

// messageCreator is the slice of the Twilio API the carrier uses.
type messageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// Carrier implements relay.Carrier over twilio-go.
type Carrier struct {
	api            messageCreator
	statusCallback string
	retry          relayerrors.RetryConfig
	breaker        *relayerrors.CircuitBreaker
	logger         logging.Logger
}

// New builds a carrier from credentials.
func New(cfg Config) (*Carrier, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("twilio: account sid and auth token are required")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newCarrier(rest.Api, cfg), nil
}

func newCarrier(api messageCreator, cfg Config) *Carrier {
	retry := cfg.Retry
	if retry == (relayerrors.RetryConfig{}) {
		retry = relayerrors.DefaultRetryConfig()
	}
	breakerCfg := cfg.Breaker
	if breakerCfg == (relayerrors.CircuitBreakerConfig{}) {
		breakerCfg = relayerrors.DefaultCircuitBreakerConfig()
	}
	return &Carrier{
		api:            api,
		statusCallback: strings.TrimSpace(cfg.StatusCallbackURL),
		retry:          retry,
		breaker:        relayerrors.NewCircuitBreaker("twilio", breakerCfg),
		logger:         logging.NewComponentLogger("TwilioCarrier"),
	}
}

// Send creates an outbound message. Transient API failures are retried.
func (c *Carrier) Send(ctx context.Context, to, body, from string) (relay.SendResult, error) {
	if strings.TrimSpace(from) == "" {
		return relay.SendResult{}, errors.New("twilio: sender number is required")
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(body)
	if c.statusCallback != "" {
		params.SetStatusCallback(c.statusCallback)
	}

	return relayerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (relay.SendResult, error) {
		if err := ctx.Err(); err != nil {
			return relay.SendResult{}, err
		}
		if err := c.breaker.Allow(); err != nil {
			return relay.SendResult{}, err
		}
		msg, err := c.api.CreateMessage(params)
		err = classify(err)
		c.breaker.Mark(breakerOutcome(err))
		if err != nil {
			c.logger.Warn("Twilio send to %s failed: %v", to, err)
			return relay.SendResult{}, err
		}
		result := relay.SendResult{}
		if msg != nil {
			if msg.Sid != nil {
				result.MessageID = *msg.Sid
			}
			if msg.Status != nil {
				result.Status = *msg.Status
			}
		}
		c.logger.Info("Twilio accepted %s to %s (%s)", result.MessageID, to, result.Status)
		return result, nil
	})
}

// classify maps Twilio REST errors onto transient and permanent failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var restErr *twilioclient.TwilioRestError
	if errors.As(err, &restErr) {
		detail := fmt.Sprintf("twilio error %d: %s", restErr.Code, restErr.Message)
		if classified := relayerrors.FromHTTPStatus(restErr.Status, detail); classified != nil {
			return classified
		}
		return &relayerrors.PermanentError{Err: errors.New(detail)}
	}
	return err
}

// breakerOutcome counts only transient failures against the breaker.
func breakerOutcome(err error) error {
	if relayerrors.IsTransient(err) {
		return err
	}
	return nil
}

var _ relay.Carrier = (*Carrier)(nil)
