// Package transfer moves a live call somewhere else: to a representative,
// into a hold queue, or off the line.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	tclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// Controller is the call-control collaborator.
type Controller interface {
	Transfer(ctx context.Context, callID, to string) error
	Enqueue(ctx context.Context, callID string) error
	Hangup(ctx context.Context, callID string) error
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"-"`
	// CallerID is shown to the representative; empty keeps the caller's.
	CallerID string `yaml:"caller_id"`
	Queue    string `yaml:"queue"`
	// WaitURL serves the queue's hold music; empty uses Twilio's default.
	WaitURL string `yaml:"wait_url"`
}

// Twilio redirects calls by updating them with inline TwiML.
type Twilio struct {
	cfg  TwilioConfig
	rest *twilio.RestClient
}

// NewTwilio builds the call-control client. Requests go out through client,
// so they share the daemon's proxy and timeout.
func NewTwilio(cfg TwilioConfig, client *http.Client) (*Twilio, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("twilio account sid and auth token are required")
	}
	if cfg.Queue == "" {
		cfg.Queue = "representatives"
	}

	base := &tclient.Client{
		Credentials: tclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  client,
	}
	base.SetAccountSid(cfg.AccountSID)
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{Client: base})
	return &Twilio{cfg: cfg, rest: rest}, nil
}

func (t *Twilio) Transfer(ctx context.Context, callID, to string) error {
	if to == "" {
		return fmt.Errorf("transfer %s: no destination", callID)
	}
	doc, err := twiml.Voice([]twiml.Element{&twiml.VoiceDial{Number: to, CallerId: t.cfg.CallerID}})
	if err != nil {
		return fmt.Errorf("transfer %s: %w", callID, err)
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(doc)
	return t.update(ctx, callID, params)
}

func (t *Twilio) Enqueue(ctx context.Context, callID string) error {
	doc, err := twiml.Voice([]twiml.Element{&twiml.VoiceEnqueue{Name: t.cfg.Queue, WaitUrl: t.cfg.WaitURL}})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", callID, err)
	}
	params := &api.UpdateCallParams{}
	params.SetTwiml(doc)
	return t.update(ctx, callID, params)
}

func (t *Twilio) Hangup(ctx context.Context, callID string) error {
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	return t.update(ctx, callID, params)
}

// update runs the request in the background so ctx bounds how long the
// session waits; the HTTP client timeout bounds the request itself.
func (t *Twilio) update(ctx context.Context, callID string, params *api.UpdateCallParams) error {
	params.SetPathAccountSid(t.cfg.AccountSID)

	done := make(chan error, 1)
	go func() {
		_, err := t.rest.Api.UpdateCall(callID, params)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("update call %s: %w", callID, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("update call %s: %w", callID, ctx.Err())
	}
}
