// Package notify tells the scheduling team about shifts that need cover.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"time"
)

const EventShiftOpen = "shift_open"

type Notice struct {
	Event        string    `json:"event"`
	OccurrenceID string    `json:"occurrence_id"`
	EmployeeID   string    `json:"employee_id,omitempty"`
	CallID       string    `json:"call_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier is the notification-scheduler collaborator. Delivery is
// fire-and-forget from the caller's point of view.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is
// configured.
const SignatureHeader = "X-Callvox-Signature"

type Webhook struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhook(url, secret string, client *http.Client) *Webhook {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webhook{url: url, secret: []byte(secret), client: client}
}

func (w *Webhook) Notify(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify %s: %w", n.Event, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify %s: status %d", n.Event, resp.StatusCode)
	}
	return nil
}

func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Log only records notices. Used when no webhook is configured.
type Log struct{}

func (Log) Notify(_ context.Context, n Notice) error {
	log.Info("Notice", "event", n.Event, "occurrence", n.OccurrenceID, "call", n.CallID)
	return nil
}
