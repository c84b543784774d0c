package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/campusride/internal/models"
)

// WebhookSink posts offer events to a push provider endpoint. Token, when set,
// is sent as a bearer credential.
type WebhookSink struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewWebhookSink(endpoint, token string) *WebhookSink {
	return &WebhookSink{Endpoint: endpoint, Token: token, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Event   models.OfferEventType `json:"event"`
	EventID string                `json:"eventId"`
	Seats   int                   `json:"seats,omitempty"`
	Offer   models.RideOffer      `json:"offer"`
	At      time.Time             `json:"at"`
}

func (w *WebhookSink) Handle(ctx context.Context, ev models.OfferEvent) error {
	b, err := json.Marshal(webhookPayload{Event: ev.Type, EventID: ev.ID, Seats: ev.Seats, Offer: ev.Offer, At: ev.At})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", w.Endpoint, resp.StatusCode)
	}
	return nil
}
