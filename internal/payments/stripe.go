package payments

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Processor reserves funds, then either captures or releases them.
type Processor interface {
	Hold(ctx context.Context, amount int64, currency, customerID, paymentMethodID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// StripeClient is a thin wrapper around stripe-go for PaymentIntent hold/capture/cancel flows.
type StripeClient struct{}

func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual. When a payment
// method is supplied the intent is confirmed right away so it can be captured.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID, paymentMethodID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if paymentMethodID != "" {
		params.PaymentMethod = stripe.String(paymentMethodID)
		params.Confirm = stripe.Bool(true)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("purpose", "wallet_topup")
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}

var ErrUnknownIntent = errors.New("unknown payment intent")

// Offline approves every hold. It backs local runs without a Stripe key.
type Offline struct {
	mu    sync.Mutex
	holds map[string]int64
}

func NewOffline() *Offline { return &Offline{holds: make(map[string]int64)} }

func (o *Offline) Hold(_ context.Context, amount int64, _, _, _ string) (string, error) {
	id := "pi_offline_" + uuid.NewString()
	o.mu.Lock()
	o.holds[id] = amount
	o.mu.Unlock()
	return id, nil
}

func (o *Offline) Capture(_ context.Context, id string) error { return o.release(id) }

func (o *Offline) Cancel(_ context.Context, id string) error { return o.release(id) }

func (o *Offline) release(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.holds[id]; !ok {
		return ErrUnknownIntent
	}
	delete(o.holds, id)
	return nil
}
