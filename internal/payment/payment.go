// Package payment creates hosted checkout sessions for tour bookings and
// verifies the webhook the payment provider calls once a checkout completes.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// EventCheckoutCompleted is the webhook event turned into a booking.
const EventCheckoutCompleted = "checkout.session.completed"

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Stripe-Signature"

// InvalidEventError rejects a webhook request. Its message is the provider
// library's reason and can be returned to the caller.
type InvalidEventError struct {
	Err error
}

func (e *InvalidEventError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the reason to errors.Is.
func (e *InvalidEventError) Unwrap() error {
	return e.Err
}

// CheckoutParams describe the tour being paid for.
type CheckoutParams struct {
	TourID        string
	TourName      string
	TourSummary   string
	ImageURL      string
	Price         float64
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Session is a created checkout session.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CompletedCheckout is the booking data carried by a completed checkout.
type CompletedCheckout struct {
	TourID        string
	CustomerEmail string
	Amount        float64
}

// Stripe talks to the Stripe API.
type Stripe struct {
	api           *client.API
	webhookSecret string
	currency      string
}

// Option customizes the client.
type Option func(*stripe.BackendConfig)

// WithBackendURL sends API calls to url instead of the Stripe API.
func WithBackendURL(url string) Option {
	return func(cfg *stripe.BackendConfig) {
		cfg.URL = stripe.String(url)
	}
}

// NewStripe returns a client using secretKey for API calls and
// webhookSecret for webhook verification.
func NewStripe(secretKey, webhookSecret, currency string, options ...Option) *Stripe {
	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}
	for _, option := range options {
		option(backendConfig)
	}

	api := client.New(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	return &Stripe{
		api:           api,
		webhookSecret: webhookSecret,
		currency:      currency,
	}
}

// CreateCheckoutSession opens a one item card checkout for the tour.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*Session, error) {
	productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name:        stripe.String(params.TourName + " Tour"),
		Description: stripe.String(params.TourSummary),
	}
	if params.ImageURL != "" {
		productData.Images = stripe.StringSlice([]string{params.ImageURL})
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(params.SuccessURL),
		CancelURL:          stripe.String(params.CancelURL),
		CustomerEmail:      stripe.String(params.CustomerEmail),
		ClientReferenceID:  stripe.String(params.TourID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:    stripe.String(s.currency),
					UnitAmount:  stripe.Int64(int64(math.Round(params.Price * 100))),
					ProductData: productData,
				},
			},
		},
	}
	sessionParams.Context = ctx

	created, err := s.api.CheckoutSessions.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("in internal/payment/payment.go/CreateCheckoutSession(): error while `s.api.CheckoutSessions.New()` calling: %w", err)
	}

	return &Session{ID: created.ID, URL: created.URL}, nil
}

// ParseCompletedCheckout verifies the signature of a webhook payload. The
// second result is false for events other than a completed checkout.
func (s *Stripe) ParseCompletedCheckout(payload []byte, signature string) (*CompletedCheckout, bool, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, false, &InvalidEventError{Err: err}
	}

	if string(event.Type) != EventCheckoutCompleted {
		return nil, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, false, &InvalidEventError{Err: errors.New("checkout session is malformed")}
	}

	email := session.CustomerEmail
	if email == "" && session.CustomerDetails != nil {
		email = session.CustomerDetails.Email
	}

	return &CompletedCheckout{
		TourID:        session.ClientReferenceID,
		CustomerEmail: email,
		Amount:        float64(session.AmountTotal) / 100,
	}, true, nil
}
