// Package mockservices provides testify-based mocks of the outbound services
// the HTTP handlers depend on: the mailer, the payment gateway, the image
// store and the storage health check.
package mockservices

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/toursapi/internal/imagestore"
	"github.com/patric-chuzhbe/toursapi/internal/models"
	"github.com/patric-chuzhbe/toursapi/internal/payment"
)

// MailerMock records the emails the handlers ask for.
type MailerMock struct {
	mock.Mock
}

// SendWelcome mocks the welcome email.
func (m *MailerMock) SendWelcome(ctx context.Context, to *models.User, url string) error {
	args := m.Called(ctx, to, url)
	return args.Error(0)
}

// SendPasswordReset mocks the password reset email.
func (m *MailerMock) SendPasswordReset(ctx context.Context, to *models.User, url string) error {
	args := m.Called(ctx, to, url)
	return args.Error(0)
}

// GatewayMock simulates the payment provider.
type GatewayMock struct {
	mock.Mock
}

// CreateCheckoutSession mocks opening a checkout.
func (m *GatewayMock) CreateCheckoutSession(ctx context.Context, params payment.CheckoutParams) (*payment.Session, error) {
	args := m.Called(ctx, params)
	session, _ := args.Get(0).(*payment.Session)
	return session, args.Error(1)
}

// ParseCompletedCheckout mocks webhook verification.
func (m *GatewayMock) ParseCompletedCheckout(payload []byte, signature string) (*payment.CompletedCheckout, bool, error) {
	args := m.Called(payload, signature)
	checkout, _ := args.Get(0).(*payment.CompletedCheckout)
	return checkout, args.Bool(1), args.Error(2)
}

// ImageStoreMock simulates the image backend.
type ImageStoreMock struct {
	mock.Mock

	// OnSave, when set, answers Save instead of the recorded expectations.
	OnSave func(ctx context.Context, upload imagestore.Upload) (string, error)
}

// Save mocks storing an image.
func (m *ImageStoreMock) Save(ctx context.Context, upload imagestore.Upload) (string, error) {
	if m.OnSave != nil {
		return m.OnSave(ctx, upload)
	}
	args := m.Called(ctx, upload)
	return args.String(0), args.Error(1)
}

// PingerMock simulates the storage health check.
type PingerMock struct {
	mock.Mock
}

// Ping mocks the pinger interface to simulate a health check.
func (m *PingerMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
