package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

// sign produces a signature header in the format the provider sends.
func sign(payload []byte, secret string, at time.Time) string {
	timestamp := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestCreateCheckoutSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "payment", r.Form.Get("mode"))
		assert.Equal(t, "5c88fa8cf4afda39709c2955", r.Form.Get("client_reference_id"))
		assert.Equal(t, "jonas@example.com", r.Form.Get("customer_email"))
		assert.Equal(t, "49700", r.Form.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "usd", r.Form.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "The Forest Hiker Tour", r.Form.Get("line_items[0][price_data][product_data][name]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer server.Close()

	gateway := NewStripe("sk_test_key", testWebhookSecret, "", WithBackendURL(server.URL))

	session, err := gateway.CreateCheckoutSession(context.Background(), CheckoutParams{
		TourID:        "5c88fa8cf4afda39709c2955",
		TourName:      "The Forest Hiker",
		TourSummary:   "Breathtaking hike through the Canadian Banff National Park",
		Price:         497,
		CustomerEmail: "jonas@example.com",
		SuccessURL:    "http://localhost/my-tours",
		CancelURL:     "http://localhost/tour/the-forest-hiker",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", session.URL)
}

func TestParseCompletedCheckout(t *testing.T) {
	gateway := NewStripe("sk_test_key", testWebhookSecret, "usd")
	completed := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"client_reference_id": "5c88fa8cf4afda39709c2955",
			"customer_email": "jonas@example.com",
			"amount_total": 49700
		}}
	}`)

	type tTestCase struct {
		name      string
		payload   []byte
		signature string
		wantOK    bool
		wantErr   bool
	}
	testCases := []tTestCase{
		{
			name:      "a signed completed checkout",
			payload:   completed,
			signature: sign(completed, testWebhookSecret, time.Now()),
			wantOK:    true,
		},
		{
			name:      "a bad signature",
			payload:   completed,
			signature: sign(completed, "whsec_other", time.Now()),
			wantErr:   true,
		},
		{
			name:      "a stale signature",
			payload:   completed,
			signature: sign(completed, testWebhookSecret, time.Now().Add(-time.Hour)),
			wantErr:   true,
		},
		{
			name:      "another event",
			payload:   []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{}}}`),
			signature: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			signature := tc.signature
			if signature == "" {
				signature = sign(tc.payload, testWebhookSecret, time.Now())
			}

			checkout, ok, err := gateway.ParseCompletedCheckout(tc.payload, signature)
			if tc.wantErr {
				var invalid *InvalidEventError
				require.ErrorAs(t, err, &invalid)
				assert.NotContains(t, err.Error(), "internal/")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantOK, ok)
			if !tc.wantOK {
				assert.Nil(t, checkout)
				return
			}

			assert.Equal(t, "5c88fa8cf4afda39709c2955", checkout.TourID)
			assert.Equal(t, "jonas@example.com", checkout.CustomerEmail)
			assert.Equal(t, 497.0, checkout.Amount)
		})
	}
}
