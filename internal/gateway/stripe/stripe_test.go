package stripe_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/payments/internal/gateway/stripe"
	"github.com/MrJamesThe3rd/payments/internal/money"
	"github.com/MrJamesThe3rd/payments/internal/payment"
)

type recorded struct {
	path   string
	form   url.Values
	idem   string
	auth   string
	method string
}

func newServer(t *testing.T, status int, body string) (*httptest.Server, *recorded) {
	t.Helper()

	rec := &recorded{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		rec.form, err = url.ParseQuery(string(raw))
		assert.NoError(t, err)

		rec.path = r.URL.Path
		rec.idem = r.Header.Get("Idempotency-Key")
		rec.auth = r.Header.Get("Authorization")
		rec.method = r.Method

		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, rec
}

func TestGateway_Authorize(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus payment.Status
		wantExtID  string
		wantTrace  string
	}{
		{
			name:       "RequiresCapture",
			status:     http.StatusOK,
			body:       `{"id":"pi_1","status":"requires_capture"}`,
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "pi_1",
			wantTrace:  `{"id":"pi_1","status":"requires_capture"}`,
		},
		{
			name:       "Processing",
			status:     http.StatusOK,
			body:       `{"id":"pi_2","status":"processing"}`,
			wantStatus: payment.StatusAuthorized,
			wantExtID:  "pi_2",
		},
		{
			name:       "Succeeded",
			status:     http.StatusOK,
			body:       `{"id":"pi_3","status":"succeeded"}`,
			wantStatus: payment.StatusCaptured,
			wantExtID:  "pi_3",
		},
		{
			name:       "Canceled",
			status:     http.StatusOK,
			body:       `{"id":"pi_4","status":"canceled"}`,
			wantStatus: payment.StatusDeclined,
			wantExtID:  "pi_4",
		},
		{
			name:       "RequiresPaymentMethod",
			status:     http.StatusOK,
			body:       `{"id":"pi_5","status":"requires_payment_method"}`,
			wantStatus: payment.StatusFailed,
			wantExtID:  "pi_5",
		},
		{
			name:       "CardError",
			status:     http.StatusPaymentRequired,
			body:       `{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`,
			wantStatus: payment.StatusDeclined,
			wantTrace:  "Your card was declined.",
		},
		{
			name:       "APIError",
			status:     http.StatusInternalServerError,
			body:       `{"error":{"type":"api_error","message":"boom"}}`,
			wantStatus: payment.StatusFailed,
			wantTrace:  "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newServer(t, tt.status, tt.body)
			gw := stripe.New(stripe.Config{SecretKey: "sk_test_123", BaseURL: srv.URL})

			got, err := gw.Authorize(context.Background(), payment.AuthorizeRequest{
				Amount:         money.MustParse("50.00", "USD"),
				Metadata:       map[string]string{"order": "A-1"},
				IdempotencyKey: "key-1",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantExtID, got.ExternalID)
			assert.NotEmpty(t, got.Trace)

			if tt.wantTrace != "" {
				assert.Equal(t, tt.wantTrace, got.Trace)
			}

			assert.Equal(t, http.MethodPost, rec.method)
			assert.Equal(t, "/v1/payment_intents", rec.path)
			assert.Equal(t, "key-1", rec.idem)
			assert.Equal(t, "Bearer sk_test_123", rec.auth)
			assert.Equal(t, "5000", rec.form.Get("amount"))
			assert.Equal(t, "usd", rec.form.Get("currency"))
			assert.Equal(t, "manual", rec.form.Get("capture_method"))
			assert.Equal(t, "A-1", rec.form.Get("metadata[order]"))
			assert.Empty(t, rec.form.Get("confirm"))
		})
	}
}

func TestGateway_AuthorizeWithPaymentMethodConfirms(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, `{"id":"pi_1","status":"requires_capture"}`)
	gw := stripe.New(stripe.Config{SecretKey: "sk_test_123", BaseURL: srv.URL})

	_, err := gw.Authorize(context.Background(), payment.AuthorizeRequest{
		Amount:   money.MustParse("1000", "JPY"),
		Metadata: map[string]string{"payment_method": "pm_card_visa"},
	})
	require.NoError(t, err)

	assert.Equal(t, "1000", rec.form.Get("amount"))
	assert.Equal(t, "pm_card_visa", rec.form.Get("payment_method"))
	assert.Equal(t, "true", rec.form.Get("confirm"))
	assert.Empty(t, rec.form.Get("metadata[payment_method]"))
}

func TestGateway_Capture(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus payment.Status
	}{
		{name: "Succeeded", status: http.StatusOK, body: `{"id":"pi_1","status":"succeeded"}`, wantStatus: payment.StatusCaptured},
		{name: "Processing", status: http.StatusOK, body: `{"id":"pi_1","status":"processing"}`, wantStatus: payment.StatusAuthorized},
		{name: "CardErrorIsFailure", status: http.StatusPaymentRequired, body: `{"error":{"type":"card_error"}}`, wantStatus: payment.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newServer(t, tt.status, tt.body)
			gw := stripe.New(stripe.Config{SecretKey: "sk_test_123", BaseURL: srv.URL})

			got, err := gw.Capture(context.Background(), payment.CaptureRequest{
				ExternalID:     "pi_1",
				Amount:         money.MustParse("12.34", "EUR"),
				IdempotencyKey: "key-1:capture",
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, "pi_1", got.ExternalID)
			assert.Equal(t, "/v1/payment_intents/pi_1/capture", rec.path)
			assert.Equal(t, "1234", rec.form.Get("amount_to_capture"))
			assert.Equal(t, "key-1:capture", rec.idem)
			assert.NotEmpty(t, got.Trace)
		})
	}
}

func TestGateway_Refund(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus payment.Status
	}{
		{name: "Succeeded", status: http.StatusOK, body: `{"id":"re_1","status":"succeeded"}`, wantStatus: payment.StatusRefunded},
		{name: "Pending", status: http.StatusOK, body: `{"id":"re_1","status":"pending"}`, wantStatus: payment.StatusRefunded},
		{name: "Failed", status: http.StatusOK, body: `{"id":"re_1","status":"failed"}`, wantStatus: payment.StatusFailed},
		{name: "InvalidRequest", status: http.StatusBadRequest, body: `{"error":{"type":"invalid_request_error","message":"already refunded"}}`, wantStatus: payment.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := newServer(t, tt.status, tt.body)
			gw := stripe.New(stripe.Config{SecretKey: "sk_test_123", BaseURL: srv.URL})

			got, err := gw.Refund(context.Background(), payment.RefundRequest{ExternalID: "pi_1", IdempotencyKey: "key-1:refund"})
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, "/v1/refunds", rec.path)
			assert.Equal(t, "pi_1", rec.form.Get("payment_intent"))
			assert.Equal(t, "key-1:refund", rec.idem)
		})
	}
}

func TestGateway_MissingKey(t *testing.T) {
	gw := stripe.New(stripe.Config{BaseURL: "http://127.0.0.1:0"})

	_, err := gw.Authorize(context.Background(), payment.AuthorizeRequest{Amount: money.MustParse("1", "USD")})
	assert.ErrorIs(t, err, payment.ErrMisconfigured)
}

func TestGateway_TransportErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	gw := stripe.New(stripe.Config{SecretKey: "sk_test_123", BaseURL: srv.URL})

	got, err := gw.Capture(context.Background(), payment.CaptureRequest{ExternalID: "pi_1", Amount: money.MustParse("1", "USD")})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.NotEmpty(t, got.Trace)
}
