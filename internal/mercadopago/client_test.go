package mercadopago

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type staticCreds struct {
	creds *models.Credentials
}

func (s *staticCreds) GetCredentials(ctx context.Context) (*models.Credentials, error) {
	return s.creds, nil
}

func newTestClient(baseURL string, creds CredentialsSource) *Client {
	return NewClient(baseURL, baseURL, "env-token", "client-id", "client-secret", 2*time.Second, creds)
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/123", r.URL.Path)
		require.Equal(t, "Bearer env-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 123,
			"status": "approved",
			"transaction_amount": 5000,
			"metadata": {"donor_email": "a@b.com", "donation_type": "once"},
			"payer": {"first_name": "Ana", "last_name": "Lopez", "email": "a@b.com"}
		}`))
	}))
	defer srv.Close()

	payment, err := newTestClient(srv.URL, nil).GetPayment(context.Background(), "123")
	require.NoError(t, err)
	require.Equal(t, "approved", payment.Status)
	require.True(t, payment.TransactionAmount.Equal(decimal.NewFromInt(5000)))
	require.Equal(t, "a@b.com", payment.Metadata.DonorEmail)
}

func TestGetPaymentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, nil).GetPayment(context.Background(), "999")
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestStoredCredentialsPreferredOverEnvToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer stored-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id": 123, "status": "approved"}`))
	}))
	defer srv.Close()

	creds := &staticCreds{creds: &models.Credentials{AccessToken: "stored-token"}}
	_, err := newTestClient(srv.URL, creds).GetPayment(context.Background(), "123")
	require.NoError(t, err)
}

func TestCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL, nil)
	for i := 0; i < 10; i++ {
		_, err := client.GetPayment(context.Background(), "123")
		require.Error(t, err)
	}

	// The breaker is open now; calls fail fast as unavailable.
	_, err := client.GetPayment(context.Background(), "123")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"access_token": "APP_USR-new", "refresh_token": "r", "user_id": 42, "expires_in": 21600}`))
	}))
	defer srv.Close()

	tokens, err := newTestClient(srv.URL, nil).ExchangeCode(context.Background(), "code", "https://example.org/callback")
	require.NoError(t, err)
	require.Equal(t, "APP_USR-new", tokens.AccessToken)
	require.Equal(t, "42", tokens.UserID.String())
}

func TestAuthorizationURL(t *testing.T) {
	client := newTestClient("https://api.example", nil)
	url := client.AuthorizationURL("state-1", "https://example.org/callback")
	require.Contains(t, url, "client_id=client-id")
	require.Contains(t, url, "state=state-1")
}
