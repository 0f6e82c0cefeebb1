package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrUnavailable     = errors.New("mercadopago api unavailable")
)

// Payment is the resolved payment detail fetched from MercadoPago. All of it
// is untrusted input: amounts are validated before use and metadata falls
// back to payer fields when absent.
type Payment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	DateApproved      *string         `json:"date_approved"`
	ExternalReference string          `json:"external_reference"`
	Metadata          PaymentMetadata `json:"metadata"`
	Payer             Payer           `json:"payer"`
}

// PaymentMetadata carries the donation fields attached when the checkout
// preference was created.
type PaymentMetadata struct {
	Anonymous    bool   `json:"anonymous"`
	DonorName    string `json:"donor_name"`
	DonorEmail   string `json:"donor_email"`
	DonorPhone   string `json:"donor_phone"`
	DonationType string `json:"donation_type"`
}

type Payer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     struct {
		Number string `json:"number"`
	} `json:"phone"`
}

// CredentialsSource supplies OAuth credentials stored through the connect
// flow. A nil source, or a source with no stored row, falls back to the
// env access token.
type CredentialsSource interface {
	GetCredentials(ctx context.Context) (*models.Credentials, error)
}

// Client talks to the MercadoPago REST API. Calls are wrapped in a circuit
// breaker so a degraded upstream does not pile up in-flight webhooks, and
// GetPayment applies a bounded timeout.
type Client struct {
	httpClient     *http.Client
	apiBaseURL     string
	authBaseURL    string
	envAccessToken string
	clientID       string
	clientSecret   string
	timeout        time.Duration
	creds          CredentialsSource
	breaker        *gobreaker.CircuitBreaker
}

func NewClient(apiBaseURL, authBaseURL, accessToken, clientID, clientSecret string, timeout time.Duration, creds CredentialsSource) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mercadopago-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			zap.L().Warn("mercadopago circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		apiBaseURL:     apiBaseURL,
		authBaseURL:    authBaseURL,
		envAccessToken: accessToken,
		clientID:       clientID,
		clientSecret:   clientSecret,
		timeout:        timeout,
		creds:          creds,
		breaker:        breaker,
	}
}

// GetPayment fetches full payment details by the external payment id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payment := &Payment{}
	if err := c.do(ctx, http.MethodGet, c.apiBaseURL+"/v1/payments/"+paymentID, nil, payment, "get_payment"); err != nil {
		return nil, err
	}
	return payment, nil
}

// PreferenceRequest mirrors the checkout preference body MercadoPago
// expects.
type PreferenceRequest struct {
	Items               []PreferenceItem   `json:"items"`
	MarketplaceFee      *decimal.Decimal   `json:"marketplace_fee,omitempty"`
	Payer               *PreferencePayer   `json:"payer,omitempty"`
	Metadata            map[string]any     `json:"metadata,omitempty"`
	BackURLs            PreferenceBackURLs `json:"back_urls"`
	AutoReturn          string             `json:"auto_return,omitempty"`
	NotificationURL     string             `json:"notification_url,omitempty"`
	StatementDescriptor string             `json:"statement_descriptor,omitempty"`
	ExternalReference   string             `json:"external_reference,omitempty"`
}

type PreferenceItem struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	CurrencyID string          `json:"currency_id"`
}

type PreferencePayer struct {
	Name    string `json:"name,omitempty"`
	Surname string `json:"surname,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   *struct {
		Number string `json:"number"`
	} `json:"phone,omitempty"`
}

type PreferenceBackURLs struct {
	Success string `json:"success"`
	Pending string `json:"pending"`
	Failure string `json:"failure"`
}

// Preference is the created checkout preference.
type Preference struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreatePreference creates a checkout preference for a donation.
func (c *Client) CreatePreference(ctx context.Context, req *PreferenceRequest) (*Preference, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pref := &Preference{}
	if err := c.do(ctx, http.MethodPost, c.apiBaseURL+"/checkout/preferences", req, pref, "create_preference"); err != nil {
		return nil, err
	}
	return pref, nil
}

// OAuthTokens is the response of the authorization-code exchange.
type OAuthTokens struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	PublicKey    string      `json:"public_key"`
	UserID       json.Number `json:"user_id"`
	ExpiresIn    int64       `json:"expires_in"`
}

// ExchangeCode swaps an OAuth authorization code for access credentials.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (*OAuthTokens, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "authorization_code",
		"code":          code,
		"redirect_uri":  redirectURI,
	}
	tokens := &OAuthTokens{}
	if err := c.do(ctx, http.MethodPost, c.apiBaseURL+"/oauth/token", body, tokens, "oauth_token"); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, errors.New("oauth exchange returned no access token")
	}
	return tokens, nil
}

// AuthorizationURL builds the marketplace authorization URL for the OAuth
// connect flow.
func (c *Client) AuthorizationURL(state, redirectURI string) string {
	return fmt.Sprintf(
		"%s/authorization?client_id=%s&response_type=code&platform_id=mp&state=%s&redirect_uri=%s",
		c.authBaseURL, c.clientID, state, redirectURI,
	)
}

func (c *Client) accessToken(ctx context.Context) string {
	if c.creds != nil {
		creds, err := c.creds.GetCredentials(ctx)
		if err != nil {
			zap.L().Warn("stored credentials lookup failed, using env token", zap.Error(err))
		} else if creds != nil && creds.AccessToken != "" {
			return creds.AccessToken
		}
	}
	return c.envAccessToken
}

func (c *Client) do(ctx context.Context, method, url string, in, out any, operation string) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (any, error) {
		var reqBody io.Reader
		if in != nil {
			payload, err := json.Marshal(in)
			if err != nil {
				return nil, fmt.Errorf("encode request: %w", err)
			}
			reqBody = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken(ctx))
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrPaymentNotFound
		}
		if resp.StatusCode >= 400 {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("mercadopago api status %d: %s", resp.StatusCode, detail)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})

	result := "success"
	if err != nil {
		result = "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	observability.ObserveResolverCall(operation, result, time.Since(start))
	return err
}
