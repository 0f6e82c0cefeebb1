package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundaciontea/donations-api/internal/mercadopago"
	"github.com/fundaciontea/donations-api/internal/models"
	"go.uber.org/zap"
)

var (
	ErrInvalidState = errors.New("invalid or expired oauth state")
	ErrMissingCode  = errors.New("authorization code is required")
)

// CredentialsStore persists MercadoPago OAuth credentials.
type CredentialsStore interface {
	GetCredentials(ctx context.Context) (*models.Credentials, error)
	SaveCredentials(ctx context.Context, creds *models.Credentials) error
}

// TokenExchanger performs the marketplace OAuth handshake.
type TokenExchanger interface {
	AuthorizationURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*mercadopago.OAuthTokens, error)
}

// StateStore issues and consumes single-use OAuth states.
type StateStore interface {
	Generate(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) (bool, error)
}

// ConnectService links the foundation's MercadoPago account through the
// marketplace OAuth flow. States are single-use and Redis-backed, so a
// callback can only match an authorize request this deployment issued.
type ConnectService struct {
	store     CredentialsStore
	exchanger TokenExchanger
	states    StateStore
	appURL    string
}

func NewConnectService(store CredentialsStore, exchanger TokenExchanger, states StateStore, appURL string) *ConnectService {
	return &ConnectService{
		store:     store,
		exchanger: exchanger,
		states:    states,
		appURL:    appURL,
	}
}

func (s *ConnectService) redirectURI() string {
	return s.appURL + "/v1/mercadopago/callback"
}

// AuthorizeURL issues a fresh state and returns the MercadoPago
// authorization URL to redirect the admin to.
func (s *ConnectService) AuthorizeURL(ctx context.Context) (string, error) {
	state, err := s.states.Generate(ctx)
	if err != nil {
		return "", fmt.Errorf("issue oauth state: %w", err)
	}
	return s.exchanger.AuthorizationURL(state, s.redirectURI()), nil
}

// Connect completes the OAuth callback: it consumes the state, exchanges the
// authorization code, and stores the resulting credentials.
func (s *ConnectService) Connect(ctx context.Context, code, state string) (*models.Credentials, error) {
	if code == "" {
		return nil, ErrMissingCode
	}
	ok, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("verify oauth state: %w", err)
	}
	if !ok {
		return nil, ErrInvalidState
	}

	tokens, err := s.exchanger.ExchangeCode(ctx, code, s.redirectURI())
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	creds := &models.Credentials{AccessToken: tokens.AccessToken}
	if tokens.RefreshToken != "" {
		creds.RefreshToken = &tokens.RefreshToken
	}
	if tokens.PublicKey != "" {
		creds.PublicKey = &tokens.PublicKey
	}
	if userID := tokens.UserID.String(); userID != "" {
		creds.MPUserID = &userID
	}
	if tokens.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		creds.ExpiresAt = &expiresAt
	}

	if err := s.store.SaveCredentials(ctx, creds); err != nil {
		return nil, fmt.Errorf("store credentials: %w", err)
	}

	zap.L().Info("mercadopago account connected",
		zap.Stringp("mp_user_id", creds.MPUserID))
	return creds, nil
}

// ConnectionStatus summarizes the stored credentials without exposing
// tokens.
type ConnectionStatus struct {
	Connected bool       `json:"connected"`
	MPUserID  *string    `json:"mp_user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Status reports whether an account is connected and when its tokens expire.
func (s *ConnectService) Status(ctx context.Context) (*ConnectionStatus, error) {
	creds, err := s.store.GetCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return &ConnectionStatus{Connected: false}, nil
	}
	return &ConnectionStatus{
		Connected: true,
		MPUserID:  creds.MPUserID,
		ExpiresAt: creds.ExpiresAt,
		UpdatedAt: &creds.UpdatedAt,
	}, nil
}
