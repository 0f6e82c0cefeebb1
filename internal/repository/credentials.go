package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetCredentials returns the stored MercadoPago OAuth credentials, or nil
// when the account has never been connected.
func (r *Repository) GetCredentials(ctx context.Context) (*models.Credentials, error) {
	query := `
		SELECT id, access_token, refresh_token, mp_user_id, public_key, expires_at, updated_at
		FROM mp_credentials
		ORDER BY updated_at DESC
		LIMIT 1
	`
	creds := &models.Credentials{}
	err := r.db.QueryRow(ctx, query).Scan(
		&creds.ID, &creds.AccessToken, &creds.RefreshToken,
		&creds.MPUserID, &creds.PublicKey, &creds.ExpiresAt, &creds.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	return creds, nil
}

// SaveCredentials replaces the stored credentials with the given set.
func (r *Repository) SaveCredentials(ctx context.Context, creds *models.Credentials) error {
	if creds.ID == uuid.Nil {
		creds.ID = uuid.New()
	}
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mp_credentials`); err != nil {
			return fmt.Errorf("failed to clear credentials: %w", err)
		}
		query := `
			INSERT INTO mp_credentials (id, access_token, refresh_token, mp_user_id, public_key, expires_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			RETURNING updated_at
		`
		err := tx.QueryRow(ctx, query,
			creds.ID, creds.AccessToken, creds.RefreshToken,
			creds.MPUserID, creds.PublicKey, creds.ExpiresAt,
		).Scan(&creds.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		return nil
	})
}
