package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const donationColumns = `id, amount, anonymous, donor_name, donor_email, phone, frequency, payment_id, user_id, created_at`

func scanDonation(row pgx.Row) (*models.Donation, error) {
	d := &models.Donation{}
	err := row.Scan(&d.ID, &d.Amount, &d.Anonymous, &d.DonorName, &d.DonorEmail, &d.Phone, &d.Frequency, &d.PaymentID, &d.UserID, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// FindByPaymentID returns the donation correlated to a MercadoPago payment,
// or nil when none exists. Exact match only.
func (r *Repository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE payment_id = $1`
	donation, err := scanDonation(r.db.QueryRow(ctx, query, paymentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find donation by payment_id: %w", err)
	}
	return donation, nil
}

// CreateDonation inserts a donation. The unique index on payment_id is the
// single serialization point for concurrent webhook deliveries; a violation
// surfaces as ErrDuplicatePaymentID.
func (r *Repository) CreateDonation(ctx context.Context, donation *models.Donation) error {
	if donation.ID == uuid.Nil {
		donation.ID = uuid.New()
	}
	query := `
		INSERT INTO donations (id, amount, anonymous, donor_name, donor_email, phone, frequency, payment_id, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		donation.ID, donation.Amount, donation.Anonymous,
		donation.DonorName, donation.DonorEmail, donation.Phone,
		donation.Frequency, donation.PaymentID, donation.UserID,
	).Scan(&donation.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePaymentID
		}
		return fmt.Errorf("failed to create donation: %w", err)
	}
	return nil
}

// DonorFieldsPatch carries best-effort donor enrichment. Fields left nil are
// not touched.
type DonorFieldsPatch struct {
	DonorName  *string
	DonorEmail *string
	Phone      *string
	UserID     *uuid.UUID
}

// UpdateDonorFields fills donor fields that are currently NULL; populated
// columns are never overwritten. The confirmed-payment webhook is the
// authoritative writer and later client saves are enrichment only, so
// first-writer-wins.
func (r *Repository) UpdateDonorFields(ctx context.Context, id uuid.UUID, patch DonorFieldsPatch) (*models.Donation, error) {
	query := `
		UPDATE donations SET
			donor_name  = COALESCE(donor_name, $2),
			donor_email = COALESCE(donor_email, $3),
			phone       = COALESCE(phone, $4),
			user_id     = COALESCE(user_id, $5)
		WHERE id = $1
		RETURNING ` + donationColumns
	donation, err := scanDonation(r.db.QueryRow(ctx, query, id, patch.DonorName, patch.DonorEmail, patch.Phone, patch.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to update donor fields: %w", err)
	}
	return donation, nil
}

// ListReminderCandidates returns monthly, non-anonymous donations with a
// donor email that are at least olderThan old. Oldest first, so a bounded
// batch never starves the donors waiting longest.
func (r *Repository) ListReminderCandidates(ctx context.Context, olderThan time.Duration, limit int32) ([]models.Donation, error) {
	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE frequency = 'monthly'
		  AND anonymous = FALSE
		  AND donor_email IS NOT NULL
		  AND created_at <= NOW() - make_interval(secs => $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}
	defer rows.Close()

	var donations []models.Donation
	for rows.Next() {
		d := models.Donation{}
		if err := rows.Scan(&d.ID, &d.Amount, &d.Anonymous, &d.DonorName, &d.DonorEmail, &d.Phone, &d.Frequency, &d.PaymentID, &d.UserID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}

// ListDonations returns donations newest first.
func (r *Repository) ListDonations(ctx context.Context, limit, offset int) ([]models.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	defer rows.Close()

	var donations []models.Donation
	for rows.Next() {
		d := models.Donation{}
		if err := rows.Scan(&d.ID, &d.Amount, &d.Anonymous, &d.DonorName, &d.DonorEmail, &d.Phone, &d.Frequency, &d.PaymentID, &d.UserID, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		donations = append(donations, d)
	}
	return donations, rows.Err()
}
