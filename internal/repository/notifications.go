package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fundaciontea/donations-api/internal/models"
)

// RecordNotification journals a received payment notification. Repeat
// deliveries for the same payment bump the attempt counter instead of
// inserting a second row.
func (r *Repository) RecordNotification(ctx context.Context, paymentID, kind string) error {
	query := `
		INSERT INTO payment_notifications (payment_id, kind, processed, attempts, first_seen, updated_at)
		VALUES ($1, $2, FALSE, 1, NOW(), NOW())
		ON CONFLICT (payment_id) DO UPDATE
		SET attempts = payment_notifications.attempts + 1, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, paymentID, kind); err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// MarkNotificationProcessed flags the journal entry as reconciled.
func (r *Repository) MarkNotificationProcessed(ctx context.Context, paymentID string) error {
	query := `UPDATE payment_notifications SET processed = TRUE, last_error = NULL, updated_at = NOW() WHERE payment_id = $1`
	if _, err := r.db.Exec(ctx, query, paymentID); err != nil {
		return fmt.Errorf("failed to mark notification processed: %w", err)
	}
	return nil
}

// MarkNotificationFailed records the failure for the reconciliation sweep.
func (r *Repository) MarkNotificationFailed(ctx context.Context, paymentID, reason string) error {
	query := `UPDATE payment_notifications SET last_error = $2, updated_at = NOW() WHERE payment_id = $1`
	if _, err := r.db.Exec(ctx, query, paymentID, reason); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

// ListUnprocessedNotifications returns journal entries that have not been
// reconciled and have been quiet for at least minAge, oldest first.
func (r *Repository) ListUnprocessedNotifications(ctx context.Context, minAge time.Duration, limit int32) ([]models.NotificationRecord, error) {
	query := `
		SELECT payment_id, kind, processed, attempts, last_error, first_seen, updated_at
		FROM payment_notifications
		WHERE NOT processed AND updated_at < NOW() - make_interval(secs => $1)
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, minAge.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed notifications: %w", err)
	}
	defer rows.Close()

	var records []models.NotificationRecord
	for rows.Next() {
		rec := models.NotificationRecord{}
		if err := rows.Scan(&rec.PaymentID, &rec.Kind, &rec.Processed, &rec.Attempts, &rec.LastError, &rec.FirstSeen, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
