package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReconciliationService retries journaled notifications whose reconciliation
// stalled, typically because the resolver timed out. MercadoPago does not
// redeliver indefinitely, so the sweep is the safety net that keeps the
// database eventually consistent with the processor.
type ReconciliationService struct {
	store   DonationStore
	webhook *WebhookService
	minAge  time.Duration
	limit   int32
}

func NewReconciliationService(store DonationStore, webhook *WebhookService, minAge time.Duration, limit int32) *ReconciliationService {
	if limit <= 0 {
		limit = 50
	}
	return &ReconciliationService{
		store:   store,
		webhook: webhook,
		minAge:  minAge,
		limit:   limit,
	}
}

// SweepResult counts what one sweep pass did.
type SweepResult struct {
	Scanned   int
	Recovered int
	Deferred  int
}

// Sweep reruns reconciliation for unprocessed notifications older than
// minAge. Each record either resolves to a terminal outcome or stays in the
// journal for the next pass.
func (s *ReconciliationService) Sweep(ctx context.Context) (*SweepResult, error) {
	records, err := s.store.ListUnprocessedNotifications(ctx, s.minAge, s.limit)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{Scanned: len(records)}
	for _, record := range records {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcome := s.webhook.Reconcile(ctx, record.PaymentID, "sweep")
		switch outcome.Outcome {
		case OutcomeCreated, OutcomeDuplicate:
			result.Recovered++
		default:
			result.Deferred++
		}
	}

	if result.Scanned > 0 {
		zap.L().Info("reconciliation sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("recovered", result.Recovered),
			zap.Int("deferred", result.Deferred))
	}
	return result, nil
}
