package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/fundaciontea/donations-api/internal/mercadopago"
	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/observability"
	"github.com/fundaciontea/donations-api/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Reconciliation outcomes. Every webhook delivery terminates in exactly one
// of these; all but OutcomeRejected are acknowledged with a 2xx so
// MercadoPago does not retry-storm notifications we already handled or can
// recover on our own.
const (
	OutcomeRejected   = "rejected"
	OutcomeIgnored    = "ignored"
	OutcomeDuplicate  = "duplicate"
	OutcomeCreated    = "created"
	OutcomeUnapproved = "unapproved"
	OutcomeDeferred   = "deferred"
	OutcomeInvalid    = "invalid"
	OutcomeFailed     = "persist_failed"
)

// Result reports how a notification was reconciled.
type Result struct {
	Outcome  string
	Donation *models.Donation
}

// WebhookService reconciles MercadoPago payment notifications into donation
// records, exactly once per payment regardless of duplicate, concurrent, or
// out-of-order deliveries.
type WebhookService struct {
	store      DonationStore
	resolver   PaymentResolver
	verifier   *mercadopago.SignatureVerifier
	mailer     Notifier
	production bool
}

func NewWebhookService(store DonationStore, resolver PaymentResolver, verifier *mercadopago.SignatureVerifier, mailer Notifier, production bool) *WebhookService {
	return &WebhookService{
		store:      store,
		resolver:   resolver,
		verifier:   verifier,
		mailer:     mailer,
		production: production,
	}
}

// HandleNotification processes one webhook delivery. The only error it
// returns is ErrInvalidSignature in production; every other failure is
// logged, journaled for the reconciliation sweep, and acknowledged so the
// processor does not retry what idempotency already covers.
func (s *WebhookService) HandleNotification(ctx context.Context, rawBody []byte, signature, requestID string, query url.Values) (*Result, error) {
	if !s.verifier.Verify(rawBody, signature, requestID, query) {
		if s.production {
			observability.IncrementWebhookOutcome(OutcomeRejected)
			return nil, ErrInvalidSignature
		}
		zap.L().Warn("webhook signature invalid, continuing outside production",
			zap.String("request_id", requestID))
	}

	notification := mercadopago.ParseNotification(rawBody, query)
	if !notification.IsPayment() {
		observability.IncrementWebhookOutcome(OutcomeIgnored)
		zap.L().Info("webhook ignored",
			zap.String("request_id", requestID),
			zap.String("kind", notificationKind(notification)))
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	if err := s.store.RecordNotification(ctx, notification.PaymentID, notification.Kind); err != nil {
		// The journal feeds the sweep only; reconciliation proceeds without it.
		zap.L().Warn("failed to journal notification",
			zap.String("payment_id", notification.PaymentID), zap.Error(err))
	}

	result := s.Reconcile(ctx, notification.PaymentID, "webhook")
	observability.IncrementWebhookOutcome(result.Outcome)
	return result, nil
}

// Reconcile drives a payment id through resolve → derive → persist. It is
// shared between the webhook path and the reconciliation sweep, and never
// returns an error: failures are journaled and retried later.
func (s *WebhookService) Reconcile(ctx context.Context, paymentID, source string) *Result {
	logger := zap.L().With(zap.String("payment_id", paymentID), zap.String("source", source))

	existing, err := s.store.FindByPaymentID(ctx, paymentID)
	if err != nil {
		logger.Error("donation lookup failed", zap.Error(err))
		s.journalFailure(ctx, paymentID, err)
		return &Result{Outcome: OutcomeFailed}
	}
	if existing != nil {
		// Idempotent no-op: this payment was already persisted.
		s.journalProcessed(ctx, paymentID)
		return &Result{Outcome: OutcomeDuplicate, Donation: existing}
	}

	payment, err := s.resolver.GetPayment(ctx, paymentID)
	if err != nil {
		// Transient by assumption: MercadoPago redelivers, and the sweep
		// retries deliveries it never will.
		logger.Warn("payment resolution failed", zap.Error(err))
		s.journalFailure(ctx, paymentID, err)
		return &Result{Outcome: OutcomeDeferred}
	}

	if payment.Status != domain.PaymentStatusApproved {
		logger.Info("payment not approved, nothing persisted",
			zap.String("status", payment.Status))
		if isTerminalStatus(payment.Status) {
			s.journalProcessed(ctx, paymentID)
		}
		return &Result{Outcome: OutcomeUnapproved}
	}

	donation, err := s.deriveDonation(ctx, paymentID, payment)
	if err != nil {
		logger.Error("payment failed validation, abandoning notification", zap.Error(err))
		s.journalFailure(ctx, paymentID, err)
		return &Result{Outcome: OutcomeInvalid}
	}

	if err := s.store.CreateDonation(ctx, donation); err != nil {
		if errors.Is(err, repository.ErrDuplicatePaymentID) {
			// Lost the race to a concurrent delivery; the winner's record is
			// the result.
			winner, findErr := s.store.FindByPaymentID(ctx, paymentID)
			if findErr != nil || winner == nil {
				logger.Error("duplicate recovery lookup failed", zap.Error(findErr))
				s.journalFailure(ctx, paymentID, err)
				return &Result{Outcome: OutcomeFailed}
			}
			s.journalProcessed(ctx, paymentID)
			return &Result{Outcome: OutcomeDuplicate, Donation: winner}
		}
		logger.Error("donation persistence failed", zap.Error(err))
		s.journalFailure(ctx, paymentID, err)
		return &Result{Outcome: OutcomeFailed}
	}

	s.journalProcessed(ctx, paymentID)
	observability.IncrementDonationCreated(source, donation.Frequency)
	logger.Info("donation created",
		zap.String("donation_id", donation.ID.String()),
		zap.String("amount", donation.Amount.String()),
		zap.Bool("anonymous", donation.Anonymous),
		zap.String("frequency", donation.Frequency))

	s.notify(ctx, donation)
	return &Result{Outcome: OutcomeCreated, Donation: donation}
}

// deriveDonation maps resolved payment details onto a donation, preferring
// checkout metadata and falling back to payer fields. Anonymous donations
// never carry donor-identifying fields, regardless of what the payer block
// contains.
func (s *WebhookService) deriveDonation(ctx context.Context, paymentID string, payment *mercadopago.Payment) (*models.Donation, error) {
	amount, err := domain.ValidateAmount(payment.TransactionAmount)
	if err != nil {
		return nil, err
	}

	frequency := payment.Metadata.DonationType
	if !domain.IsValidFrequency(frequency) {
		frequency = domain.FrequencyOnce
	}

	donation := &models.Donation{
		ID:        uuid.New(),
		Amount:    amount,
		Anonymous: payment.Metadata.Anonymous,
		Frequency: frequency,
		PaymentID: &paymentID,
	}

	if donation.Anonymous {
		// The donation form forbids anonymous monthly donations; the webhook
		// path keeps the resolved frequency but flags the mismatch for
		// stakeholders instead of silently rewriting it.
		if frequency == domain.FrequencyMonthly {
			zap.L().Warn("anonymous monthly donation received",
				zap.String("payment_id", paymentID))
		}
		return donation, nil
	}

	name := strings.TrimSpace(payment.Metadata.DonorName)
	if name == "" {
		name = strings.TrimSpace(strings.TrimSpace(payment.Payer.FirstName) + " " + strings.TrimSpace(payment.Payer.LastName))
	}
	email := strings.TrimSpace(payment.Metadata.DonorEmail)
	if email == "" {
		email = strings.TrimSpace(payment.Payer.Email)
	}
	phone := strings.TrimSpace(payment.Metadata.DonorPhone)
	if phone == "" {
		phone = strings.TrimSpace(payment.Payer.Phone.Number)
	}

	if name != "" {
		donation.DonorName = &name
	}
	if email != "" {
		donation.DonorEmail = &email
	}
	if phone != "" {
		donation.Phone = &phone
	}

	if email != "" {
		user, err := s.store.FindOrCreateUserByEmail(ctx, email, name)
		if err != nil {
			// Donor identity is enrichment; the donation is persisted anyway.
			zap.L().Warn("failed to attach donor user",
				zap.String("payment_id", paymentID), zap.Error(err))
		} else if user != nil {
			donation.UserID = &user.ID
		}
	}

	return donation, nil
}

func (s *WebhookService) notify(ctx context.Context, donation *models.Donation) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendDonationReceived(ctx, donation); err != nil {
		zap.L().Warn("admin notification email failed", zap.Error(err))
	}
	if err := s.mailer.SendThankYou(ctx, donation); err != nil {
		zap.L().Warn("thank-you email failed", zap.Error(err))
	}
}

func (s *WebhookService) journalProcessed(ctx context.Context, paymentID string) {
	if err := s.store.MarkNotificationProcessed(ctx, paymentID); err != nil {
		zap.L().Warn("failed to mark notification processed",
			zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (s *WebhookService) journalFailure(ctx context.Context, paymentID string, cause error) {
	if err := s.store.MarkNotificationFailed(ctx, paymentID, cause.Error()); err != nil {
		zap.L().Warn("failed to journal notification failure",
			zap.String("payment_id", paymentID), zap.Error(err))
	}
}

// isTerminalStatus reports whether the processor will never move this
// payment to approved, so the sweep should stop re-checking it.
func isTerminalStatus(status string) bool {
	switch status {
	case domain.PaymentStatusRejected, domain.PaymentStatusCancelled,
		domain.PaymentStatusRefunded, domain.PaymentStatusChargedBack:
		return true
	default:
		return false
	}
}

func notificationKind(n *mercadopago.Notification) string {
	if n == nil {
		return "none"
	}
	return n.Kind
}
