package service

import (
	"context"
	"time"

	"github.com/fundaciontea/donations-api/internal/mercadopago"
	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/repository"
	"github.com/google/uuid"
)

// DonationStore is the persistence boundary. It exclusively owns the
// "at most one donation per payment_id" guarantee; services never write to
// storage around it.
type DonationStore interface {
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Donation, error)
	CreateDonation(ctx context.Context, donation *models.Donation) error
	UpdateDonorFields(ctx context.Context, id uuid.UUID, patch repository.DonorFieldsPatch) (*models.Donation, error)
	ListDonations(ctx context.Context, limit, offset int) ([]models.Donation, error)
	ListReminderCandidates(ctx context.Context, olderThan time.Duration, limit int32) ([]models.Donation, error)
	FindOrCreateUserByEmail(ctx context.Context, email, name string) (*models.User, error)
	RecordNotification(ctx context.Context, paymentID, kind string) error
	MarkNotificationProcessed(ctx context.Context, paymentID string) error
	MarkNotificationFailed(ctx context.Context, paymentID, reason string) error
	ListUnprocessedNotifications(ctx context.Context, minAge time.Duration, limit int32) ([]models.NotificationRecord, error)
}

// PaymentResolver fetches full payment details from the payment processor.
type PaymentResolver interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
}

// Notifier sends transactional email. Failures are logged by callers and
// never surface to the payment processor.
type Notifier interface {
	SendDonationReceived(ctx context.Context, donation *models.Donation) error
	SendThankYou(ctx context.Context, donation *models.Donation) error
	SendReminder(ctx context.Context, donation *models.Donation, donationURL string) error
}
