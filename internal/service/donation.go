package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/fundaciontea/donations-api/internal/mercadopago"
	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/observability"
	"github.com/fundaciontea/donations-api/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrValidation wraps user-facing form validation failures.
var ErrValidation = errors.New("validation failed")

// PreferenceCreator creates checkout preferences with the payment processor.
type PreferenceCreator interface {
	CreatePreference(ctx context.Context, req *mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

// DonationService handles the donation form flow: checkout preference
// creation, the client-side post-payment save, and admin listing.
type DonationService struct {
	store       DonationStore
	preferences PreferenceCreator
	mailer      Notifier
	appURL      string
	commission  decimal.Decimal
}

func NewDonationService(store DonationStore, preferences PreferenceCreator, mailer Notifier, appURL string, commission float64) *DonationService {
	return &DonationService{
		store:       store,
		preferences: preferences,
		mailer:      mailer,
		appURL:      appURL,
		commission:  decimal.NewFromFloat(commission),
	}
}

// CheckoutRequest is the donation form payload.
type CheckoutRequest struct {
	Amount    string `json:"amount"`
	Frequency string `json:"frequency"`
	Anonymous bool   `json:"anonymous"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// CheckoutResponse carries the redirect target for the hosted checkout.
type CheckoutResponse struct {
	InitPoint    string `json:"init_point"`
	PreferenceID string `json:"preference_id"`
}

// CreateCheckout validates the form payload and creates a MercadoPago
// checkout preference. No donation is persisted here: donations exist only
// once the processor confirms the payment as approved.
func (s *DonationService) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !domain.IsValidFrequency(req.Frequency) {
		return nil, fmt.Errorf("%w: frequency must be once or monthly", ErrValidation)
	}
	if err := s.validateDonor(req); err != nil {
		return nil, err
	}

	title := "Donación única a Fundación TEA Santa Cruz"
	if req.Frequency == domain.FrequencyMonthly {
		title = "Donación mensual a Fundación TEA Santa Cruz"
	}

	preference := &mercadopago.PreferenceRequest{
		Items: []mercadopago.PreferenceItem{{
			ID:         "donation",
			Title:      title,
			Quantity:   1,
			UnitPrice:  amount,
			CurrencyID: domain.CurrencyARS,
		}},
		Metadata: map[string]any{
			"donation_type": req.Frequency,
			"anonymous":     req.Anonymous,
		},
		BackURLs: mercadopago.PreferenceBackURLs{
			Success: s.appURL + "/donaciones/gracias",
			Pending: s.appURL + "/donaciones/pendiente",
			Failure: s.appURL + "/donaciones",
		},
		AutoReturn:          "approved",
		NotificationURL:     s.appURL + "/v1/webhooks/mercadopago",
		StatementDescriptor: "Fundación TEA Santa Cruz",
	}

	if s.commission.IsPositive() {
		fee := amount.Mul(s.commission).Round(2)
		preference.MarketplaceFee = &fee
	}

	if !req.Anonymous {
		preference.Metadata["donor_name"] = fullName(req.FirstName, req.LastName)
		preference.Metadata["donor_email"] = req.Email
		if req.Phone != "" {
			preference.Metadata["donor_phone"] = req.Phone
		}
		payer := &mercadopago.PreferencePayer{
			Name:    req.FirstName,
			Surname: req.LastName,
			Email:   req.Email,
		}
		if req.Phone != "" {
			payer.Phone = &struct {
				Number string `json:"number"`
			}{Number: req.Phone}
		}
		preference.Payer = payer
	}

	created, err := s.preferences.CreatePreference(ctx, preference)
	if err != nil {
		return nil, fmt.Errorf("create checkout preference: %w", err)
	}

	zap.L().Info("checkout preference created",
		zap.String("preference_id", created.ID),
		zap.String("amount", amount.String()),
		zap.String("frequency", req.Frequency))

	return &CheckoutResponse{InitPoint: created.InitPoint, PreferenceID: created.ID}, nil
}

func (s *DonationService) validateDonor(req *CheckoutRequest) error {
	if req.Anonymous {
		// The form forbids anonymous recurring donations; enforce it here so
		// the policy has exactly one home.
		if req.Frequency == domain.FrequencyMonthly {
			return fmt.Errorf("%w: monthly donations cannot be anonymous", ErrValidation)
		}
		return nil
	}
	if len(strings.TrimSpace(req.FirstName)) < 2 {
		return fmt.Errorf("%w: first name is too short", ErrValidation)
	}
	if len(strings.TrimSpace(req.LastName)) < 2 {
		return fmt.Errorf("%w: last name is too short", ErrValidation)
	}
	if !strings.Contains(req.Email, "@") {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if req.Phone != "" && len(req.Phone) < 6 {
		return fmt.Errorf("%w: invalid phone number", ErrValidation)
	}
	return nil
}

// SaveRequest is the best-effort save the thank-you page sends after
// MercadoPago redirects back.
type SaveRequest struct {
	PaymentID string `json:"payment_id"`
	Amount    string `json:"amount"`
	Anonymous bool   `json:"anonymous"`
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Frequency string `json:"frequency"`
}

// Save records a donation reported by the client, or enriches an existing
// one. The webhook remains the authoritative writer: donor fields already
// populated are never overwritten, and the payment_id uniqueness constraint
// resolves races with concurrent webhook deliveries.
func (s *DonationService) Save(ctx context.Context, req *SaveRequest) (*models.Donation, bool, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return nil, false, fmt.Errorf("%w: payment_id is required", ErrValidation)
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	existing, err := s.store.FindByPaymentID(ctx, req.PaymentID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		enriched, err := s.enrich(ctx, existing, req)
		return enriched, false, err
	}

	donation := s.donationFromSave(ctx, req, amount)
	if err := s.store.CreateDonation(ctx, donation); err != nil {
		if errors.Is(err, repository.ErrDuplicatePaymentID) {
			// A webhook delivery won the race; enrich its record instead.
			winner, findErr := s.store.FindByPaymentID(ctx, req.PaymentID)
			if findErr != nil || winner == nil {
				return nil, false, fmt.Errorf("duplicate recovery failed: %w", err)
			}
			enriched, enrichErr := s.enrich(ctx, winner, req)
			return enriched, false, enrichErr
		}
		return nil, false, err
	}

	observability.IncrementDonationCreated("client_save", donation.Frequency)
	s.sendEmails(ctx, donation)
	return donation, true, nil
}

func (s *DonationService) donationFromSave(ctx context.Context, req *SaveRequest, amount decimal.Decimal) *models.Donation {
	frequency := req.Frequency
	if !domain.IsValidFrequency(frequency) {
		frequency = domain.FrequencyOnce
	}

	donation := &models.Donation{
		Amount:    amount,
		Anonymous: req.Anonymous,
		Frequency: frequency,
		PaymentID: &req.PaymentID,
	}
	if req.Anonymous {
		return donation
	}

	name := saveDonorName(req)
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)
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
		if user, err := s.store.FindOrCreateUserByEmail(ctx, email, name); err != nil {
			zap.L().Warn("failed to attach donor user on save", zap.Error(err))
		} else if user != nil {
			donation.UserID = &user.ID
		}
	}
	return donation
}

// enrich fills donor fields the existing record is missing. First-writer-wins
// is enforced by the repository: populated columns stay untouched.
func (s *DonationService) enrich(ctx context.Context, existing *models.Donation, req *SaveRequest) (*models.Donation, error) {
	if req.Anonymous || existing.Anonymous {
		return existing, nil
	}
	if existing.DonorName != nil && existing.DonorEmail != nil && existing.Phone != nil && existing.UserID != nil {
		return existing, nil
	}

	patch := repository.DonorFieldsPatch{}
	name := saveDonorName(req)
	email := strings.TrimSpace(req.Email)
	phone := strings.TrimSpace(req.Phone)
	if name != "" {
		patch.DonorName = &name
	}
	if email != "" {
		patch.DonorEmail = &email
	}
	if phone != "" {
		patch.Phone = &phone
	}
	if email != "" && existing.UserID == nil {
		if user, err := s.store.FindOrCreateUserByEmail(ctx, email, name); err != nil {
			zap.L().Warn("failed to attach donor user on enrichment", zap.Error(err))
		} else if user != nil {
			patch.UserID = &user.ID
		}
	}

	updated, err := s.store.UpdateDonorFields(ctx, existing.ID, patch)
	if err != nil {
		return nil, err
	}
	if existing.DonorEmail == nil && updated.DonorEmail != nil {
		// Donor data just became complete; the emails skipped at creation
		// time go out now.
		s.sendEmails(ctx, updated)
	}
	return updated, nil
}

func (s *DonationService) sendEmails(ctx context.Context, donation *models.Donation) {
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

// Reminders go to monthly donors whose donation is at least this old. The
// dashboard cron fires daily, so a donor who keeps an old row around hears
// from us once per run; MercadoPago has no subscription record to dedup
// against.
const reminderAge = 30 * 24 * time.Hour

const reminderBatchSize = 200

// ReminderSummary reports a reminder pass.
type ReminderSummary struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// SendReminders emails every non-anonymous monthly donor whose donation is
// a month old or more, inviting them to donate again. Triggered from the
// admin dashboard (or a cron hitting the admin endpoint); send failures are
// counted, not fatal.
func (s *DonationService) SendReminders(ctx context.Context) (*ReminderSummary, error) {
	candidates, err := s.store.ListReminderCandidates(ctx, reminderAge, reminderBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list reminder candidates: %w", err)
	}

	summary := &ReminderSummary{Scanned: len(candidates)}
	if s.mailer == nil {
		return summary, nil
	}

	donationURL := s.appURL + "/donaciones"
	for i := range candidates {
		if err := s.mailer.SendReminder(ctx, &candidates[i], donationURL); err != nil {
			summary.Failed++
			zap.L().Warn("reminder email failed",
				zap.String("donation_id", candidates[i].ID.String()),
				zap.Error(err))
			continue
		}
		summary.Sent++
	}

	zap.L().Info("donation reminders sent",
		zap.Int("scanned", summary.Scanned),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// Exists reports whether a donation for the given payment id is recorded.
func (s *DonationService) Exists(ctx context.Context, paymentID string) (bool, error) {
	donation, err := s.store.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return false, err
	}
	return donation != nil, nil
}

// List returns donations for the admin dashboard, newest first.
func (s *DonationService) List(ctx context.Context, limit, offset int) ([]models.Donation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListDonations(ctx, limit, offset)
}

func saveDonorName(req *SaveRequest) string {
	if name := strings.TrimSpace(req.Name); name != "" {
		return name
	}
	return fullName(req.FirstName, req.LastName)
}

func fullName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
