package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/fundaciontea/donations-api/internal/mercadopago"
	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakePreferences struct {
	lastRequest *mercadopago.PreferenceRequest
	err         error
}

func (f *fakePreferences) CreatePreference(ctx context.Context, req *mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return &mercadopago.Preference{ID: "pref-1", InitPoint: "https://mp.example/checkout/pref-1"}, nil
}

func newDonationService(store *fakeStore, prefs *fakePreferences, mailer *fakeMailer) *DonationService {
	return NewDonationService(store, prefs, mailer, "https://teasantacruz.org", 0.05)
}

func TestCreateCheckoutBuildsPreference(t *testing.T) {
	prefs := &fakePreferences{}
	svc := newDonationService(newFakeStore(), prefs, &fakeMailer{})

	resp, err := svc.CreateCheckout(context.Background(), &CheckoutRequest{
		Amount:    "5000",
		Frequency: domain.FrequencyOnce,
		FirstName: "Ana",
		LastName:  "Lopez",
		Email:     "a@b.com",
	})
	require.NoError(t, err)
	require.Equal(t, "https://mp.example/checkout/pref-1", resp.InitPoint)

	req := prefs.lastRequest
	require.Len(t, req.Items, 1)
	require.True(t, req.Items[0].UnitPrice.Equal(decimal.NewFromInt(5000)))
	require.Equal(t, domain.CurrencyARS, req.Items[0].CurrencyID)
	require.Equal(t, "Ana Lopez", req.Metadata["donor_name"])
	require.Equal(t, domain.FrequencyOnce, req.Metadata["donation_type"])
	require.NotNil(t, req.MarketplaceFee)
	require.True(t, req.MarketplaceFee.Equal(decimal.NewFromInt(250)), "5%% of 5000")
	require.Contains(t, req.NotificationURL, "/v1/webhooks/mercadopago")
}

func TestCreateCheckoutAnonymousOmitsDonorData(t *testing.T) {
	prefs := &fakePreferences{}
	svc := newDonationService(newFakeStore(), prefs, &fakeMailer{})

	_, err := svc.CreateCheckout(context.Background(), &CheckoutRequest{
		Amount:    "1000",
		Frequency: domain.FrequencyOnce,
		Anonymous: true,
	})
	require.NoError(t, err)

	req := prefs.lastRequest
	require.Nil(t, req.Payer)
	require.NotContains(t, req.Metadata, "donor_name")
	require.NotContains(t, req.Metadata, "donor_email")
	require.Equal(t, true, req.Metadata["anonymous"])
}

func TestCreateCheckoutValidation(t *testing.T) {
	svc := newDonationService(newFakeStore(), &fakePreferences{}, &fakeMailer{})

	cases := []struct {
		name string
		req  CheckoutRequest
	}{
		{"zero amount", CheckoutRequest{Amount: "0", Frequency: "once", Anonymous: true}},
		{"negative amount", CheckoutRequest{Amount: "-10", Frequency: "once", Anonymous: true}},
		{"garbage amount", CheckoutRequest{Amount: "diez", Frequency: "once", Anonymous: true}},
		{"bad frequency", CheckoutRequest{Amount: "100", Frequency: "weekly", Anonymous: true}},
		{"anonymous monthly", CheckoutRequest{Amount: "100", Frequency: "monthly", Anonymous: true}},
		{"missing name", CheckoutRequest{Amount: "100", Frequency: "once", Email: "a@b.com"}},
		{"bad email", CheckoutRequest{Amount: "100", Frequency: "once", FirstName: "Ana", LastName: "Lopez", Email: "not-an-email"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateCheckout(context.Background(), &tc.req)
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestSaveCreatesDonationWhenWebhookHasNotArrived(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{}
	svc := newDonationService(store, &fakePreferences{}, mailer)

	donation, created, err := svc.Save(context.Background(), &SaveRequest{
		PaymentID: "123",
		Amount:    "5000",
		FirstName: "Ana",
		LastName:  "Lopez",
		Email:     "a@b.com",
		Frequency: domain.FrequencyOnce,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "Ana Lopez", *donation.DonorName)
	require.NotNil(t, donation.UserID)
	require.Len(t, mailer.received, 1)
	require.Len(t, mailer.thanked, 1)
}

func TestSaveEnrichesExistingDonationFirstWriterWins(t *testing.T) {
	store := newFakeStore()
	svc := newDonationService(store, &fakePreferences{}, &fakeMailer{})

	// The webhook already persisted the donation with a donor name but no
	// phone.
	seed, created, err := svc.Save(context.Background(), &SaveRequest{
		PaymentID: "123",
		Amount:    "5000",
		Name:      "Ana Lopez",
		Email:     "a@b.com",
	})
	require.NoError(t, err)
	require.True(t, created)

	enriched, created, err := svc.Save(context.Background(), &SaveRequest{
		PaymentID: "123",
		Amount:    "5000",
		Name:      "Otra Persona",
		Email:     "otra@example.com",
		Phone:     "2966123456",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, seed.ID, enriched.ID)

	// Populated fields stay as the first writer left them; only the missing
	// phone is filled.
	require.Equal(t, "Ana Lopez", *enriched.DonorName)
	require.Equal(t, "a@b.com", *enriched.DonorEmail)
	require.Equal(t, "2966123456", *enriched.Phone)
}

func TestSaveRecoversWhenWebhookWinsTheRace(t *testing.T) {
	store := newFakeStore()
	svc := newDonationService(store, &fakePreferences{}, &fakeMailer{})

	winner, created, err := svc.Save(context.Background(), &SaveRequest{
		PaymentID: "123", Amount: "5000", Anonymous: true,
	})
	require.NoError(t, err)
	require.True(t, created)

	// Force the create path: the lookup misses but the insert collides with
	// the row a concurrent webhook just wrote.
	delete(store.donations, "123")
	store.findHook = func() {
		store.donations["123"] = winner
	}
	store.createErr = repository.ErrDuplicatePaymentID

	got, created, err := svc.Save(context.Background(), &SaveRequest{
		PaymentID: "123", Amount: "5000", Anonymous: true,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, winner.ID, got.ID)
}

func TestSaveRequiresPaymentID(t *testing.T) {
	svc := newDonationService(newFakeStore(), &fakePreferences{}, &fakeMailer{})
	_, _, err := svc.Save(context.Background(), &SaveRequest{Amount: "100"})
	require.ErrorIs(t, err, ErrValidation)
}

func seedDonation(store *fakeStore, paymentID, frequency string, anonymous bool, email string, age time.Duration) {
	d := &models.Donation{
		ID:        uuid.New(),
		Amount:    decimal.NewFromInt(5000),
		Anonymous: anonymous,
		Frequency: frequency,
		PaymentID: &paymentID,
		CreatedAt: time.Now().Add(-age),
	}
	if email != "" {
		d.DonorEmail = &email
		name := "Ana Lopez"
		d.DonorName = &name
	}
	store.donations[paymentID] = d
}

func TestSendRemindersTargetsStaleMonthlyDonors(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{}
	svc := newDonationService(store, &fakePreferences{}, mailer)

	seedDonation(store, "old-monthly", domain.FrequencyMonthly, false, "ana@example.com", 31*24*time.Hour)
	seedDonation(store, "fresh-monthly", domain.FrequencyMonthly, false, "fresh@example.com", 24*time.Hour)
	seedDonation(store, "old-once", domain.FrequencyOnce, false, "once@example.com", 60*24*time.Hour)
	seedDonation(store, "old-anonymous", domain.FrequencyMonthly, true, "", 60*24*time.Hour)

	summary, err := svc.SendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Scanned)
	require.Equal(t, 1, summary.Sent)
	require.Equal(t, 0, summary.Failed)
	require.Equal(t, []string{"ana@example.com"}, mailer.reminded)
}

func TestSendRemindersCountsFailures(t *testing.T) {
	store := newFakeStore()
	mailer := &fakeMailer{reminderErr: errors.New("resend down")}
	svc := newDonationService(store, &fakePreferences{}, mailer)

	seedDonation(store, "old-monthly", domain.FrequencyMonthly, false, "ana@example.com", 31*24*time.Hour)

	summary, err := svc.SendReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Scanned)
	require.Equal(t, 0, summary.Sent)
	require.Equal(t, 1, summary.Failed)
	require.Empty(t, mailer.reminded)
}

func TestExists(t *testing.T) {
	store := newFakeStore()
	svc := newDonationService(store, &fakePreferences{}, &fakeMailer{})

	ok, err := svc.Exists(context.Background(), "123")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = svc.Save(context.Background(), &SaveRequest{PaymentID: "123", Amount: "100", Anonymous: true})
	require.NoError(t, err)

	ok, err = svc.Exists(context.Background(), "123")
	require.NoError(t, err)
	require.True(t, ok)
}
