package repository

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/testutil/dblock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	poolOnce sync.Once
	testPool *pgxpool.Pool
)

// testRepo connects to the database named by DATABASE_URL and applies the
// schema. Tests are skipped when no database is configured.
func testRepo(t *testing.T) *Repository {
	t.Helper()
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		t.Skip("DATABASE_URL not set, skipping repository tests")
	}

	poolOnce.Do(func() {
		// The lock is held until the test process exits, serializing the
		// database-backed packages.
		_ = dblock.Acquire()

		pool, err := pgxpool.New(context.Background(), connStr)
		if err != nil {
			t.Fatalf("connect test database: %v", err)
		}
		schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "000001_init.up.sql"))
		if err != nil {
			t.Fatalf("read schema: %v", err)
		}
		if _, err := pool.Exec(context.Background(), string(schema)); err != nil {
			t.Fatalf("apply schema: %v", err)
		}
		testPool = pool
	})

	_, err := testPool.Exec(context.Background(),
		"TRUNCATE TABLE payment_notifications, donations, mp_credentials, users CASCADE")
	require.NoError(t, err)
	return NewRepository(testPool)
}

func strPtr(s string) *string { return &s }

func sampleDonation(paymentID string) *models.Donation {
	return &models.Donation{
		ID:         uuid.New(),
		Amount:     decimal.NewFromInt(5000),
		Frequency:  domain.FrequencyOnce,
		DonorName:  strPtr("Ana Lopez"),
		DonorEmail: strPtr("a@b.com"),
		PaymentID:  &paymentID,
	}
}

func TestCreateAndFindDonation(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	donation := sampleDonation("123")
	require.NoError(t, repo.CreateDonation(ctx, donation))
	require.False(t, donation.CreatedAt.IsZero())

	found, err := repo.FindByPaymentID(ctx, "123")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, donation.ID, found.ID)
	require.True(t, found.Amount.Equal(decimal.NewFromInt(5000)))

	missing, err := repo.FindByPaymentID(ctx, "999")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestCreateDonationDuplicatePaymentID(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateDonation(ctx, sampleDonation("123")))

	err := repo.CreateDonation(ctx, sampleDonation("123"))
	require.ErrorIs(t, err, ErrDuplicatePaymentID)
}

func TestUpdateDonorFieldsFirstWriterWins(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	donation := sampleDonation("123")
	donation.Phone = nil
	require.NoError(t, repo.CreateDonation(ctx, donation))

	updated, err := repo.UpdateDonorFields(ctx, donation.ID, DonorFieldsPatch{
		DonorName: strPtr("Otra Persona"),
		Phone:     strPtr("2966123456"),
	})
	require.NoError(t, err)
	require.Equal(t, "Ana Lopez", *updated.DonorName, "populated columns are not overwritten")
	require.Equal(t, "2966123456", *updated.Phone, "missing columns are filled")
}

func TestFindOrCreateUserByEmailCaseInsensitive(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	first, err := repo.FindOrCreateUserByEmail(ctx, "Ana@Example.com", "Ana")
	require.NoError(t, err)

	second, err := repo.FindOrCreateUserByEmail(ctx, "ana@example.com", "Ana")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, domain.RoleDonor, second.Role)
}

func TestNotificationJournalLifecycle(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordNotification(ctx, "123", "payment"))
	require.NoError(t, repo.RecordNotification(ctx, "123", "payment"))

	pending, err := repo.ListUnprocessedNotifications(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 2, pending[0].Attempts)

	require.NoError(t, repo.MarkNotificationFailed(ctx, "123", "resolver timeout"))
	pending, err = repo.ListUnprocessedNotifications(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "resolver timeout", *pending[0].LastError)

	require.NoError(t, repo.MarkNotificationProcessed(ctx, "123"))
	pending, err = repo.ListUnprocessedNotifications(ctx, 0, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestListUnprocessedNotificationsHonorsMinAge(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordNotification(ctx, "123", "payment"))

	pending, err := repo.ListUnprocessedNotifications(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Empty(t, pending, "entries younger than minAge stay out of the sweep")
}

func TestCredentialsRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	creds, err := repo.GetCredentials(ctx)
	require.NoError(t, err)
	require.Nil(t, creds)

	expires := time.Now().Add(6 * time.Hour).Truncate(time.Second)
	require.NoError(t, repo.SaveCredentials(ctx, &models.Credentials{
		AccessToken:  "APP_USR-token",
		RefreshToken: strPtr("refresh"),
		MPUserID:     strPtr("42"),
		ExpiresAt:    &expires,
	}))

	creds, err = repo.GetCredentials(ctx)
	require.NoError(t, err)
	require.NotNil(t, creds)
	require.Equal(t, "APP_USR-token", creds.AccessToken)

	// Saving again replaces the stored row.
	require.NoError(t, repo.SaveCredentials(ctx, &models.Credentials{AccessToken: "APP_USR-rotated"}))
	creds, err = repo.GetCredentials(ctx)
	require.NoError(t, err)
	require.Equal(t, "APP_USR-rotated", creds.AccessToken)
}

func TestListReminderCandidates(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	backdate := func(id uuid.UUID, age time.Duration) {
		_, err := testPool.Exec(ctx,
			"UPDATE donations SET created_at = NOW() - make_interval(secs => $2) WHERE id = $1",
			id, age.Seconds())
		require.NoError(t, err)
	}

	stale := sampleDonation("stale-monthly")
	stale.Frequency = domain.FrequencyMonthly
	require.NoError(t, repo.CreateDonation(ctx, stale))
	backdate(stale.ID, 40*24*time.Hour)

	fresh := sampleDonation("fresh-monthly")
	fresh.Frequency = domain.FrequencyMonthly
	require.NoError(t, repo.CreateDonation(ctx, fresh))

	once := sampleDonation("stale-once")
	require.NoError(t, repo.CreateDonation(ctx, once))
	backdate(once.ID, 40*24*time.Hour)

	anon := sampleDonation("stale-anonymous")
	anon.Frequency = domain.FrequencyMonthly
	anon.Anonymous = true
	anon.DonorName = nil
	anon.DonorEmail = nil
	require.NoError(t, repo.CreateDonation(ctx, anon))
	backdate(anon.ID, 40*24*time.Hour)

	candidates, err := repo.ListReminderCandidates(ctx, 30*24*time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, stale.ID, candidates[0].ID)
}

func TestListDonationsNewestFirst(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		d := sampleDonation(id)
		require.NoError(t, repo.CreateDonation(ctx, d))
	}

	donations, err := repo.ListDonations(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, donations, 2)
}
