package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fundaciontea/donations-api/internal/models"
	"github.com/fundaciontea/donations-api/internal/observability"
	"github.com/shopspring/decimal"
)

const defaultBaseURL = "https://api.resend.com"

// Mailer sends transactional email through the Resend HTTP API. Sending is
// best-effort everywhere: callers log failures and never let them block a
// webhook acknowledgement.
type Mailer struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	from        string
	adminEmails []string
	commission  decimal.Decimal
}

func New(apiKey, from string, adminEmails []string, commission float64) *Mailer {
	return &Mailer{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     defaultBaseURL,
		apiKey:      apiKey,
		from:        from,
		adminEmails: adminEmails,
		commission:  decimal.NewFromFloat(commission),
	}
}

// WithBaseURL points the mailer at a different API endpoint. Used in tests.
func (m *Mailer) WithBaseURL(baseURL string) *Mailer {
	m.baseURL = baseURL
	return m
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendDonationReceived notifies the foundation admins about a confirmed
// donation, including the platform commission breakdown.
func (m *Mailer) SendDonationReceived(ctx context.Context, donation *models.Donation) error {
	if len(m.adminEmails) == 0 {
		return nil
	}

	donorLabel := "Anónimo"
	if !donation.Anonymous && donation.DonorName != nil {
		donorLabel = *donation.DonorName
	}
	commissionAmount := donation.Amount.Mul(m.commission).Round(2)

	subject := fmt.Sprintf("Nueva donación recibida - $%s", donation.Amount.StringFixed(2))
	html := fmt.Sprintf(
		`<h2>Nueva donación</h2>
<p>Monto: <strong>$%s ARS</strong></p>
<p>Donante: %s</p>
<p>Frecuencia: %s</p>
<p>Comisión de plataforma: $%s</p>
<p>Fecha: %s</p>`,
		donation.Amount.StringFixed(2),
		donorLabel,
		donation.Frequency,
		commissionAmount.StringFixed(2),
		donation.CreatedAt.Format("02/01/2006 15:04"),
	)

	err := m.send(ctx, sendRequest{From: m.from, To: m.adminEmails, Subject: subject, HTML: html})
	m.observe("admin_notification", err)
	return err
}

// SendThankYou thanks the donor by email. No-op for anonymous donations or
// donations without a donor email.
func (m *Mailer) SendThankYou(ctx context.Context, donation *models.Donation) error {
	if donation.Anonymous || donation.DonorEmail == nil || *donation.DonorEmail == "" {
		return nil
	}

	name := "donante"
	if donation.DonorName != nil && *donation.DonorName != "" {
		name = *donation.DonorName
	}

	subject := "¡Gracias por tu donación a Fundación TEA Santa Cruz!"
	html := fmt.Sprintf(
		`<h2>¡Gracias, %s!</h2>
<p>Recibimos tu donación de <strong>$%s ARS</strong>.</p>
<p>Tu aporte nos ayuda a seguir acompañando a las familias de Santa Cruz.</p>`,
		name,
		donation.Amount.StringFixed(2),
	)

	err := m.send(ctx, sendRequest{From: m.from, To: []string{*donation.DonorEmail}, Subject: subject, HTML: html})
	m.observe("thank_you", err)
	return err
}

// SendReminder invites a recurring donor to renew, a month after their last
// monthly donation. No-op for anonymous donations or donations without a
// donor email.
func (m *Mailer) SendReminder(ctx context.Context, donation *models.Donation, donationURL string) error {
	if donation.Anonymous || donation.DonorEmail == nil || *donation.DonorEmail == "" {
		return nil
	}

	firstName := "donante"
	if donation.DonorName != nil && *donation.DonorName != "" {
		firstName = strings.Fields(*donation.DonorName)[0]
	}

	subject := "¡Gracias por tu apoyo! ¿Te gustaría donar nuevamente?"
	html := fmt.Sprintf(
		`<h2>¡Hola %s!</h2>
<p>Hace 30 días realizaste una donación mensual a Fundación TEA Santa Cruz. ¡Tu apoyo es fundamental para seguir ayudando a quienes más lo necesitan!</p>
<p>¿Te gustaría renovar tu compromiso solidario?</p>
<p><a href="%s">Donar nuevamente</a></p>
<p>Si ya realizaste una nueva donación, puedes ignorar este mensaje.</p>
<p>#somosinfinitos</p>`,
		firstName,
		donationURL,
	)

	err := m.send(ctx, sendRequest{From: m.from, To: []string{*donation.DonorEmail}, Subject: subject, HTML: html})
	m.observe("reminder", err)
	return err
}

func (m *Mailer) send(ctx context.Context, req sendRequest) error {
	if m.apiKey == "" {
		return fmt.Errorf("mailer api key not configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email api status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

func (m *Mailer) observe(kind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.IncrementEmailSent(kind, result)
}
