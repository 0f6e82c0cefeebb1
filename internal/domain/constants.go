package domain

const (
	FrequencyOnce    = "once"
	FrequencyMonthly = "monthly"

	RoleDonor = "DONOR"
	RoleAdmin = "ADMIN"

	// Payment statuses reported by MercadoPago.
	PaymentStatusApproved    = "approved"
	PaymentStatusPending     = "pending"
	PaymentStatusInProcess   = "in_process"
	PaymentStatusRejected    = "rejected"
	PaymentStatusCancelled   = "cancelled"
	PaymentStatusRefunded    = "refunded"
	PaymentStatusChargedBack = "charged_back"

	CurrencyARS = "ARS"
)

// IsValidFrequency reports whether f is a supported donation frequency.
func IsValidFrequency(f string) bool {
	switch f {
	case FrequencyOnce, FrequencyMonthly:
		return true
	default:
		return false
	}
}
