package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fundaciontea/donations-api/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes, such
// as the donation form endpoints.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps),
			)
		}),
	)
}

// WebhookRateLimiter is a higher, per-IP ceiling for the webhook route. It
// exists to absorb retry storms without starving the rest of the API, not to
// throttle MercadoPago in normal operation.
func WebhookRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// A 429 still counts as "not acknowledged" for the processor; it
			// will retry, and the journal sweep covers whatever gets dropped.
			problem.Write(
				w,
				r,
				http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				fmt.Sprintf("Rate limit of %d req/s exceeded", rps),
			)
		}),
	)
}
