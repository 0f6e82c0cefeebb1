package api

import (
	"net/http"

	"github.com/fundaciontea/donations-api/internal/api/handler"
	"github.com/fundaciontea/donations-api/internal/api/middleware"
	"github.com/fundaciontea/donations-api/internal/api/spec"
	"github.com/fundaciontea/donations-api/internal/config"
	"github.com/fundaciontea/donations-api/internal/domain"
	"github.com/fundaciontea/donations-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router assembles the HTTP surface: the public donation endpoints, the
// MercadoPago webhook, the admin dashboard routes, and the operational
// endpoints.
type Router struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *pgxpool.Pool
	redis       redis.Cmdable
	webhookSvc  *service.WebhookService
	donationSvc *service.DonationService
	connectSvc  *service.ConnectService
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redisClient redis.Cmdable,
	webhookSvc *service.WebhookService, donationSvc *service.DonationService, connectSvc *service.ConnectService) *Router {
	return &Router{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		redis:       redisClient,
		webhookSvc:  webhookSvc,
		donationSvc: donationSvc,
		connectSvc:  connectSvc,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	webhookHandler := handler.NewWebhookHandler(api.webhookSvc)
	donationHandler := handler.NewDonationHandler(api.donationSvc)
	connectHandler := handler.NewConnectHandler(api.connectSvc)
	authHandler := handler.NewAuthHandler(api.cfg.AdminAPIKey, api.cfg.AdminEmails)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Webhook. Higher rate ceiling than the form endpoints so retry storms
	// are absorbed rather than bounced.
	r.With(middleware.WebhookRateLimiter(50)).
		Post("/v1/webhooks/mercadopago", webhookHandler.HandleMercadoPago)

	// Public donation form endpoints.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/donations", donationHandler.CreateCheckout)
		r.Post("/v1/donations/save", donationHandler.Save)
		r.Get("/v1/donations/check", donationHandler.Check)
		r.Post("/v1/auth/login", authHandler.Login)
	})

	// Admin routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole(domain.RoleAdmin))
		r.Get("/v1/admin/donations", donationHandler.List)
		r.Post("/v1/admin/donations/reminders", donationHandler.SendReminders)
		r.Get("/v1/mercadopago/status", connectHandler.Status)
		r.Get("/v1/mercadopago/connect", connectHandler.Authorize)
	})

	// The OAuth callback is reached by a browser redirect from MercadoPago
	// and cannot carry a bearer token; the single-use state is what ties it
	// back to an authorized connect request.
	r.Get("/v1/mercadopago/callback", connectHandler.Callback)

	// Operational endpoints.
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	return r
}
