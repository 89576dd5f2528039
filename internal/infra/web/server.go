package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"edu-billing/internal/infra/i18n"
	"edu-billing/internal/infra/logging"
	"edu-billing/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Payment initiation is throttled per user; everything else rides on the
// provider's own limits.
const (
	paymentInitLimit  = 5
	paymentInitWindow = time.Minute
)

// RateLimiter is satisfied by redis.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	payments usecase.PaymentUseCase
	cards    usecase.CardBindingUseCase
	webhooks usecase.WebhookUseCase
	catalog  usecase.CatalogUseCase
	stats    usecase.StatsUseCase
	pages    *i18n.Bundle
	auth     *AuthManager
	limiter  RateLimiter
	adminKey string
	timeout  time.Duration
	log      *zerolog.Logger

	server *http.Server
}

func NewServer(
	payments usecase.PaymentUseCase,
	cards usecase.CardBindingUseCase,
	webhooks usecase.WebhookUseCase,
	catalog usecase.CatalogUseCase,
	stats usecase.StatsUseCase,
	pages *i18n.Bundle,
	auth *AuthManager,
	limiter RateLimiter,
	adminKey string,
	timeout time.Duration,
	logger *zerolog.Logger,
) *Server {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	lg := logger.With().Str("component", "WebServer").Logger()
	return &Server{
		payments: payments,
		cards:    cards,
		webhooks: webhooks,
		catalog:  catalog,
		stats:    stats,
		pages:    pages,
		auth:     auth,
		limiter:  limiter,
		adminKey: adminKey,
		timeout:  timeout,
		log:      &lg,
	}
}

// Routes builds the full router. Split out from Start so tests can drive the
// handler tree through httptest without binding a port.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Provider callbacks and the browser return leg run outside user auth;
	// webhooks authenticate with their payload signature instead.
	r.Group(func(pub chi.Router) {
		pub.Use(Timeout(s.timeout))
		pub.Post("/webhooks/{gateway}", s.handleWebhook)
		pub.Get("/payments/return", s.handleReturn)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(Timeout(s.timeout))

		api.Group(func(user chi.Router) {
			user.Use(s.requireUser)
			user.Get("/plans", s.handlePlanList)
			user.Post("/payments", s.handlePaymentCreate)
			user.Get("/payments", s.handlePaymentList)
			user.Get("/payments/{invoiceID}", s.handlePaymentGet)
			user.Post("/payments/{invoiceID}/cancel", s.handlePaymentCancel)
			user.Post("/cards", s.handleCardStart)
			user.Get("/cards", s.handleCardList)
			user.Post("/cards/{id}/confirm", s.handleCardConfirm)
			user.Delete("/cards/{id}", s.handleCardRemove)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(s.requireAdmin)
			admin.Post("/payments/{invoiceID}/refund", s.handlePaymentRefund)
			admin.Get("/admin/transactions/{invoiceID}", s.handleAdminTransaction)
			admin.Get("/admin/stats", s.handleAdminStats)
		})
	})

	return r
}

func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// requireUser resolves the calling user from the bearer token and stashes the
// id in the request context for handlers and log enrichment.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := withUserID(r.Context(), claims.Subject)
		ctx = logging.WithUserID(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin guards operator routes with the static API key.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		token, err := bearerToken(r)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if token != s.adminKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
