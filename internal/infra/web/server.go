package web

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"course-subscription-service/internal/usecase"
)

// SweepTrigger is the slice of the expiry sweeper exposed to the external
// scheduler endpoint.
type SweepTrigger interface {
	RunOnce(ctx context.Context, now time.Time)
}

type Server struct {
	subUC  usecase.SubscriptionUseCase
	payUC  usecase.PaymentUseCase
	sweep  SweepTrigger
	apiKey string
	log    *zerolog.Logger
}

func NewServer(
	subUC usecase.SubscriptionUseCase,
	payUC usecase.PaymentUseCase,
	sweep SweepTrigger,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	srvLog := logger.With().Str("component", "HTTPServer").Logger()
	return &Server{
		subUC:  subUC,
		payUC:  payUC,
		sweep:  sweep,
		apiKey: apiKey,
		log:    &srvLog,
	}
}

// Router builds the chi routing tree. The webhook stays unauthenticated
// (signature-verified in the use case); reconciliation and lifecycle admin
// routes sit behind bearer auth.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/subscriptions", s.handleEnroll)
		r.Get("/subscriptions/{id}", s.handleGetSubscription)
		r.Post("/subscriptions/{id}/cancel", s.handleCancel)
		r.Post("/subscriptions/{id}/renew", s.handleRenew)
		r.Post("/subscriptions/{id}/pay", s.handlePay)

		r.Post("/payments/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/subscriptions/{id}/complete", s.handleComplete)
			r.Post("/payments/{invoiceID}/sync", s.handleSync)
			r.Post("/payments/{id}/cancel", s.handleCancelPayment)
			r.Post("/payments/{id}/refund", s.handleRefund)
			r.Post("/sweep", s.handleSweep)
		})
	})
	return r
}

// authMiddleware provides simple Bearer token authentication for admin routes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
