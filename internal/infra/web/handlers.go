package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"course-subscription-service/internal/domain"
	"course-subscription-service/internal/domain/model"
	"course-subscription-service/internal/usecase"
)

const maxWebhookBody = 1 << 20 // 1 MiB

type enrollRequest struct {
	UserID     string  `json:"user_id"`
	CourseID   *string `json:"course_id,omitempty"`
	PeriodDays int     `json:"period_days,omitempty"`
	Price      int64   `json:"price"`
	Currency   string  `json:"currency"`
}

type cancelRequest struct {
	Reason      string `json:"reason"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	Immediate   bool   `json:"immediate"`
}

type renewRequest struct {
	PeriodDays  int  `json:"period_days"`
	AutoRenewal bool `json:"auto_renewal"`
}

type payRequest struct {
	Amount      int64  `json:"amount,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

type checkoutResponse struct {
	Payment     *model.Payment `json:"payment"`
	CheckoutURL string         `json:"checkout_url"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	sub, err := s.subUC.Enroll(r.Context(), usecase.EnrollParams{
		UserID:     req.UserID,
		CourseID:   req.CourseID,
		PeriodDays: req.PeriodDays,
		Price:      req.Price,
		Currency:   req.Currency,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	sub, err := s.subUC.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, req.CancelledBy, req.Immediate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	sub, err := s.subUC.Renew(r.Context(), chi.URLParam(r, "id"), req.PeriodDays, req.AutoRenewal)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subUC.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	payment, url, err := s.payUC.StartCheckout(r.Context(), chi.URLParam(r, "id"), req.Amount, req.Currency, req.Description)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, checkoutResponse{Payment: payment, CheckoutURL: url})
}

// handleWebhook always acknowledges the provider with 200 unless a local
// storage failure makes a retry useful. Signature failures are acknowledged
// too: the sender is not told what went wrong, the log is.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failure", http.StatusBadRequest)
		return
	}

	err = s.payUC.IngestWebhook(r.Context(), body, r.Header.Get("X-Sign"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, domain.ErrInvalidSignature):
		s.log.Error().Str("remote", r.RemoteAddr).Msg("webhook rejected: bad signature")
		w.WriteHeader(http.StatusOK)
	default:
		// Let the provider retry on transient local failures.
		s.log.Error().Err(err).Msg("webhook ingestion failed")
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	payment, err := s.payUC.SyncStatus(r.Context(), chi.URLParam(r, "invoiceID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := s.payUC.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	payment, err := s.payUC.Refund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, payment)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	s.sweep.RunOnce(r.Context(), time.Now())
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateActiveSubscription),
		errors.Is(err, domain.ErrCapacityExceeded),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrGatewayRejected):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrGatewayUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}
