// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kinoseat/paywatch/internal/log"
	"github.com/kinoseat/paywatch/internal/metrics"
	"github.com/kinoseat/paywatch/internal/session"
	"github.com/kinoseat/paywatch/internal/status"
)

type openSessionRequest struct {
	BookingID      string `json:"booking_id"`
	TransactionID  string `json:"transaction_id,omitempty"`
	ExpectedAmount int64  `json:"expected_amount"`
	// Deadline is RFC3339; TTLSeconds is an alternative relative form.
	// When both are absent the configured session deadline applies.
	Deadline   string `json:"deadline,omitempty"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`

	// Optional per-session overrides, Go duration strings ("5s", "1m").
	PollInterval   string `json:"poll_interval,omitempty"`
	TickInterval   string `json:"tick_interval,omitempty"`
	MaxPollRetries int    `json:"max_poll_retries,omitempty"`
}

type sessionResponse struct {
	SessionID        string `json:"session_id"`
	BookingID        string `json:"booking_id"`
	Outcome          string `json:"outcome"`
	Reason           string `json:"reason,omitempty"`
	ResolvedAt       string `json:"resolved_at,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	Urgency          string `json:"urgency"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg := s.holder.Get()
	params := session.Params{
		BookingID:         req.BookingID,
		TransactionID:     req.TransactionID,
		ExpectedAmount:    req.ExpectedAmount,
		PollInterval:      cfg.PollInterval,
		MaxPollRetries:    cfg.MaxPollRetries,
		TickInterval:      cfg.TickInterval,
		WarningThreshold:  cfg.WarningThreshold,
		CriticalThreshold: cfg.CriticalThreshold,
	}

	switch {
	case req.Deadline != "":
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "deadline must be RFC3339")
			return
		}
		params.Deadline = deadline
	case req.TTLSeconds > 0:
		params.Deadline = time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
	default:
		params.Deadline = time.Now().Add(cfg.SessionDeadline)
	}

	if req.PollInterval != "" {
		d, err := time.ParseDuration(req.PollInterval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "poll_interval must be a positive duration")
			return
		}
		params.PollInterval = d
	}
	if req.TickInterval != "" {
		d, err := time.ParseDuration(req.TickInterval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "tick_interval must be a positive duration")
			return
		}
		params.TickInterval = d
	}
	if req.MaxPollRetries > 0 {
		params.MaxPollRetries = req.MaxPollRetries
	}

	logger := log.WithContext(r.Context(), s.logger).With().
		Str(log.FieldBookingID, req.BookingID).Logger()

	id, sess, err := s.sessions.Open(params, session.Callbacks{
		OnConfirmed: func(ev status.Event) {
			logger.Info().
				Str(log.FieldTransactionID, ev.TransactionID).
				Int64(log.FieldAmount, ev.Amount).
				Msg("payment confirmed")
		},
		OnFailed: func(reason string) {
			logger.Warn().Str(log.FieldReason, reason).Msg("payment failed")
		},
		OnTimeout: func() {
			logger.Warn().Msg("seat hold expired before payment")
		},
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoBookingID),
			errors.Is(err, session.ErrInvalidAmount),
			errors.Is(err, session.ErrNoDeadline):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error().Err(err).Msg("failed to open session")
			writeError(w, http.StatusInternalServerError, "failed to open session")
		}
		return
	}

	writeJSON(w, http.StatusCreated, s.sessionResponse(id, sess))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, s.sessionResponse(id, sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sessions.Close(id) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookRequest struct {
	BookingID     string `json:"booking_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// handlePaymentWebhook ingests a gateway notification and publishes it
// to the push feed. Delivery downstream is at-least-once; the gateway
// may retry, duplicates are absorbed by the reconciler.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordWebhookDelivery(false)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.BookingID == "" || req.TransactionID == "" {
		metrics.RecordWebhookDelivery(false)
		writeError(w, http.StatusBadRequest, "booking_id and transaction_id are required")
		return
	}
	st := status.Status(req.Status)
	if !st.Valid() {
		metrics.RecordWebhookDelivery(false)
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	ev := status.Event{
		TransactionID: req.TransactionID,
		Status:        st,
		Amount:        req.Amount,
		Reason:        req.Reason,
		Source:        status.SourcePush,
	}
	if err := s.feed.Publish(r.Context(), req.BookingID, ev); err != nil {
		metrics.RecordWebhookDelivery(false)
		logger := log.WithContext(r.Context(), s.logger)
		logger.Error().
			Err(err).
			Str(log.FieldBookingID, req.BookingID).
			Msg("webhook publish failed")
		writeError(w, http.StatusServiceUnavailable, "event feed unavailable")
		return
	}

	metrics.RecordWebhookDelivery(true)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Health(r.Context()))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	resp := s.health.Readiness(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) sessionResponse(id string, sess *session.Session) sessionResponse {
	res := sess.Resolution()
	resp := sessionResponse{
		SessionID:        id,
		BookingID:        sess.BookingID(),
		Outcome:          string(res.Outcome),
		Reason:           res.Reason,
		RemainingSeconds: int64(sess.Remaining().Seconds()),
		Urgency:          string(sess.UrgencyBand()),
	}
	if res.Outcome.Terminal() {
		resp.ResolvedAt = res.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
