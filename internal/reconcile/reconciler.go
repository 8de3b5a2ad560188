// SPDX-License-Identifier: MIT

// Package reconcile implements the single-resolution state machine that
// merges poll and push observations for one booking.
//
// All transitions run under one mutex: no two events are ever evaluated
// concurrently against the resolution state, and the resolution is
// write-once. Deadline expiry passes through the same gate as payment
// events, so a late success and an expiry can never both win.
package reconcile

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kinoseat/paywatch/internal/log"
	"github.com/kinoseat/paywatch/internal/metrics"
	"github.com/kinoseat/paywatch/internal/status"
)

// Reasons attached to resolutions the reconciler produces itself.
const (
	ReasonAmountMismatch  = "amount mismatch"
	ReasonDeadlineExpired = "deadline expired"
)

// clock abstracts time for testability.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(c clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// Reconciler drives one booking from Unresolved to exactly one of
// Confirmed, Failed or Expired.
type Reconciler struct {
	mu       sync.Mutex
	expected int64
	seen     map[string]struct{}
	res      status.Resolution
	seq      uint64
	clock    clock
	logger   zerolog.Logger
}

// New creates a reconciler for a booking expecting the given amount in
// currency minor units.
func New(bookingID string, expectedAmount int64, opts ...Option) *Reconciler {
	r := &Reconciler{
		expected: expectedAmount,
		seen:     make(map[string]struct{}),
		res:      status.Resolution{Outcome: status.OutcomeUnresolved},
		clock:    realClock{},
		logger: log.WithComponent("reconciler").With().
			Str(log.FieldBookingID, bookingID).Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply evaluates one status event. It returns the current resolution
// and whether this event caused the terminal transition. Events arriving
// after resolution, and duplicates of already-observed events, are
// absorbed without effect.
func (r *Reconciler) Apply(ev status.Event) (status.Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.res.Outcome.Terminal() {
		metrics.RecordLateEvent()
		r.logger.Debug().
			Str(log.FieldTransactionID, ev.TransactionID).
			Str(log.FieldStatus, string(ev.Status)).
			Str(log.FieldSource, string(ev.Source)).
			Str(log.FieldOutcome, string(r.res.Outcome)).
			Msg("event after resolution ignored")
		return r.res, false
	}

	if _, dup := r.seen[ev.Key()]; dup {
		metrics.RecordDuplicateEvent()
		r.logger.Debug().
			Str(log.FieldTransactionID, ev.TransactionID).
			Str(log.FieldStatus, string(ev.Status)).
			Str(log.FieldSource, string(ev.Source)).
			Msg("duplicate event absorbed")
		return r.res, false
	}
	r.seen[ev.Key()] = struct{}{}

	r.seq++
	ev.Seq = r.seq
	metrics.RecordEventApplied(string(ev.Source), string(ev.Status))

	switch ev.Status {
	case status.StatusPending:
		r.logger.Debug().
			Str(log.FieldTransactionID, ev.TransactionID).
			Str(log.FieldSource, string(ev.Source)).
			Msg("payment still pending")
		return r.res, false

	case status.StatusSuccess:
		if ev.Amount != r.expected {
			metrics.RecordAmountMismatch()
			r.logger.Warn().
				Str(log.FieldTransactionID, ev.TransactionID).
				Int64("reported_amount", ev.Amount).
				Int64("expected_amount", r.expected).
				Msg("success report rejected: amount mismatch")
			r.resolve(status.OutcomeFailed, ReasonAmountMismatch, &ev)
			return r.res, true
		}
		r.resolve(status.OutcomeConfirmed, "", &ev)
		return r.res, true

	case status.StatusFailed, status.StatusCancelled:
		reason := ev.Reason
		if reason == "" {
			reason = "payment " + string(ev.Status)
		}
		r.resolve(status.OutcomeFailed, reason, &ev)
		return r.res, true

	default:
		r.logger.Warn().
			Str(log.FieldTransactionID, ev.TransactionID).
			Str(log.FieldStatus, string(ev.Status)).
			Msg("unknown status ignored")
		return r.res, false
	}
}

// Expire transitions to Expired if and only if the session is still
// unresolved when the expiry is processed. It goes through the same
// gate as Apply, so an expiry racing a terminal event can never produce
// a second resolution.
func (r *Reconciler) Expire() (status.Resolution, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.res.Outcome.Terminal() {
		return r.res, false
	}
	r.resolve(status.OutcomeExpired, ReasonDeadlineExpired, nil)
	return r.res, true
}

// Resolution returns the current resolution snapshot.
func (r *Reconciler) Resolution() status.Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.res
}

// resolve records the write-once terminal transition. Caller must hold
// the lock and must have checked the state is still unresolved.
func (r *Reconciler) resolve(outcome status.Outcome, reason string, ev *status.Event) {
	r.res = status.Resolution{
		Outcome:    outcome,
		Reason:     reason,
		Event:      ev,
		ResolvedAt: r.clock.Now(),
	}
	entry := r.logger.Info().
		Str(log.FieldOutcome, string(outcome))
	if reason != "" {
		entry = entry.Str(log.FieldReason, reason)
	}
	if ev != nil {
		entry = entry.
			Str(log.FieldTransactionID, ev.TransactionID).
			Str(log.FieldSource, string(ev.Source))
	}
	entry.Msg("session resolved")
}
