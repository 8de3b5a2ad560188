// SPDX-License-Identifier: MIT

// Package session owns the per-booking reconciliation aggregate: one
// countdown, one poller, one push subscription and one reconciler.
//
// All three producers feed a single consumer goroutine through one
// queue, so events are evaluated one at a time against the resolution
// state regardless of which channel delivered them.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kinoseat/paywatch/internal/clock"
	"github.com/kinoseat/paywatch/internal/log"
	"github.com/kinoseat/paywatch/internal/metrics"
	"github.com/kinoseat/paywatch/internal/poll"
	"github.com/kinoseat/paywatch/internal/push"
	"github.com/kinoseat/paywatch/internal/reconcile"
	"github.com/kinoseat/paywatch/internal/status"
)

// Validation errors returned by Open.
var (
	ErrNoBookingID   = errors.New("booking id is required")
	ErrInvalidAmount = errors.New("expected amount must be positive")
	ErrNoDeadline    = errors.New("deadline is required")
	ErrManagerClosed = errors.New("session manager is shut down")
)

// Callbacks are invoked on terminal resolution. Exactly one of the
// three fires per session, exactly once, from the session's consumer
// goroutine.
type Callbacks struct {
	OnConfirmed func(status.Event)
	OnFailed    func(reason string)
	OnTimeout   func()
}

// Params describes one booking attempt to monitor. Zero durations fall
// back to the package defaults.
type Params struct {
	BookingID      string
	TransactionID  string // defaults to BookingID
	ExpectedAmount int64  // currency minor units
	Deadline       time.Time

	PollInterval      time.Duration // default 5s
	MaxPollRetries    int           // default 3
	TickInterval      time.Duration // default 1s
	WarningThreshold  time.Duration // default 5m
	CriticalThreshold time.Duration // default 2m
}

// Deps are the external collaborators a session consumes.
type Deps struct {
	Query poll.QueryFunc
	Feed  push.Feed
}

// envelope carries one item through the session queue. Expiry travels
// the same path as payment events so it is gated identically.
type envelope struct {
	ev     status.Event
	expiry bool
}

// Session monitors one booking attempt until it resolves or is closed.
type Session struct {
	bookingID string
	openedAt  time.Time
	rec       *reconcile.Reconciler
	countdown *clock.Countdown
	poller    *poll.Poller
	unsub     push.Unsubscribe
	cb        Callbacks
	logger    zerolog.Logger

	events   chan envelope
	quit     chan struct{} // closed once the consumer stops accepting events
	closeReq chan struct{}
	done     chan struct{}
	closing  sync.Once
}

// Open wires the countdown, poller and push subscription into one
// reconciler and starts all three. The returned session is already
// running.
func Open(p Params, deps Deps, cb Callbacks) (*Session, error) {
	if p.BookingID == "" {
		return nil, ErrNoBookingID
	}
	if p.ExpectedAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.Deadline.IsZero() {
		return nil, ErrNoDeadline
	}
	if deps.Query == nil || deps.Feed == nil {
		return nil, fmt.Errorf("session dependencies incomplete")
	}
	if p.TransactionID == "" {
		p.TransactionID = p.BookingID
	}

	logger := log.WithComponent("session").With().
		Str(log.FieldBookingID, p.BookingID).
		Str(log.FieldTransactionID, p.TransactionID).
		Logger()

	s := &Session{
		bookingID: p.BookingID,
		openedAt:  time.Now(),
		rec:       reconcile.New(p.BookingID, p.ExpectedAmount),
		cb:        cb,
		logger:    logger,
		events:    make(chan envelope, 16),
		quit:      make(chan struct{}),
		closeReq:  make(chan struct{}),
		done:      make(chan struct{}),
	}

	s.countdown = clock.New(p.Deadline, nil, func() {
		s.enqueue(envelope{expiry: true})
	}, clock.Options{
		Granularity: p.TickInterval,
		Warning:     p.WarningThreshold,
		Critical:    p.CriticalThreshold,
	}, logger.With().Str(log.FieldComponent, "countdown").Logger())

	s.poller = poll.New(p.TransactionID, deps.Query, func(ev status.Event) {
		s.enqueue(envelope{ev: ev})
	}, poll.Options{
		Interval:   p.PollInterval,
		MaxRetries: p.MaxPollRetries,
	}, logger.With().Str(log.FieldComponent, "poller").Logger())

	unsub, err := deps.Feed.Subscribe(p.BookingID, func(ev status.Event) {
		s.enqueue(envelope{ev: ev})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe push feed: %w", err)
	}
	s.unsub = unsub

	go s.run()
	s.countdown.Start()
	s.poller.Start()

	metrics.RecordSessionOpened()
	logger.Info().
		Int64(log.FieldAmount, p.ExpectedAmount).
		Time(log.FieldDeadline, p.Deadline).
		Dur("poll_interval", p.PollInterval).
		Msg("reconciliation session opened")
	return s, nil
}

// enqueue hands a producer event to the consumer. Once the session is
// resolving or closing, events are dropped instead of blocking the
// producer.
func (s *Session) enqueue(env envelope) {
	select {
	case s.events <- env:
	case <-s.quit:
	}
}

func (s *Session) run() {
	defer close(s.done)

	for {
		// A pending close wins over a pending event: after Close is
		// requested, no callback may fire.
		select {
		case <-s.closeReq:
			s.shutdown()
			return
		default:
		}

		select {
		case <-s.closeReq:
			s.shutdown()
			return

		case env := <-s.events:
			var (
				res      status.Resolution
				resolved bool
			)
			if env.expiry {
				res, resolved = s.rec.Expire()
			} else {
				res, resolved = s.rec.Apply(env.ev)
			}
			if !resolved {
				continue
			}
			// No event is consumed after this point; late producer
			// sends drain through the closed quit channel.
			close(s.quit)
			s.notify(res)
			s.stopProducers()
			metrics.RecordSessionResolved(string(res.Outcome), time.Since(s.openedAt).Seconds())
			return
		}
	}
}

// shutdown handles an external close before resolution.
func (s *Session) shutdown() {
	close(s.quit)
	s.stopProducers()
	metrics.RecordSessionClosed()
	s.logger.Info().Msg("session closed before resolution")
}

// notify fires exactly one of the three callbacks.
func (s *Session) notify(res status.Resolution) {
	switch res.Outcome {
	case status.OutcomeConfirmed:
		if s.cb.OnConfirmed != nil && res.Event != nil {
			s.cb.OnConfirmed(*res.Event)
		}
	case status.OutcomeFailed:
		if s.cb.OnFailed != nil {
			s.cb.OnFailed(res.Reason)
		}
	case status.OutcomeExpired:
		if s.cb.OnTimeout != nil {
			s.cb.OnTimeout()
		}
	}
}

// stopProducers halts the countdown, poller and push subscription. Each
// stop joins its producer goroutine, so nothing emits afterward.
func (s *Session) stopProducers() {
	s.countdown.Stop()
	s.poller.Stop()
	s.unsub()
}

// Close tears the session down. If it has not resolved yet, no callback
// will ever fire. Idempotent; safe after resolution. Close does not
// return until teardown is complete.
func (s *Session) Close() {
	s.closing.Do(func() {
		close(s.closeReq)
	})
	<-s.done
}

// Done is closed once the session has resolved or been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// BookingID returns the booking this session monitors.
func (s *Session) BookingID() string {
	return s.bookingID
}

// Resolution returns the current resolution snapshot.
func (s *Session) Resolution() status.Resolution {
	return s.rec.Resolution()
}

// Remaining returns the time left until the deadline, clamped at zero.
func (s *Session) Remaining() time.Duration {
	return s.countdown.Remaining()
}

// UrgencyBand classifies the remaining time, for display only.
func (s *Session) UrgencyBand() clock.Band {
	return s.countdown.CurrentBand()
}
