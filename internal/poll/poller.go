// SPDX-License-Identifier: MIT

// Package poll implements the fixed-interval payment status poll with a
// bounded retry budget.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kinoseat/paywatch/internal/log"
	"github.com/kinoseat/paywatch/internal/metrics"
	"github.com/kinoseat/paywatch/internal/status"
)

// QueryFunc queries the gateway for the current status of a transaction.
// It must be idempotent and safe to call repeatedly.
type QueryFunc func(ctx context.Context, transactionID string) (status.Event, error)

// Options configures a Poller.
type Options struct {
	// Interval between attempts, measured from the completion of the
	// previous attempt. Defaults to 5s.
	Interval time.Duration
	// MaxRetries is the number of consecutive transport failures
	// tolerated before the poller gives up. Defaults to 3.
	MaxRetries int
}

// RetryState is a snapshot of the poller's failure bookkeeping.
type RetryState struct {
	Failures int
	LastErr  error
	Since    time.Time
}

// Poller repeatedly queries the gateway for one transaction. Attempts
// never overlap: the next interval starts only after the previous query
// has returned. Consecutive transport failures are retried at the same
// interval (no backoff) up to the retry budget; exhausting the budget
// emits a terminal failed event with a connection-error reason and stops
// the loop. A successful query resets the failure counter.
type Poller struct {
	transactionID string
	interval      time.Duration
	maxRetries    int
	query         QueryFunc
	emit          func(status.Event)
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	started bool
	retry   RetryState
}

// New creates a poller for the given transaction. emit receives decoded
// status events and the terminal connection-failure event; it is always
// invoked from the poll goroutine.
func New(transactionID string, query QueryFunc, emit func(status.Event), opts Options, logger zerolog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		transactionID: transactionID,
		interval:      opts.Interval,
		maxRetries:    opts.MaxRetries,
		query:         query,
		emit:          emit,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Start begins the poll loop. Calling Start more than once is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.run()
}

// Stop cancels any in-flight query and pending timer. It does not
// return until the poll goroutine has exited, so no event is emitted
// after Stop returns. Idempotent.
func (p *Poller) Stop() {
	p.cancel()

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	}
}

// State returns the current retry bookkeeping.
func (p *Poller) State() RetryState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retry
}

func (p *Poller) run() {
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
		}

		ev, err := p.query(p.ctx, p.transactionID)
		if p.ctx.Err() != nil {
			return
		}

		if err != nil {
			if p.recordFailure(err) {
				return
			}
		} else {
			p.recordSuccess()
			ev.Source = status.SourcePoll
			if ev.TransactionID == "" {
				ev.TransactionID = p.transactionID
			}
			p.emit(ev)
		}

		// Interval starts after the attempt completes; in-flight calls
		// never overlap.
		timer.Reset(p.interval)
	}
}

// recordFailure counts a transport failure and reports whether the
// retry budget is exhausted. On exhaustion it emits the terminal
// connection-failure event.
func (p *Poller) recordFailure(err error) bool {
	metrics.RecordPollAttempt(false)

	p.mu.Lock()
	if p.retry.Failures == 0 {
		p.retry.Since = time.Now()
	}
	p.retry.Failures++
	p.retry.LastErr = err
	failures := p.retry.Failures
	p.mu.Unlock()

	p.logger.Warn().
		Err(err).
		Int(log.FieldAttempt, failures).
		Int("max_retries", p.maxRetries).
		Msg("status poll failed")

	if failures < p.maxRetries {
		return false
	}

	metrics.RecordPollRetriesExhausted()
	p.logger.Error().
		Err(err).
		Int(log.FieldAttempt, failures).
		Msg("retry budget exhausted, giving up on gateway")
	p.emit(status.Event{
		TransactionID: p.transactionID,
		Status:        status.StatusFailed,
		Reason:        "gateway unreachable: " + err.Error(),
		Source:        status.SourcePoll,
	})
	return true
}

func (p *Poller) recordSuccess() {
	metrics.RecordPollAttempt(true)

	p.mu.Lock()
	p.retry = RetryState{}
	p.mu.Unlock()
}
