// SPDX-License-Identifier: MIT

// Package clock implements the monotonic countdown against the booking
// deadline. The countdown performs no I/O; it can only reach its deadline.
package clock

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kinoseat/paywatch/internal/metrics"
)

// Band classifies the remaining time for observability. Bands never
// influence reconciliation.
type Band string

const (
	BandNormal   Band = "normal"
	BandWarning  Band = "warning"
	BandCritical Band = "critical"
)

// Tick reports the remaining duration at one tick of the countdown.
type Tick struct {
	Remaining time.Duration
	Band      Band
}

// Options configures a Countdown.
type Options struct {
	// Granularity is the tick interval. Defaults to 1s.
	Granularity time.Duration
	// Warning and Critical are the urgency thresholds. Defaults 5m / 2m.
	Warning  time.Duration
	Critical time.Duration
	// Now overrides the time source for tests.
	Now func() time.Time
}

// Countdown ticks at a fixed granularity until its deadline, then emits
// exactly one expiry signal and stops permanently.
type Countdown struct {
	deadline    time.Time
	granularity time.Duration
	warning     time.Duration
	critical    time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	onTick   func(Tick)
	onExpiry func()

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}

	lastBand Band
}

// New creates a countdown toward the given deadline. onTick may be nil;
// onExpiry fires at most once, from the countdown goroutine.
func New(deadline time.Time, onTick func(Tick), onExpiry func(), opts Options, logger zerolog.Logger) *Countdown {
	if opts.Granularity <= 0 {
		opts.Granularity = time.Second
	}
	if opts.Warning <= 0 {
		opts.Warning = 5 * time.Minute
	}
	if opts.Critical <= 0 {
		opts.Critical = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Countdown{
		deadline:    deadline,
		granularity: opts.Granularity,
		warning:     opts.Warning,
		critical:    opts.Critical,
		now:         opts.Now,
		logger:      logger,
		onTick:      onTick,
		onExpiry:    onExpiry,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		lastBand:    BandNormal,
	}
}

// Start begins ticking. Calling Start more than once is a no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

// Stop halts the countdown. It is idempotent, safe after expiry, and
// does not return until the countdown goroutine has exited, so no tick
// or expiry callback can fire after Stop returns.
func (c *Countdown) Stop() {
	c.mu.Lock()
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	started := c.started
	c.mu.Unlock()

	if started {
		<-c.done
	}
}

func (c *Countdown) run() {
	defer close(c.done)

	ticker := time.NewTicker(c.granularity)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			remaining := c.deadline.Sub(c.now())
			if remaining <= 0 {
				c.logger.Debug().
					Time("deadline", c.deadline).
					Msg("countdown reached deadline")
				if c.onExpiry != nil {
					c.onExpiry()
				}
				return
			}
			band := c.band(remaining)
			if band != c.lastBand {
				c.lastBand = band
				metrics.RecordUrgencyTransition(string(band))
				c.logger.Debug().
					Dur("remaining", remaining).
					Str("urgency", string(band)).
					Msg("countdown urgency changed")
			}
			if c.onTick != nil {
				c.onTick(Tick{Remaining: remaining, Band: band})
			}
		}
	}
}

// Remaining returns the time left until the deadline, clamped at zero.
func (c *Countdown) Remaining() time.Duration {
	if r := c.deadline.Sub(c.now()); r > 0 {
		return r
	}
	return 0
}

// CurrentBand classifies the remaining time right now.
func (c *Countdown) CurrentBand() Band {
	return c.band(c.Remaining())
}

func (c *Countdown) band(remaining time.Duration) Band {
	switch {
	case remaining <= c.critical:
		return BandCritical
	case remaining <= c.warning:
		return BandWarning
	default:
		return BandNormal
	}
}
