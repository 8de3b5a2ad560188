// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kinoseat/paywatch/internal/push"
	"github.com/kinoseat/paywatch/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder counts callback invocations for exactly-once assertions.
type recorder struct {
	confirmed atomic.Int32
	failed    atomic.Int32
	timedOut  atomic.Int32

	lastEvent  atomic.Pointer[status.Event]
	lastReason atomic.Pointer[string]
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnConfirmed: func(ev status.Event) {
			r.confirmed.Add(1)
			r.lastEvent.Store(&ev)
		},
		OnFailed: func(reason string) {
			r.failed.Add(1)
			r.lastReason.Store(&reason)
		},
		OnTimeout: func() {
			r.timedOut.Add(1)
		},
	}
}

func (r *recorder) total() int32 {
	return r.confirmed.Load() + r.failed.Load() + r.timedOut.Load()
}

func pendingQuery(_ context.Context, id string) (status.Event, error) {
	return status.Event{TransactionID: id, Status: status.StatusPending}, nil
}

func testParams(deadline time.Duration) Params {
	return Params{
		BookingID:      "bk-1",
		TransactionID:  "tx-1",
		ExpectedAmount: 100000,
		Deadline:       time.Now().Add(deadline),
		PollInterval:   20 * time.Millisecond,
		MaxPollRetries: 3,
		TickInterval:   10 * time.Millisecond,
	}
}

func TestSession_ConfirmedViaPushWhilePolling(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	var polls atomic.Int32
	deps := Deps{
		Query: func(ctx context.Context, id string) (status.Event, error) {
			polls.Add(1)
			return pendingQuery(ctx, id)
		},
		Feed: feed,
	}

	var rec recorder
	s, err := Open(testParams(5*time.Second), deps, rec.callbacks())
	require.NoError(t, err)
	defer s.Close()

	// Let the poll channel observe pending at least once.
	require.Eventually(t, func() bool {
		return polls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Publish(context.Background(), "bk-1", status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
	}))

	require.Eventually(t, func() bool {
		return rec.confirmed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	ev := rec.lastEvent.Load()
	require.NotNil(t, ev)
	assert.Equal(t, "tx-1", ev.TransactionID)
	assert.Equal(t, int64(100000), ev.Amount)

	// No further poll occurs once confirmed.
	s.Close()
	seen := polls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, seen, polls.Load())

	assert.Equal(t, int32(1), rec.total(), "exactly one callback")
	assert.Equal(t, status.OutcomeConfirmed, s.Resolution().Outcome)
}

func TestSession_AmountMismatchFails(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	var rec recorder
	s, err := Open(testParams(5*time.Second), Deps{Query: pendingQuery, Feed: feed}, rec.callbacks())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, feed.Publish(context.Background(), "bk-1", status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        99999, // wrong
	}))

	require.Eventually(t, func() bool {
		return rec.failed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	reason := rec.lastReason.Load()
	require.NotNil(t, reason)
	assert.Equal(t, "amount mismatch", *reason)
	assert.Equal(t, int32(1), rec.total())
	assert.Equal(t, int32(0), rec.confirmed.Load(), "wrong amount is never confirmed")
}

func TestSession_PollDeliversCancellation(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	deps := Deps{
		Query: func(_ context.Context, id string) (status.Event, error) {
			return status.Event{
				TransactionID: id,
				Status:        status.StatusCancelled,
				Reason:        "declined by issuer",
			}, nil
		},
		Feed: feed,
	}

	var rec recorder
	s, err := Open(testParams(5*time.Second), deps, rec.callbacks())
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		return rec.failed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	reason := rec.lastReason.Load()
	require.NotNil(t, reason)
	assert.Equal(t, "declined by issuer", *reason)
	assert.Equal(t, int32(1), rec.total())
}

func TestSession_TimeoutFiresExactlyOnce(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	var rec recorder
	params := testParams(150 * time.Millisecond)
	params.PollInterval = time.Minute // poll never reports in time
	s, err := Open(params, Deps{Query: pendingQuery, Feed: feed}, rec.callbacks())
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		return rec.timedOut.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), rec.timedOut.Load())
	assert.Equal(t, int32(1), rec.total())
	assert.Equal(t, status.OutcomeExpired, s.Resolution().Outcome)
}

func TestSession_CloseBeforeDeadlinePreventsCallbacks(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	var rec recorder
	params := testParams(200 * time.Millisecond)
	s, err := Open(params, Deps{Query: pendingQuery, Feed: feed}, rec.callbacks())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	s.Close()

	// Wait past the original deadline: OnTimeout must never fire.
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(0), rec.total())
	assert.Equal(t, status.OutcomeUnresolved, s.Resolution().Outcome)

	// Close is idempotent.
	s.Close()
}

func TestSession_RetryExhaustionResolvesFailed(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	var calls atomic.Int32
	deps := Deps{
		Query: func(context.Context, string) (status.Event, error) {
			calls.Add(1)
			return status.Event{}, errors.New("connection refused")
		},
		Feed: feed,
	}

	var rec recorder
	params := testParams(5 * time.Second)
	params.PollInterval = 10 * time.Millisecond
	s, err := Open(params, deps, rec.callbacks())
	require.NoError(t, err)
	defer s.Close()

	require.Eventually(t, func() bool {
		return rec.failed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	reason := rec.lastReason.Load()
	require.NotNil(t, reason)
	assert.Contains(t, *reason, "gateway unreachable")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no attempt beyond the retry budget")
	assert.Equal(t, int32(1), rec.total())
}

func TestSession_ConcurrentTerminalEventsCallbackOnce(t *testing.T) {
	// Push success and poll cancellation race; whichever the session
	// serializes first wins and exactly one callback fires.
	for i := 0; i < 20; i++ {
		feed := push.NewMemoryFeed()

		deps := Deps{
			Query: func(_ context.Context, id string) (status.Event, error) {
				return status.Event{
					TransactionID: id,
					Status:        status.StatusCancelled,
					Reason:        "declined",
				}, nil
			},
			Feed: feed,
		}

		var rec recorder
		params := testParams(5 * time.Second)
		params.PollInterval = 5 * time.Millisecond
		s, err := Open(params, deps, rec.callbacks())
		require.NoError(t, err)

		go func() {
			_ = feed.Publish(context.Background(), "bk-1", status.Event{
				TransactionID: "tx-1",
				Status:        status.StatusSuccess,
				Amount:        100000,
			})
		}()

		require.Eventually(t, func() bool {
			return rec.total() >= 1
		}, time.Second, time.Millisecond)

		s.Close()
		_ = feed.Close()

		assert.Equal(t, int32(1), rec.total(), "exactly one callback under either ordering")
		assert.True(t, s.Resolution().Outcome.Terminal())
	}
}

func TestSession_DuplicatePushDeliveriesAbsorbed(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()

	var rec recorder
	s, err := Open(testParams(5*time.Second), Deps{Query: pendingQuery, Feed: feed}, rec.callbacks())
	require.NoError(t, err)
	defer s.Close()

	ev := status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, feed.Publish(context.Background(), "bk-1", ev))
	}

	require.Eventually(t, func() bool {
		return rec.confirmed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), rec.total())
}

func TestSession_OpenValidation(t *testing.T) {
	feed := push.NewMemoryFeed()
	defer func() { _ = feed.Close() }()
	deps := Deps{Query: pendingQuery, Feed: feed}

	cases := []struct {
		name   string
		mutate func(*Params)
		want   error
	}{
		{"missing booking id", func(p *Params) { p.BookingID = "" }, ErrNoBookingID},
		{"zero amount", func(p *Params) { p.ExpectedAmount = 0 }, ErrInvalidAmount},
		{"negative amount", func(p *Params) { p.ExpectedAmount = -5 }, ErrInvalidAmount},
		{"zero deadline", func(p *Params) { p.Deadline = time.Time{} }, ErrNoDeadline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams(time.Minute)
			tc.mutate(&params)
			_, err := Open(params, deps, Callbacks{})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
