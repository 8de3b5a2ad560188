// SPDX-License-Identifier: MIT

package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoseat/paywatch/internal/status"
)

type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

func TestReconciler_SuccessMatchingAmountConfirms(t *testing.T) {
	r := New("bk-1", 100000)

	res, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
		Source:        status.SourcePush,
	})

	require.True(t, resolved)
	assert.Equal(t, status.OutcomeConfirmed, res.Outcome)
	require.NotNil(t, res.Event)
	assert.Equal(t, "tx-1", res.Event.TransactionID)
}

func TestReconciler_SuccessWrongAmountFails(t *testing.T) {
	r := New("bk-1", 100000)

	res, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        99999,
		Source:        status.SourcePoll,
	})

	require.True(t, resolved)
	assert.Equal(t, status.OutcomeFailed, res.Outcome)
	assert.Equal(t, ReasonAmountMismatch, res.Reason)
}

func TestReconciler_CancelledFailsWithUpstreamReason(t *testing.T) {
	r := New("bk-1", 5000)

	res, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusCancelled,
		Reason:        "customer aborted at 3DS",
		Source:        status.SourcePush,
	})

	require.True(t, resolved)
	assert.Equal(t, status.OutcomeFailed, res.Outcome)
	assert.Equal(t, "customer aborted at 3DS", res.Reason)
}

func TestReconciler_FailedWithoutReasonGetsDefault(t *testing.T) {
	r := New("bk-1", 5000)

	res, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusFailed,
		Source:        status.SourcePoll,
	})

	require.True(t, resolved)
	assert.Equal(t, "payment failed", res.Reason)
}

func TestReconciler_PendingNeverResolves(t *testing.T) {
	r := New("bk-1", 5000)

	for _, src := range []status.Source{status.SourcePoll, status.SourcePush} {
		res, resolved := r.Apply(status.Event{
			TransactionID: "tx-1",
			Status:        status.StatusPending,
			Source:        src,
		})
		assert.False(t, resolved)
		assert.Equal(t, status.OutcomeUnresolved, res.Outcome)
	}
}

func TestReconciler_PendingThenCancelledFails(t *testing.T) {
	r := New("bk-1", 5000)

	_, resolved := r.Apply(status.Event{TransactionID: "tx-1", Status: status.StatusPending, Source: status.SourcePoll})
	require.False(t, resolved)

	res, resolved := r.Apply(status.Event{TransactionID: "tx-1", Status: status.StatusCancelled, Source: status.SourcePoll})
	require.True(t, resolved)
	assert.Equal(t, status.OutcomeFailed, res.Outcome)
}

func TestReconciler_DuplicateAbsorbed(t *testing.T) {
	r := New("bk-1", 5000)

	_, resolved := r.Apply(status.Event{TransactionID: "tx-1", Status: status.StatusPending, Source: status.SourcePoll})
	require.False(t, resolved)

	// Same transaction id and status again, this time from push.
	res, resolved := r.Apply(status.Event{TransactionID: "tx-1", Status: status.StatusPending, Source: status.SourcePush})
	assert.False(t, resolved)
	assert.Equal(t, status.OutcomeUnresolved, res.Outcome)
}

func TestReconciler_FirstTerminalEventWins(t *testing.T) {
	r := New("bk-1", 100000)

	res, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
		Source:        status.SourcePush,
	})
	require.True(t, resolved)
	assert.Equal(t, status.OutcomeConfirmed, res.Outcome)

	// A later cancellation from the other channel is a no-op.
	res, resolved = r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusCancelled,
		Source:        status.SourcePoll,
	})
	assert.False(t, resolved)
	assert.Equal(t, status.OutcomeConfirmed, res.Outcome)
}

func TestReconciler_ConcurrentTerminalEventsResolveOnce(t *testing.T) {
	// Push success and poll cancelled racing: whichever is serialized
	// first wins, the other must be a no-op, under either ordering.
	for i := 0; i < 50; i++ {
		r := New("bk-1", 100000)

		var wg sync.WaitGroup
		results := make(chan bool, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			_, resolved := r.Apply(status.Event{
				TransactionID: "tx-1",
				Status:        status.StatusSuccess,
				Amount:        100000,
				Source:        status.SourcePush,
			})
			results <- resolved
		}()
		go func() {
			defer wg.Done()
			_, resolved := r.Apply(status.Event{
				TransactionID: "tx-1",
				Status:        status.StatusCancelled,
				Source:        status.SourcePoll,
			})
			results <- resolved
		}()
		wg.Wait()
		close(results)

		transitions := 0
		for resolved := range results {
			if resolved {
				transitions++
			}
		}
		require.Equal(t, 1, transitions, "exactly one event may cause the terminal transition")
		assert.True(t, r.Resolution().Outcome.Terminal())
	}
}

func TestReconciler_ExpireOnlyWhileUnresolved(t *testing.T) {
	r := New("bk-1", 100000)

	res, resolved := r.Expire()
	require.True(t, resolved)
	assert.Equal(t, status.OutcomeExpired, res.Outcome)
	assert.Equal(t, ReasonDeadlineExpired, res.Reason)

	// A second expiry, and any later event, are no-ops.
	_, resolved = r.Expire()
	assert.False(t, resolved)
	_, resolved = r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
		Source:        status.SourcePush,
	})
	assert.False(t, resolved)
	assert.Equal(t, status.OutcomeExpired, r.Resolution().Outcome)
}

func TestReconciler_ExpireLosesToEarlierSuccess(t *testing.T) {
	r := New("bk-1", 100000)

	_, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
		Source:        status.SourcePoll,
	})
	require.True(t, resolved)

	_, resolved = r.Expire()
	assert.False(t, resolved)
	assert.Equal(t, status.OutcomeConfirmed, r.Resolution().Outcome)
}

func TestReconciler_ResolvedAtUsesClock(t *testing.T) {
	now := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	r := New("bk-1", 100000, WithClock(&mockClock{now: now}))

	res, resolved := r.Apply(status.Event{
		TransactionID: "tx-1",
		Status:        status.StatusSuccess,
		Amount:        100000,
		Source:        status.SourcePush,
	})
	require.True(t, resolved)
	assert.Equal(t, now, res.ResolvedAt)
}
