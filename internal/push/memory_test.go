// SPDX-License-Identifier: MIT

package push

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinoseat/paywatch/internal/status"
)

func TestMemoryFeed_DeliversToSubscribedBookingOnly(t *testing.T) {
	f := NewMemoryFeed()
	defer func() { _ = f.Close() }()

	var got atomic.Int32
	unsub, err := f.Subscribe("bk-1", func(ev status.Event) {
		got.Add(1)
		assert.Equal(t, status.SourcePush, ev.Source)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, f.Publish(context.Background(), "bk-1", status.Event{
		TransactionID: "tx-1", Status: status.StatusPending,
	}))
	require.NoError(t, f.Publish(context.Background(), "bk-other", status.Event{
		TransactionID: "tx-2", Status: status.StatusSuccess,
	}))

	assert.Equal(t, int32(1), got.Load())
}

func TestMemoryFeed_UnsubscribeStopsDelivery(t *testing.T) {
	f := NewMemoryFeed()
	defer func() { _ = f.Close() }()

	var got atomic.Int32
	unsub, err := f.Subscribe("bk-1", func(status.Event) { got.Add(1) })
	require.NoError(t, err)

	require.NoError(t, f.Publish(context.Background(), "bk-1", status.Event{
		TransactionID: "tx-1", Status: status.StatusPending,
	}))
	unsub()
	require.NoError(t, f.Publish(context.Background(), "bk-1", status.Event{
		TransactionID: "tx-1", Status: status.StatusSuccess,
	}))

	assert.Equal(t, int32(1), got.Load())

	// Unsubscribe is idempotent.
	unsub()
}

func TestMemoryFeed_UnsubscribeSynchronizesWithPublish(t *testing.T) {
	f := NewMemoryFeed()
	defer func() { _ = f.Close() }()

	started := make(chan struct{})
	release := make(chan struct{})
	var afterUnsub atomic.Bool
	var invokedAfter atomic.Bool

	unsub, err := f.Subscribe("bk-1", func(status.Event) {
		close(started)
		<-release
		if afterUnsub.Load() {
			invokedAfter.Store(true)
		}
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = f.Publish(context.Background(), "bk-1", status.Event{
			TransactionID: "tx-1", Status: status.StatusPending,
		})
	}()

	<-started
	// Unsubscribe must block until the in-flight delivery completes.
	done := make(chan struct{})
	go func() {
		unsub()
		afterUnsub.Store(true)
		close(done)
	}()

	close(release)
	<-done
	wg.Wait()

	assert.False(t, invokedAfter.Load(), "handler must not run after Unsubscribe returns")
}

func TestMemoryFeed_CloseDropsSubscriptions(t *testing.T) {
	f := NewMemoryFeed()

	var got atomic.Int32
	_, err := f.Subscribe("bk-1", func(status.Event) { got.Add(1) })
	require.NoError(t, err)

	require.NoError(t, f.Close())
	require.NoError(t, f.Publish(context.Background(), "bk-1", status.Event{
		TransactionID: "tx-1", Status: status.StatusSuccess,
	}))
	assert.Equal(t, int32(0), got.Load())
}
