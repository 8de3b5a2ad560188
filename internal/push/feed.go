// SPDX-License-Identifier: MIT

// Package push delivers gateway notifications to reconciliation
// sessions. Delivery is at-least-once and unordered relative to the
// poll channel.
package push

import (
	"context"

	"github.com/kinoseat/paywatch/internal/status"
)

// Handler receives one push event. Handlers must not block indefinitely.
type Handler func(status.Event)

// Unsubscribe removes a subscription. It does not return until any
// in-flight delivery to the handler has completed, so the handler is
// never invoked after Unsubscribe returns.
type Unsubscribe func()

// ConnState describes the feed's connection to its transport. It is
// observability input only and never gates reconciliation.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)

// Feed is an at-least-once event feed keyed by booking id.
type Feed interface {
	// Subscribe registers interest in events for one booking.
	Subscribe(bookingID string, h Handler) (Unsubscribe, error)

	// Publish delivers an event to all subscribers of the booking.
	Publish(ctx context.Context, bookingID string, ev status.Event) error

	// Close releases the feed's resources.
	Close() error
}
