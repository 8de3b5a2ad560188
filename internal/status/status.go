// SPDX-License-Identifier: MIT

// Package status defines the payment status observations exchanged between
// the poll and push channels and the reconciler.
package status

import (
	"fmt"
	"time"
)

// Status is the payment state reported by the gateway for a transaction.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the four known gateway statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s can resolve a session on its own.
// Pending is the only non-terminal gateway status.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Source identifies which channel delivered an observation.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

// Event is one observation of a transaction from either channel.
// Events are immutable value objects; the same transaction id and status
// may be observed more than once (at-least-once delivery on the push
// channel, repeated polling on the poll channel).
type Event struct {
	TransactionID string `json:"transaction_id"`
	Status        Status `json:"status"`
	// Amount is the reported amount in currency minor units. Only
	// meaningful for success events.
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
	Source Source `json:"-"`
	// Seq is the arrival order assigned by the reconciler, for logs only.
	Seq uint64 `json:"-"`
}

// Key identifies an event for duplicate detection: the same transaction
// reporting the same status is one observation, however often delivered.
func (e Event) Key() string {
	return e.TransactionID + "/" + string(e.Status)
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s amount=%d source=%s", e.TransactionID, e.Status, e.Amount, e.Source)
}

// Outcome is the terminal resolution of a reconciliation session.
type Outcome string

const (
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeFailed     Outcome = "failed"
	OutcomeExpired    Outcome = "expired"
)

// Terminal reports whether o is a final resolution.
func (o Outcome) Terminal() bool {
	return o != OutcomeUnresolved
}

// Resolution is the write-once result of a session.
type Resolution struct {
	Outcome    Outcome
	Reason     string
	Event      *Event // terminal event for confirmed/failed resolutions, nil for expiry
	ResolvedAt time.Time
}
