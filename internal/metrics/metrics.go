// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the
// reconciliation core and its HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle
	sessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_sessions_opened_total",
		Help: "Total number of reconciliation sessions opened",
	})

	sessionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_sessions_resolved_total",
		Help: "Sessions resolved by terminal outcome",
	}, []string{"outcome"}) // outcome=confirmed|failed|expired

	sessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_sessions_closed_total",
		Help: "Sessions closed by the caller before resolution",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paywatch_sessions_active",
		Help: "Number of reconciliation sessions currently running",
	})

	resolutionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paywatch_session_resolution_seconds",
		Help:    "Time from session open to terminal resolution",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"outcome"})

	// Poll channel
	pollAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_poll_attempts_total",
		Help: "Gateway status poll attempts by outcome",
	}, []string{"outcome"}) // outcome=success|error

	pollRetriesExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_poll_retries_exhausted_total",
		Help: "Poll loops stopped after exhausting the retry budget",
	})

	// Push channel
	pushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_push_events_total",
		Help: "Push feed events delivered by reported status",
	}, []string{"status"})

	pushFeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paywatch_push_feed_state",
		Help: "Push feed connection state (1 for the active state, 0 otherwise)",
	}, []string{"state"}) // state=connected|disconnected|error

	// Reconciler
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_events_applied_total",
		Help: "Status events evaluated by the reconciler, by source and status",
	}, []string{"source", "status"})

	duplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_duplicate_events_total",
		Help: "Duplicate status events absorbed without effect",
	})

	lateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_late_events_total",
		Help: "Events discarded because the session had already resolved",
	})

	amountMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paywatch_amount_mismatches_total",
		Help: "Success reports rejected because the amount did not match",
	})

	// Countdown
	urgencyTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_urgency_transitions_total",
		Help: "Countdown urgency band transitions",
	}, []string{"band"}) // band=normal|warning|critical

	// Webhook surface
	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paywatch_webhook_deliveries_total",
		Help: "Gateway webhook deliveries by outcome",
	}, []string{"outcome"}) // outcome=accepted|rejected
)

// RecordSessionOpened tracks a newly opened session.
func RecordSessionOpened() {
	sessionsOpened.Inc()
	sessionsActive.Inc()
}

// RecordSessionResolved tracks a terminal resolution and its latency.
func RecordSessionResolved(outcome string, seconds float64) {
	sessionsResolved.WithLabelValues(outcome).Inc()
	resolutionSeconds.WithLabelValues(outcome).Observe(seconds)
	sessionsActive.Dec()
}

// RecordSessionClosed tracks an external close before resolution.
func RecordSessionClosed() {
	sessionsClosed.Inc()
	sessionsActive.Dec()
}

// RecordPollAttempt tracks one gateway poll attempt.
func RecordPollAttempt(ok bool) {
	if ok {
		pollAttempts.WithLabelValues("success").Inc()
		return
	}
	pollAttempts.WithLabelValues("error").Inc()
}

// RecordPollRetriesExhausted tracks a poll loop giving up.
func RecordPollRetriesExhausted() {
	pollRetriesExhausted.Inc()
}

// RecordPushEvent tracks one delivered push event.
func RecordPushEvent(st string) {
	pushEvents.WithLabelValues(st).Inc()
}

// SetPushFeedState records the push feed connection state.
func SetPushFeedState(state string) {
	for _, s := range []string{"connected", "disconnected", "error"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		pushFeedState.WithLabelValues(s).Set(v)
	}
}

// RecordEventApplied tracks an event evaluated by the reconciler.
func RecordEventApplied(source, st string) {
	eventsApplied.WithLabelValues(source, st).Inc()
}

// RecordDuplicateEvent tracks an absorbed duplicate.
func RecordDuplicateEvent() {
	duplicateEvents.Inc()
}

// RecordLateEvent tracks an event that arrived after resolution.
func RecordLateEvent() {
	lateEvents.Inc()
}

// RecordAmountMismatch tracks a rejected success report.
func RecordAmountMismatch() {
	amountMismatches.Inc()
}

// RecordUrgencyTransition tracks a countdown band change.
func RecordUrgencyTransition(band string) {
	urgencyTransitions.WithLabelValues(band).Inc()
}

// RecordWebhookDelivery tracks a gateway webhook delivery.
func RecordWebhookDelivery(accepted bool) {
	if accepted {
		webhookDeliveries.WithLabelValues("accepted").Inc()
		return
	}
	webhookDeliveries.WithLabelValues("rejected").Inc()
}
