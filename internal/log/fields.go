// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldBookingID     = "booking_id"
	FieldSessionID     = "session_id"
	FieldTransactionID = "transaction_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldSource    = "source"

	// State fields
	FieldStatus   = "status"
	FieldOutcome  = "outcome"
	FieldReason   = "reason"
	FieldAmount   = "amount"
	FieldAttempt  = "attempt"
	FieldDeadline = "deadline"
	FieldUrgency  = "urgency"
)
