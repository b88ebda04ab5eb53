package invoicing

import (
	"strings"
)

// ExchangeStatus is the lifecycle state of a document as reported by the
// external electronic-invoicing interchange system.
type ExchangeStatus string

const (
	ExchangeStatusNotSent  ExchangeStatus = "NOT_SENT"
	ExchangeStatusSent     ExchangeStatus = "SENT"
	ExchangeStatusRejected ExchangeStatus = "REJECTED"
)

// IsValid checks if the status is a valid ExchangeStatus
func (s ExchangeStatus) IsValid() bool {
	switch s {
	case ExchangeStatusNotSent, ExchangeStatusSent, ExchangeStatusRejected:
		return true
	}
	return false
}

// String returns the string representation of ExchangeStatus
func (s ExchangeStatus) String() string {
	return string(s)
}

// NotificationOutcome is the verdict carried by an exchange notification
type NotificationOutcome string

const (
	NotificationAccepted NotificationOutcome = "ACCEPTED"
	NotificationRejected NotificationOutcome = "REJECTED"
)

// NotificationError is one error entry attached to a rejection
type NotificationError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// ExchangeNotification is the effect-bearing content of an exchange event.
// It is transient: only its effect on a document's exchange status persists.
type ExchangeNotification struct {
	ExternalID string
	Outcome    NotificationOutcome
	Errors     []NotificationError
}

// RejectionFallbackMessage is recorded when a rejection arrives with an
// empty error list.
const RejectionFallbackMessage = "Rejected by the exchange system with no further detail"

// ErrorMessage concatenates the notification's error entries, preferring each
// entry's suggestion over its description, pipe-delimited in event order.
func (n ExchangeNotification) ErrorMessage() string {
	if len(n.Errors) == 0 {
		return RejectionFallbackMessage
	}
	parts := make([]string, 0, len(n.Errors))
	for _, e := range n.Errors {
		if e.Suggestion != "" {
			parts = append(parts, e.Suggestion)
		} else {
			parts = append(parts, e.Description)
		}
	}
	return strings.Join(parts, "|")
}

// ExchangeTransition is the outcome of feeding one notification into the
// exchange state machine.
type ExchangeTransition struct {
	// Changed is false for duplicate replays and late, superseded events
	Changed bool
	Next    ExchangeStatus
	// Error is the message to record; nil means clear any recorded error
	Error *string
}

// transitionRow maps a notification outcome to its effect for one current status
type transitionRow map[NotificationOutcome]func(n ExchangeNotification) ExchangeTransition

func accept(ExchangeNotification) ExchangeTransition {
	return ExchangeTransition{Changed: true, Next: ExchangeStatusSent, Error: nil}
}

func reject(n ExchangeNotification) ExchangeTransition {
	msg := n.ErrorMessage()
	return ExchangeTransition{Changed: true, Next: ExchangeStatusRejected, Error: &msg}
}

func ignore(current ExchangeStatus) func(ExchangeNotification) ExchangeTransition {
	return func(ExchangeNotification) ExchangeTransition {
		return ExchangeTransition{Changed: false, Next: current}
	}
}

// exchangeTransitions is the full transition table. Delivery order is not
// guaranteed, so SENT absorbs late rejections, while REJECTED still accepts a
// later success: the sender may resubmit after correcting rejected content.
var exchangeTransitions = map[ExchangeStatus]transitionRow{
	ExchangeStatusNotSent: {
		NotificationAccepted: accept,
		NotificationRejected: reject,
	},
	ExchangeStatusSent: {
		NotificationAccepted: ignore(ExchangeStatusSent),
		NotificationRejected: ignore(ExchangeStatusSent),
	},
	ExchangeStatusRejected: {
		NotificationAccepted: accept,
		NotificationRejected: reject,
	},
}

// ApplyExchangeNotification runs the state machine for one notification
// against the current status. It is pure; callers persist the transition
// under the entity's optimistic lock.
func ApplyExchangeNotification(current ExchangeStatus, n ExchangeNotification) ExchangeTransition {
	row, ok := exchangeTransitions[current]
	if !ok {
		// Unknown stored status: treat as NOT_SENT rather than dropping
		// the event, so a corrupted row can still converge.
		row = exchangeTransitions[ExchangeStatusNotSent]
	}
	fn, ok := row[n.Outcome]
	if !ok {
		return ExchangeTransition{Changed: false, Next: current}
	}
	return fn(n)
}
