package invoicing

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatturino/backend/internal/domain/invoicing"
)

// The exchange system's webhook vocabulary is a fixed external contract and
// is retained as-is: "NS" (notifica di scarto) maps to a rejection, "RC"
// (ricevuta di consegna) to an acceptance.
const (
	notificationTypeRejected = "NS"
	notificationTypeAccepted = "RC"

	// ExpectedWebhookEvent is the only event kind this endpoint consumes
	ExpectedWebhookEvent = "customer-notification"
)

// ErrMalformedPayload marks payloads that can never be processed; the sender
// gets a 200 regardless, since retrying cannot fix a malformed payload.
var ErrMalformedPayload = errors.New("malformed exchange notification payload")

// webhookError mirrors the exchange's Errore entry
type webhookError struct {
	Codice       string `json:"Codice"`
	Descrizione  string `json:"Descrizione"`
	Suggerimento string `json:"Suggerimento"`
}

// webhookErrorList tolerates the exchange serializing a single Errore as an
// object and several as an array.
type webhookErrorList struct {
	Errore []webhookError
}

// UnmarshalJSON accepts both shapes of the Errore field
func (l *webhookErrorList) UnmarshalJSON(data []byte) error {
	var many struct {
		Errore []webhookError `json:"Errore"`
	}
	if err := json.Unmarshal(data, &many); err == nil {
		l.Errore = many.Errore
		return nil
	}
	var one struct {
		Errore webhookError `json:"Errore"`
	}
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	l.Errore = []webhookError{one.Errore}
	return nil
}

// webhookPayload is the inbound webhook envelope
type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Notification struct {
			InvoiceUUID string `json:"invoice_uuid"`
			Type        string `json:"type"`
			Message     *struct {
				ListaErrori *webhookErrorList `json:"lista_errori"`
			} `json:"message"`
		} `json:"notification"`
	} `json:"data"`
}

// ParseExchangeNotification decodes a webhook payload into the domain
// notification. Missing invoice_uuid or an unknown type is malformed, not
// retryable.
func ParseExchangeNotification(payload []byte) (invoicing.ExchangeNotification, error) {
	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return invoicing.ExchangeNotification{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Event != ExpectedWebhookEvent {
		return invoicing.ExchangeNotification{}, fmt.Errorf("%w: unexpected event %q", ErrMalformedPayload, p.Event)
	}

	n := p.Data.Notification
	if n.InvoiceUUID == "" {
		return invoicing.ExchangeNotification{}, fmt.Errorf("%w: missing invoice_uuid", ErrMalformedPayload)
	}

	var outcome invoicing.NotificationOutcome
	switch n.Type {
	case notificationTypeAccepted:
		outcome = invoicing.NotificationAccepted
	case notificationTypeRejected:
		outcome = invoicing.NotificationRejected
	default:
		return invoicing.ExchangeNotification{}, fmt.Errorf("%w: unknown notification type %q", ErrMalformedPayload, n.Type)
	}

	var errs []invoicing.NotificationError
	if n.Message != nil && n.Message.ListaErrori != nil {
		for _, e := range n.Message.ListaErrori.Errore {
			errs = append(errs, invoicing.NotificationError{
				Code:        e.Codice,
				Description: e.Descrizione,
				Suggestion:  e.Suggerimento,
			})
		}
	}

	return invoicing.ExchangeNotification{
		ExternalID: n.InvoiceUUID,
		Outcome:    outcome,
		Errors:     errs,
	}, nil
}
