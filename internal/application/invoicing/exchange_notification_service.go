package invoicing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
)

// Entity labels for notification results
const (
	EntityInvoice    = "invoice"
	EntityCreditNote = "credit_note"
	EntityNone       = "none"
)

// saveRetries bounds the optimistic-lock retry loop. Two events for the same
// external id may interleave; the loser refetches and reapplies.
const saveRetries = 3

// NotificationResult reports what one notification did
type NotificationResult struct {
	ExternalID string
	Outcome    invoicing.NotificationOutcome
	Entity     string
	// Applied is false for duplicates, superseded events and unknown ids
	Applied bool
	Dropped bool
	Reason  string
	// Conflicts counts the optimistic-lock collisions absorbed while
	// applying this notification
	Conflicts int
}

// ExchangeNotificationService reconciles locally-held exchange status
// against the interchange system's notifications. Events arrive at least
// once and unordered; the domain state machine absorbs replays and late
// arrivals, and the per-entity optimistic lock serializes concurrent writes
// for the same external id.
type ExchangeNotificationService struct {
	invoiceRepo invoicing.InvoiceRepository
	noteRepo    invoicing.CreditNoteRepository
	notifier    AlertNotifier
	idempotency shared.IdempotencyStore
	idemConfig  shared.IdempotencyConfig
	logger      *zap.Logger
}

// ExchangeNotificationServiceConfig holds construction parameters
type ExchangeNotificationServiceConfig struct {
	InvoiceRepo invoicing.InvoiceRepository
	NoteRepo    invoicing.CreditNoteRepository
	Notifier    AlertNotifier
	// Idempotency short-circuits byte-identical redeliveries; the state
	// machine stays correct without it, so it is optional.
	Idempotency       shared.IdempotencyStore
	IdempotencyConfig shared.IdempotencyConfig
	Logger            *zap.Logger
}

// NewExchangeNotificationService creates a new ExchangeNotificationService
func NewExchangeNotificationService(cfg ExchangeNotificationServiceConfig) *ExchangeNotificationService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogAlertNotifier(logger)
	}
	idemConfig := cfg.IdempotencyConfig
	if idemConfig.TTL == 0 {
		idemConfig = shared.DefaultIdempotencyConfig()
	}
	return &ExchangeNotificationService{
		invoiceRepo: cfg.InvoiceRepo,
		noteRepo:    cfg.NoteRepo,
		notifier:    notifier,
		idempotency: cfg.Idempotency,
		idemConfig:  idemConfig,
		logger:      logger,
	}
}

// ProcessNotification parses and applies one webhook payload. Malformed
// payloads and unknown external ids are acknowledged and dropped: the
// exchange may notify about documents this system never created, and a
// retry cannot fix a broken payload.
func (s *ExchangeNotificationService) ProcessNotification(ctx context.Context, payload []byte) (*NotificationResult, error) {
	notification, err := ParseExchangeNotification(payload)
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			s.logger.Warn("Dropping malformed exchange notification", zap.Error(err))
			return &NotificationResult{Entity: EntityNone, Dropped: true, Reason: err.Error()}, nil
		}
		return nil, err
	}

	result := s.apply(ctx, notification)

	s.alert(ctx, notification, result)

	return result, nil
}

func (s *ExchangeNotificationService) apply(ctx context.Context, n invoicing.ExchangeNotification) *NotificationResult {
	result := &NotificationResult{
		ExternalID: n.ExternalID,
		Outcome:    n.Outcome,
		Entity:     EntityNone,
	}

	if skip := s.alreadyProcessed(ctx, n); skip {
		result.Reason = "duplicate delivery"
		return result
	}

	// External-id spaces are disjoint in practice, but exclusivity is not
	// assumed: invoices are checked first, then credit notes.
	applied, found, conflicts, err := s.applyToInvoice(ctx, n)
	result.Conflicts += conflicts
	if err != nil {
		s.logger.Error("Failed to apply notification to invoice",
			zap.String("external_id", n.ExternalID), zap.Error(err))
		result.Reason = err.Error()
		return result
	}
	if found {
		result.Entity = EntityInvoice
		result.Applied = applied
		return result
	}

	applied, found, conflicts, err = s.applyToCreditNote(ctx, n)
	result.Conflicts += conflicts
	if err != nil {
		s.logger.Error("Failed to apply notification to credit note",
			zap.String("external_id", n.ExternalID), zap.Error(err))
		result.Reason = err.Error()
		return result
	}
	if found {
		result.Entity = EntityCreditNote
		result.Applied = applied
		return result
	}

	// Not an error: likely test traffic or a document created elsewhere
	s.logger.Info("Exchange notification matches no local document",
		zap.String("external_id", n.ExternalID),
		zap.String("outcome", string(n.Outcome)))
	result.Dropped = true
	result.Reason = "unknown external id"
	return result
}

func (s *ExchangeNotificationService) applyToInvoice(ctx context.Context, n invoicing.ExchangeNotification) (applied, found bool, conflicts int, err error) {
	for attempt := 0; attempt < saveRetries; attempt++ {
		invoice, err := s.invoiceRepo.FindByExchangeID(ctx, n.ExternalID)
		if err != nil {
			return false, false, conflicts, err
		}
		if invoice == nil {
			return false, false, conflicts, nil
		}

		transition := invoicing.ApplyExchangeNotification(invoice.ExchangeStatus, n)
		expected := invoice.Version
		if !invoice.ApplyExchangeTransition(transition) {
			return false, true, conflicts, nil
		}

		err = s.invoiceRepo.SaveVersioned(ctx, invoice, expected)
		if err == nil {
			return true, true, conflicts, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return false, true, conflicts, err
		}
		// Lost the race; refetch and rerun the state machine
		conflicts++
	}
	return false, true, conflicts, fmt.Errorf("gave up after %d optimistic lock conflicts for %s", saveRetries, n.ExternalID)
}

func (s *ExchangeNotificationService) applyToCreditNote(ctx context.Context, n invoicing.ExchangeNotification) (applied, found bool, conflicts int, err error) {
	for attempt := 0; attempt < saveRetries; attempt++ {
		note, err := s.noteRepo.FindByExchangeID(ctx, n.ExternalID)
		if err != nil {
			return false, false, conflicts, err
		}
		if note == nil {
			return false, false, conflicts, nil
		}

		transition := invoicing.ApplyExchangeNotification(note.ExchangeStatus, n)
		expected := note.Version
		if !note.ApplyExchangeTransition(transition) {
			return false, true, conflicts, nil
		}

		err = s.noteRepo.SaveVersioned(ctx, note, expected)
		if err == nil {
			return true, true, conflicts, nil
		}
		if !errors.Is(err, shared.ErrConcurrencyConflict) {
			return false, true, conflicts, err
		}
		conflicts++
	}
	return false, true, conflicts, fmt.Errorf("gave up after %d optimistic lock conflicts for %s", saveRetries, n.ExternalID)
}

// notificationDigest fingerprints the full effect-bearing content of a
// notification. Two rejections for the same id with different error lists
// hash differently: only byte-identical redeliveries may be skipped, since a
// new error list must still reach the document's exchangeError.
func notificationDigest(n invoicing.ExchangeNotification) string {
	h := sha256.New()
	h.Write([]byte(n.ExternalID))
	h.Write([]byte{0})
	h.Write([]byte(n.Outcome))
	for _, e := range n.Errors {
		h.Write([]byte{0})
		h.Write([]byte(e.Code))
		h.Write([]byte{0})
		h.Write([]byte(e.Description))
		h.Write([]byte{0})
		h.Write([]byte(e.Suggestion))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// alreadyProcessed consults the optional idempotency store. Store failures
// degrade to processing the event: the state machine tolerates replays.
func (s *ExchangeNotificationService) alreadyProcessed(ctx context.Context, n invoicing.ExchangeNotification) bool {
	if s.idempotency == nil || !s.idemConfig.Enabled {
		return false
	}
	key := fmt.Sprintf("exchange:%s:%s", n.ExternalID, notificationDigest(n))
	fresh, err := s.idempotency.MarkProcessed(ctx, key, s.idemConfig.TTL)
	if err != nil {
		s.logger.Warn("Idempotency store unavailable, processing event anyway",
			zap.String("external_id", n.ExternalID), zap.Error(err))
		return false
	}
	return !fresh
}

// alert feeds the observability side channel. Fire-and-forget: a panicking
// or slow notifier must never affect the transition that already happened.
func (s *ExchangeNotificationService) alert(ctx context.Context, n invoicing.ExchangeNotification, result *NotificationResult) {
	alert := ExchangeAlert{
		ExternalID: n.ExternalID,
		Outcome:    n.Outcome,
		Entity:     result.Entity,
		Applied:    result.Applied,
	}
	if n.Outcome == invoicing.NotificationRejected {
		alert.Error = n.ErrorMessage()
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Warn("Alert notifier panicked", zap.Any("panic", r))
			}
		}()
		s.notifier.NotifyExchangeOutcome(context.WithoutCancel(ctx), alert)
	}()
}
