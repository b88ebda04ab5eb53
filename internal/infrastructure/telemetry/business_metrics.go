package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// DocumentType labels which fiscal document a metric refers to.
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "invoice"
	DocumentTypeCreditNote DocumentType = "credit_note"
)

// NotificationResult labels how an exchange notification was handled.
type NotificationResult string

const (
	NotificationResultApplied   NotificationResult = "applied"
	NotificationResultIgnored   NotificationResult = "ignored"
	NotificationResultDuplicate NotificationResult = "duplicate"
	NotificationResultUnmatched NotificationResult = "unmatched"
)

// BusinessMetrics tracks document issuance, settlement, exchange notification
// processing and ledger recomputation.
type BusinessMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	documentIssuedTotal   *Counter
	documentAmountTotal   *Counter
	invoiceSettledTotal   *Counter
	notificationTotal     *Counter
	notificationConflicts *Counter
	ledgerRecomputeTotal  *Counter
	ledgerRecomputeTime   *Histogram
}

// BusinessMetricsConfig holds configuration for business metrics.
type BusinessMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewBusinessMetrics creates a new BusinessMetrics instance.
func NewBusinessMetrics(cfg BusinessMetricsConfig) (*BusinessMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bm := &BusinessMetrics{
		meter:  cfg.Meter,
		logger: logger,
	}

	var err error

	bm.documentIssuedTotal, err = NewCounter(
		cfg.Meter,
		"billing_document_issued_total",
		"Total number of fiscal documents issued",
		"{documents}",
	)
	if err != nil {
		return nil, err
	}

	bm.documentAmountTotal, err = NewCounter(
		cfg.Meter,
		"billing_document_amount_total",
		"Total issued document amount in cents",
		"{cents}",
	)
	if err != nil {
		return nil, err
	}

	bm.invoiceSettledTotal, err = NewCounter(
		cfg.Meter,
		"billing_invoice_settled_total",
		"Total number of invoices settled",
		"{invoices}",
	)
	if err != nil {
		return nil, err
	}

	bm.notificationTotal, err = NewCounter(
		cfg.Meter,
		"billing_exchange_notification_total",
		"Total number of exchange notifications processed",
		"{notifications}",
	)
	if err != nil {
		return nil, err
	}

	bm.notificationConflicts, err = NewCounter(
		cfg.Meter,
		"billing_exchange_notification_conflicts_total",
		"Total number of optimistic-lock conflicts while applying notifications",
		"{conflicts}",
	)
	if err != nil {
		return nil, err
	}

	bm.ledgerRecomputeTotal, err = NewCounter(
		cfg.Meter,
		"billing_ledger_recompute_total",
		"Total number of yearly ledger recomputations",
		"{recomputes}",
	)
	if err != nil {
		return nil, err
	}

	bm.ledgerRecomputeTime, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "billing_ledger_recompute_duration_seconds",
		Description: "Duration of yearly ledger recomputation",
		Unit:        "s",
		Boundaries:  RecomputeDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	return bm, nil
}

// RecordDocumentIssued records the issuance of an invoice or credit note.
func (bm *BusinessMetrics) RecordDocumentIssued(ctx context.Context, ownerID uuid.UUID, docType DocumentType, fund string) {
	bm.documentIssuedTotal.Inc(ctx,
		AttrOwnerID.String(ownerID.String()),
		AttrDocumentType.String(string(docType)),
		AttrFund.String(fund),
	)
}

// RecordDocumentAmount records the total amount of an issued document, in cents.
func (bm *BusinessMetrics) RecordDocumentAmount(ctx context.Context, ownerID uuid.UUID, docType DocumentType, amount decimal.Decimal) {
	cents := amount.Mul(decimal.NewFromInt(100)).IntPart()
	bm.documentAmountTotal.Add(ctx, cents,
		AttrOwnerID.String(ownerID.String()),
		AttrDocumentType.String(string(docType)),
	)
}

// RecordInvoiceSettled records a settlement event.
func (bm *BusinessMetrics) RecordInvoiceSettled(ctx context.Context, ownerID uuid.UUID, paymentMethod string) {
	bm.invoiceSettledTotal.Inc(ctx,
		AttrOwnerID.String(ownerID.String()),
		AttrPaymentMethod.String(paymentMethod),
	)
}

// RecordNotification records one processed exchange notification and how it
// was resolved.
func (bm *BusinessMetrics) RecordNotification(ctx context.Context, outcome string, result NotificationResult) {
	bm.notificationTotal.Inc(ctx,
		AttrOutcome.String(outcome),
		AttrApplied.String(string(result)),
	)
}

// RecordNotificationConflict records an optimistic-lock retry while applying
// a notification.
func (bm *BusinessMetrics) RecordNotificationConflict(ctx context.Context, docType DocumentType) {
	bm.notificationConflicts.Inc(ctx,
		AttrDocumentType.String(string(docType)),
	)
}

// RecordLedgerRecompute records one yearly ledger recomputation and its duration.
func (bm *BusinessMetrics) RecordLedgerRecompute(ctx context.Context, ownerID uuid.UUID, year int, elapsed time.Duration) {
	bm.ledgerRecomputeTotal.Inc(ctx,
		AttrOwnerID.String(ownerID.String()),
		AttrYear.Int(year),
	)
	bm.ledgerRecomputeTime.RecordDuration(ctx, elapsed,
		AttrYear.Int(year),
	)
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewBusinessMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
