package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fatturino/backend/internal/infrastructure/telemetry"
)

func newTestBusinessMetrics(t *testing.T) *telemetry.BusinessMetrics {
	t.Helper()
	meter := noop.NewMeterProvider().Meter("test")
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:  meter,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return bm
}

func TestNewBusinessMetrics_NilMeter(t *testing.T) {
	bm, err := telemetry.NewBusinessMetrics(telemetry.BusinessMetricsConfig{
		Meter:  nil,
		Logger: zap.NewNop(),
	})

	require.Error(t, err)
	assert.Nil(t, bm)
	assert.Equal(t, "NewBusinessMetrics: meter cannot be nil", err.Error())
}

func TestBusinessMetrics_RecordDocumentIssued(t *testing.T) {
	bm := newTestBusinessMetrics(t)
	ctx := context.Background()
	ownerID := uuid.New()

	// Should not panic
	bm.RecordDocumentIssued(ctx, ownerID, telemetry.DocumentTypeInvoice, "GS")
	bm.RecordDocumentIssued(ctx, ownerID, telemetry.DocumentTypeCreditNote, "FORENSE")
	bm.RecordDocumentAmount(ctx, ownerID, telemetry.DocumentTypeInvoice, decimal.NewFromFloat(199.99))
}

func TestBusinessMetrics_RecordNotification(t *testing.T) {
	bm := newTestBusinessMetrics(t)
	ctx := context.Background()

	// Should not panic
	bm.RecordNotification(ctx, "ACCEPTED", telemetry.NotificationResultApplied)
	bm.RecordNotification(ctx, "REJECTED", telemetry.NotificationResultIgnored)
	bm.RecordNotificationConflict(ctx, telemetry.DocumentTypeInvoice)
}

func TestBusinessMetrics_RecordLedgerRecompute(t *testing.T) {
	bm := newTestBusinessMetrics(t)

	// Should not panic
	bm.RecordLedgerRecompute(context.Background(), uuid.New(), 2024, 25*time.Millisecond)
	bm.RecordInvoiceSettled(context.Background(), uuid.New(), "BANK_TRANSFER")
}
