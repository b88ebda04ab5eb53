package invoicing

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
)

// LedgerService recomputes and serves yearly ledgers. Recomputes for the
// same (owner, year) serialize on a keyed mutex: both writers would derive
// the same result from committed data, but their read-then-write sequences
// must not interleave.
type LedgerService struct {
	invoiceRepo invoicing.InvoiceRepository
	noteRepo    invoicing.CreditNoteRepository
	ledgerRepo  invoicing.LedgerRepository
	registry    *invoicing.RulesRegistry
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(
	invoiceRepo invoicing.InvoiceRepository,
	noteRepo invoicing.CreditNoteRepository,
	ledgerRepo invoicing.LedgerRepository,
	registry *invoicing.RulesRegistry,
	logger *zap.Logger,
) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		invoiceRepo: invoiceRepo,
		noteRepo:    noteRepo,
		ledgerRepo:  ledgerRepo,
		registry:    registry,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one (owner, year). Entries are never
// evicted: the map is bounded by the distinct owner-years recomputed since
// process start, a few 8-byte mutexes per active owner per fiscal year.
// Evicting while a goroutine holds the lock would break the serialization.
func (s *LedgerService) lockFor(ownerID uuid.UUID, year int) *sync.Mutex {
	key := fmt.Sprintf("%s:%d", ownerID, year)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

// RecomputeYear rebuilds the ledger for (owner, year) from scratch and
// wholly replaces the stored row. Repeated calls over unchanged data land on
// the same figures; a failure before the write leaves the prior ledger
// intact.
func (s *LedgerService) RecomputeYear(ctx context.Context, ownerID uuid.UUID, year int) (*invoicing.YearlyLedger, error) {
	lock := s.lockFor(ownerID, year)
	lock.Lock()
	defer lock.Unlock()

	invoices, err := s.invoiceRepo.ListSettled(ctx, ownerID, year)
	if err != nil {
		return nil, err
	}

	notesByInvoice := make(map[uuid.UUID][]invoicing.CreditNote, len(invoices))
	for i := range invoices {
		notes, err := s.noteRepo.ListByInvoice(ctx, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		if len(notes) > 0 {
			notesByInvoice[invoices[i].ID] = notes
		}
	}

	ledger, err := invoicing.RecomputeYearlyLedger(ownerID, year, invoices, notesByInvoice, s.registry)
	if err != nil {
		s.logger.Error("Yearly ledger recompute failed",
			zap.String("owner_id", ownerID.String()),
			zap.Int("year", year),
			zap.Error(err))
		return nil, err
	}

	if err := s.ledgerRepo.Upsert(ctx, ledger); err != nil {
		return nil, err
	}

	s.logger.Info("Yearly ledger recomputed",
		zap.String("owner_id", ownerID.String()),
		zap.Int("year", year),
		zap.String("revenue", ledger.Revenue.String()),
		zap.String("net_income", ledger.NetIncome.String()),
		zap.String("contributions_due", ledger.ContributionsDue.String()),
		zap.String("tax_due", ledger.TaxDue.String()))

	return ledger, nil
}

// GetLedger returns the stored ledger for (owner, year)
func (s *LedgerService) GetLedger(ctx context.Context, ownerID uuid.UUID, year int) (*invoicing.YearlyLedger, error) {
	ledger, err := s.ledgerRepo.FindByOwnerYear(ctx, ownerID, year)
	if err != nil {
		return nil, err
	}
	if ledger == nil {
		return nil, shared.ErrNotFound
	}
	return ledger, nil
}

// InitializeYear creates the ledger for a newly opened fiscal year by
// running a full recompute. Called when an owner first touches a year.
func (s *LedgerService) InitializeYear(ctx context.Context, ownerID uuid.UUID, year int) (*invoicing.YearlyLedger, error) {
	existing, err := s.ledgerRepo.FindByOwnerYear(ctx, ownerID, year)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.RecomputeYear(ctx, ownerID, year)
}
