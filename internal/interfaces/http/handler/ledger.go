package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	invoicingapp "github.com/fatturino/backend/internal/application/invoicing"
	"github.com/fatturino/backend/internal/infrastructure/telemetry"
)

// LedgerHandler handles yearly ledger API endpoints
type LedgerHandler struct {
	BaseHandler
	ledgerService *invoicingapp.LedgerService
	metrics       *telemetry.BusinessMetrics
}

// NewLedgerHandler creates a new LedgerHandler. Metrics may be nil when
// telemetry is disabled.
func NewLedgerHandler(ledgerService *invoicingapp.LedgerService, metrics *telemetry.BusinessMetrics) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
		metrics:       metrics,
	}
}

// RegisterRoutes registers ledger routes
func (h *LedgerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	ledgers := rg.Group("/ledgers")
	{
		ledgers.GET("/:year", h.Get)
		ledgers.POST("/:year/recompute", h.Recompute)
		ledgers.POST("/:year/initialize", h.Initialize)
	}
}

func (h *LedgerHandler) parseYear(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 2000 || year > 2100 {
		h.BadRequest(c, "Invalid year")
		return 0, false
	}
	return year, true
}

// Get retrieves the owner's yearly ledger snapshot
func (h *LedgerHandler) Get(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	year, ok := h.parseYear(c)
	if !ok {
		return
	}

	ledger, err := h.ledgerService.GetLedger(c.Request.Context(), ownerID, year)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ledger)
}

// Recompute rebuilds the yearly ledger from the settled documents of
// the year and returns the fresh snapshot
func (h *LedgerHandler) Recompute(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	year, ok := h.parseYear(c)
	if !ok {
		return
	}

	start := time.Now()
	ledger, err := h.ledgerService.RecomputeYear(c.Request.Context(), ownerID, year)
	if err == nil && h.metrics != nil {
		h.metrics.RecordLedgerRecompute(c.Request.Context(), ownerID, year, time.Since(start))
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, ledger)
}

// Initialize creates an empty ledger for a year the owner has no
// documents in yet
func (h *LedgerHandler) Initialize(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	year, ok := h.parseYear(c)
	if !ok {
		return
	}

	ledger, err := h.ledgerService.InitializeYear(c.Request.Context(), ownerID, year)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, ledger)
}
