package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	invoicingapp "github.com/fatturino/backend/internal/application/invoicing"
	"github.com/fatturino/backend/internal/domain/invoicing"
	"github.com/fatturino/backend/internal/domain/shared"
	"github.com/fatturino/backend/internal/infrastructure/telemetry"
	"github.com/fatturino/backend/internal/interfaces/http/dto"
)

// CreditNoteHandler handles credit note API endpoints
type CreditNoteHandler struct {
	BaseHandler
	creditNoteService *invoicingapp.CreditNoteService
	metrics           *telemetry.BusinessMetrics
}

// NewCreditNoteHandler creates a new CreditNoteHandler. Metrics may be nil
// when telemetry is disabled.
func NewCreditNoteHandler(creditNoteService *invoicingapp.CreditNoteService, metrics *telemetry.BusinessMetrics) *CreditNoteHandler {
	return &CreditNoteHandler{
		creditNoteService: creditNoteService,
		metrics:           metrics,
	}
}

// CreateCreditNoteRequest represents a request to issue a credit note
// against an existing invoice. PartialAmount is required for PARTIAL
// mode and ignored for FULL mode.
type CreateCreditNoteRequest struct {
	InvoiceID     string  `json:"invoice_id" binding:"required,uuid"`
	Mode          string  `json:"mode" binding:"required,oneof=FULL PARTIAL"`
	PartialAmount float64 `json:"partial_amount" binding:"omitempty,gt=0"`
	IssueDate     string  `json:"issue_date" binding:"required"`
}

// RegisterRoutes registers credit note routes
func (h *CreditNoteHandler) RegisterRoutes(rg *gin.RouterGroup) {
	notes := rg.Group("/credit-notes")
	{
		notes.POST("", h.Create)
		notes.GET("", h.List)
		notes.GET("/:id", h.GetByID)
		notes.POST("/:id/sent", h.MarkSent)
	}
	rg.GET("/invoices/:id/credit-notes", h.ListForInvoice)
}

// Create issues a credit note against one of the owner's invoices
func (h *CreditNoteHandler) Create(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	var req CreateCreditNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		h.BadRequest(c, "Invalid invoice_id format")
		return
	}

	issueDate, err := time.Parse(dateLayout, req.IssueDate)
	if err != nil {
		h.BadRequest(c, "Invalid issue_date, expected YYYY-MM-DD")
		return
	}

	note, err := h.creditNoteService.CreateCreditNote(c.Request.Context(), invoicingapp.CreateCreditNoteInput{
		OwnerID:       ownerID,
		InvoiceID:     invoiceID,
		Mode:          invoicing.CreditNoteMode(req.Mode),
		PartialAmount: decimal.NewFromFloat(req.PartialAmount),
		IssueDate:     issueDate,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordDocumentIssued(c.Request.Context(), ownerID, telemetry.DocumentTypeCreditNote, string(note.Fund))
		h.metrics.RecordDocumentAmount(c.Request.Context(), ownerID, telemetry.DocumentTypeCreditNote, note.Amount)
	}

	h.Created(c, note)
}

// GetByID retrieves one credit note
func (h *CreditNoteHandler) GetByID(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	noteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid credit note ID format")
		return
	}

	note, err := h.creditNoteService.GetCreditNote(c.Request.Context(), ownerID, noteID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, note)
}

// List retrieves a paginated list of the owner's credit notes
func (h *CreditNoteHandler) List(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	req := dto.DefaultListRequest()
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	page, err := h.creditNoteService.ListCreditNotes(c.Request.Context(), ownerID, shared.Filter{
		Page:     req.Page,
		PageSize: req.PageSize,
		OrderBy:  req.OrderBy,
		OrderDir: req.OrderDir,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.SuccessWithMeta(c, page.Items, page.Total, req.Page, req.PageSize)
}

// ListForInvoice retrieves every credit note issued against an invoice,
// oldest first
func (h *CreditNoteHandler) ListForInvoice(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	invoiceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid invoice ID format")
		return
	}

	notes, err := h.creditNoteService.ListForInvoice(c.Request.Context(), ownerID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, notes)
}

// MarkSent records that the credit note was handed to the exchange system
func (h *CreditNoteHandler) MarkSent(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	noteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid credit note ID format")
		return
	}

	var req MarkSentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	note, err := h.creditNoteService.MarkCreditNoteSent(c.Request.Context(), ownerID, noteID, req.ExchangeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, note)
}
