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
	"github.com/fatturino/backend/internal/interfaces/http/middleware"
)

// dateLayout is the wire format for all date-only fields
const dateLayout = "2006-01-02"

// InvoiceHandler handles invoice API endpoints
type InvoiceHandler struct {
	BaseHandler
	invoiceService *invoicingapp.InvoiceService
	metrics        *telemetry.BusinessMetrics
}

// NewInvoiceHandler creates a new InvoiceHandler. Metrics may be nil when
// telemetry is disabled.
func NewInvoiceHandler(invoiceService *invoicingapp.InvoiceService, metrics *telemetry.BusinessMetrics) *InvoiceHandler {
	return &InvoiceHandler{
		invoiceService: invoiceService,
		metrics:        metrics,
	}
}

// LineItemRequest is one billed line in an invoice creation request
type LineItemRequest struct {
	Description string  `json:"description" binding:"required,min=1,max=500"`
	Quantity    float64 `json:"quantity" binding:"required,gt=0"`
	UnitPrice   float64 `json:"unit_price" binding:"required,gt=0"`
}

// CreateInvoiceRequest represents a request to issue a new invoice
type CreateInvoiceRequest struct {
	IssueDate     string            `json:"issue_date" binding:"required"`
	PaymentMethod string            `json:"payment_method" binding:"required"`
	LineItems     []LineItemRequest `json:"line_items" binding:"required,min=1,dive"`
}

// SettleInvoiceRequest represents a settlement request
type SettleInvoiceRequest struct {
	SettlementDate string `json:"settlement_date" binding:"required"`
}

// MarkSentRequest records the external id assigned by the exchange system
type MarkSentRequest struct {
	ExchangeID string `json:"exchange_id" binding:"required,min=1,max=100"`
}

// RegisterRoutes registers invoice routes
func (h *InvoiceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	invoices := rg.Group("/invoices")
	{
		invoices.POST("", h.Create)
		invoices.GET("", h.List)
		invoices.GET("/:id", h.GetByID)
		invoices.DELETE("/:id", h.Delete)
		invoices.POST("/:id/settle", h.Settle)
		invoices.POST("/:id/sent", h.MarkSent)
		invoices.GET("/:id/effective-base", h.EffectiveBase)
		invoices.GET("/:id/verify-totals", h.VerifyTotals)
	}
}

// Create issues a new invoice. The welfare fund is taken from the
// authenticated principal's claims, never from the request body.
func (h *InvoiceHandler) Create(c *gin.Context) {
	ownerID, err := getOwnerID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	fund := middleware.GetJWTFund(c)
	if fund == "" {
		h.Error(c, 422, dto.ErrCodeInvalidState, "No welfare fund declared for this account")
		return
	}

	var req CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	issueDate, err := time.Parse(dateLayout, req.IssueDate)
	if err != nil {
		h.BadRequest(c, "Invalid issue_date, expected YYYY-MM-DD")
		return
	}

	items := make([]invoicingapp.LineItemInput, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		items = append(items, invoicingapp.LineItemInput{
			Description: li.Description,
			Quantity:    decimal.NewFromFloat(li.Quantity),
			UnitPrice:   decimal.NewFromFloat(li.UnitPrice),
		})
	}

	invoice, err := h.invoiceService.CreateInvoice(c.Request.Context(), invoicingapp.CreateInvoiceInput{
		OwnerID:       ownerID,
		Fund:          invoicing.FundCode(fund),
		IssueDate:     issueDate,
		PaymentMethod: invoicing.PaymentMethod(req.PaymentMethod),
		LineItems:     items,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordDocumentIssued(c.Request.Context(), ownerID, telemetry.DocumentTypeInvoice, fund)
		h.metrics.RecordDocumentAmount(c.Request.Context(), ownerID, telemetry.DocumentTypeInvoice, invoice.TotalAmount)
	}

	h.Created(c, invoice)
}

// GetByID retrieves one invoice with its line items
func (h *InvoiceHandler) GetByID(c *gin.Context) {
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

	invoice, err := h.invoiceService.GetInvoice(c.Request.Context(), ownerID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, invoice)
}

// List retrieves a paginated list of the owner's invoices
func (h *InvoiceHandler) List(c *gin.Context) {
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

	page, err := h.invoiceService.ListInvoices(c.Request.Context(), ownerID, shared.Filter{
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

// Settle marks an invoice as paid on the given date
func (h *InvoiceHandler) Settle(c *gin.Context) {
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

	var req SettleInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	settlementDate, err := time.Parse(dateLayout, req.SettlementDate)
	if err != nil {
		h.BadRequest(c, "Invalid settlement_date, expected YYYY-MM-DD")
		return
	}

	invoice, err := h.invoiceService.SettleInvoice(c.Request.Context(), ownerID, invoiceID, settlementDate)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordInvoiceSettled(c.Request.Context(), ownerID, string(invoice.PaymentMethod))
	}

	h.Success(c, invoice)
}

// MarkSent records that the invoice was handed to the exchange system
func (h *InvoiceHandler) MarkSent(c *gin.Context) {
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

	var req MarkSentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	invoice, err := h.invoiceService.MarkInvoiceSent(c.Request.Context(), ownerID, invoiceID, req.ExchangeID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, invoice)
}

// Delete removes an invoice and its line items
func (h *InvoiceHandler) Delete(c *gin.Context) {
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

	if err := h.invoiceService.DeleteInvoice(c.Request.Context(), ownerID, invoiceID); err != nil {
		h.HandleError(c, err)
		return
	}

	h.NoContent(c)
}

// EffectiveBaseResponse carries an invoice's residual taxable base
type EffectiveBaseResponse struct {
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	EffectiveBase decimal.Decimal `json:"effective_base"`
}

// EffectiveBase returns the invoice's taxable base net of its credit notes
func (h *InvoiceHandler) EffectiveBase(c *gin.Context) {
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

	base, err := h.invoiceService.EffectiveBase(c.Request.Context(), ownerID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, EffectiveBaseResponse{InvoiceID: invoiceID, EffectiveBase: base})
}

// VerifyTotalsResponse reports whether the stored totals drifted from a
// fresh recomputation
type VerifyTotalsResponse struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	Drifted   bool      `json:"drifted"`
}

// VerifyTotals recomputes the invoice's totals and reports drift
func (h *InvoiceHandler) VerifyTotals(c *gin.Context) {
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

	drifted, err := h.invoiceService.VerifyTotals(c.Request.Context(), ownerID, invoiceID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, VerifyTotalsResponse{InvoiceID: invoiceID, Drifted: drifted})
}
