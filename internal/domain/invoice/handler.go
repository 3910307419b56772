package invoice

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"winetours/internal/middleware"
	"winetours/internal/pkg/response"
	"winetours/internal/pkg/validator"
)

type Handler struct {
	service *Service
	hub     *QueueHub
}

func NewHandler(service *Service, hub *QueueHub) *Handler {
	return &Handler{service: service, hub: hub}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/invoices/:id", h.Get)
	rg.GET("/bookings/:id/invoices", h.ListForBooking)
	rg.POST("/invoices/:id/payments", h.CollectPayment)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/invoices/queue", h.Queue)
	rg.GET("/invoices/queue/ws", h.QueueWS)
	rg.POST("/bookings/:id/deposit-invoice", h.IssueDeposit)
	rg.POST("/bookings/:id/final-invoice", h.ApproveAndSend)
	rg.POST("/invoices/:id/void", h.Void)
}

type CollectPaymentRequest struct {
	PaymentToken string `json:"payment_token" validate:"required"`
}

type VoidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	inv, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, inv)
}

func (h *Handler) ListForBooking(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	list, err := h.service.ListForBooking(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

func (h *Handler) Queue(c *gin.Context) {
	entries, err := h.service.Queue(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, entries)
}

func (h *Handler) QueueWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	h.hub.ServeWS(conn, middleware.Actor(c))
}

func (h *Handler) IssueDeposit(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	inv, err := h.service.IssueDeposit(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, inv)
}

// ApproveAndSend honours an Idempotency-Key header so a retried request
// returns the invoice the first one issued.
func (h *Handler) ApproveAndSend(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	inv, err := h.service.ApproveAndSend(c.Request.Context(), ApproveCommand{
		BookingID:      id,
		Approver:       middleware.Actor(c),
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, inv)
}

func (h *Handler) CollectPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CollectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payment", errs)
		return
	}
	res, err := h.service.CollectPayment(c.Request.Context(), CollectCommand{InvoiceID: id, Token: req.PaymentToken})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) Void(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req VoidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	inv, err := h.service.Void(c.Request.Context(), VoidCommand{InvoiceID: id, Actor: middleware.Actor(c), Reason: req.Reason})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, inv)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "invalid id")
		return 0, false
	}
	return id, true
}
