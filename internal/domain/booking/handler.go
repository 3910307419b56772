package booking

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"winetours/internal/domain/rates"
	"winetours/internal/middleware"
	"winetours/internal/pkg/response"
	"winetours/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts staff booking routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings", h.Create)
	rg.GET("/bookings", h.List)
	rg.GET("/bookings/:id", h.Get)
	rg.GET("/bookings/:id/refund-preview", h.PreviewRefund)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/bookings/:id/cancel", h.Cancel)
	rg.POST("/bookings/:id/force-final-due", h.ForceFinalDue)
}

type CreateBookingRequest struct {
	ClientName  string                `json:"client_name" validate:"required"`
	ClientEmail string                `json:"client_email" validate:"required,email"`
	ClientPhone string                `json:"client_phone"`
	Tour        rates.QuoteRequestDTO `json:"tour"`
	DepositPct  *decimal.Decimal      `json:"deposit_pct"`
}

type CancelRequest struct {
	Reason      string `json:"reason" validate:"required"`
	ReasonCode  string `json:"reason_code"`
	CancelledAt string `json:"cancelled_at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid booking", errs)
		return
	}
	qr, err := req.Tour.ToRequest()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	b, err := h.service.Create(c.Request.Context(), DirectCommand{
		ClientName:  req.ClientName,
		ClientEmail: req.ClientEmail,
		ClientPhone: req.ClientPhone,
		Request:     qr,
		DepositPct:  req.DepositPct,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, b)
}

func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, total, err := h.service.repo.List(c.Request.Context(), ListFilter{
		Status: Status(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"bookings": list, "total": total})
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	b, err := h.service.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, b)
}

func (h *Handler) PreviewRefund(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	at := time.Now()
	if raw := c.Query("cancelled_at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "cancelled_at must be RFC3339")
			return
		}
		at = parsed
	}
	res, err := h.service.PreviewRefund(c.Request.Context(), id, at, c.Query("reason_code"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid cancellation", errs)
		return
	}
	var at time.Time
	if req.CancelledAt != "" {
		at, _ = time.Parse(time.RFC3339, req.CancelledAt)
	}

	res, err := h.service.Cancel(c.Request.Context(), CancelCommand{
		BookingID:   id,
		CancelledAt: at,
		Actor:       middleware.Actor(c),
		Reason:      req.Reason,
		ReasonCode:  req.ReasonCode,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

func (h *Handler) ForceFinalDue(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	b, err := h.service.ForceFinalDueNow(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, b)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "invalid booking id")
		return 0, false
	}
	return id, true
}
