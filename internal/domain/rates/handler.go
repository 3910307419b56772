package rates

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

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

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/rates/active", h.GetActive)
	rg.POST("/quotes", h.CreateQuote)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.PUT("/rates", h.UpdateTable)
	rg.GET("/rates/history", h.History)
}

type QuoteRequestDTO struct {
	PartySize     int             `json:"party_size" validate:"required,gte=1"`
	Hours         decimal.Decimal `json:"hours"`
	TourDate      string          `json:"tour_date" validate:"required,datetime=2006-01-02"`
	TourType      TourType        `json:"tour_type" validate:"required,oneof=PRIVATE SHARED"`
	LunchIncluded bool            `json:"lunch_included"`
}

// ToRequest converts the wire form into an engine request.
func (d QuoteRequestDTO) ToRequest() (QuoteRequest, error) {
	day, err := time.Parse("2006-01-02", d.TourDate)
	if err != nil {
		return QuoteRequest{}, err
	}
	return QuoteRequest{
		PartySize:     d.PartySize,
		Hours:         d.Hours,
		TourDate:      day,
		TourType:      d.TourType,
		LunchIncluded: d.LunchIncluded,
	}, nil
}

func (h *Handler) GetActive(c *gin.Context) {
	t, err := h.service.Active(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, t)
}

func (h *Handler) CreateQuote(c *gin.Context) {
	var req QuoteRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid quote request", errs)
		return
	}
	qr, err := req.ToRequest()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	q, err := h.service.Quote(c.Request.Context(), qr)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, q)
}

type UpdateTableDTO struct {
	Reason  string          `json:"reason" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

func (h *Handler) UpdateTable(c *gin.Context) {
	var req UpdateTableDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid rate table edit", errs)
		return
	}
	versionID, err := h.service.UpdateRateTable(c.Request.Context(), req.Payload, middleware.Actor(c), req.Reason)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"version_id": versionID})
}

func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	versions, audits, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"versions": versions, "audits": audits})
}
