package proposal

import (
	"context"
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

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/proposals", h.Create)
	rg.GET("/proposals", h.List)
	rg.GET("/proposals/:id", h.Get)
	rg.GET("/proposals/:id/events", h.Events)
	rg.POST("/proposals/:id/send", h.Send)
	rg.POST("/proposals/:id/withdraw", h.Withdraw)
	rg.POST("/proposals/:id/accept", h.Accept)
}

type ItemRequest struct {
	Description    string                `json:"description"`
	Tour           rates.QuoteRequestDTO `json:"tour"`
	PriceOverride  *decimal.Decimal      `json:"price_override"`
	OverrideReason string                `json:"override_reason"`
}

type CreateProposalRequest struct {
	ClientName      string           `json:"client_name" validate:"required"`
	ClientEmail     string           `json:"client_email" validate:"required,email"`
	ClientPhone     string           `json:"client_phone"`
	Items           []ItemRequest    `json:"items" validate:"required,min=1,dive"`
	ValidUntil      *time.Time       `json:"valid_until"`
	DepositOverride *decimal.Decimal `json:"deposit_override"`
	GratuityEnabled bool             `json:"gratuity_enabled"`
}

type TransitionRequest struct {
	ExpectedVersion *int64 `json:"expected_version"`
}

type AcceptRequest struct {
	ExpectedVersion            *int64         `json:"expected_version"`
	ContactName                string         `json:"contact_name" validate:"required"`
	ContactEmail               string         `json:"contact_email" validate:"required,email"`
	ContactPhone               string         `json:"contact_phone"`
	Gratuity                   GratuityChoice `json:"gratuity"`
	TermsAccepted              bool           `json:"terms_accepted"`
	CancellationPolicyAccepted bool           `json:"cancellation_policy_accepted"`
	Signature                  string         `json:"signature" validate:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid proposal", errs)
		return
	}

	cmd := CreateCommand{
		ClientName:      req.ClientName,
		ClientEmail:     req.ClientEmail,
		ClientPhone:     req.ClientPhone,
		ValidUntil:      req.ValidUntil,
		DepositOverride: req.DepositOverride,
		GratuityEnabled: req.GratuityEnabled,
		Actor:           middleware.Actor(c),
	}
	for _, it := range req.Items {
		qr, err := it.Tour.ToRequest()
		if err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		cmd.Items = append(cmd.Items, ItemInput{
			Description:    it.Description,
			Request:        qr,
			PriceOverride:  it.PriceOverride,
			OverrideReason: it.OverrideReason,
		})
	}

	p, err := h.service.Create(c.Request.Context(), cmd)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, p)
}

func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, total, err := h.service.Repository().List(c.Request.Context(), Status(c.Query("status")), limit, offset)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"proposals": list, "total": total})
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.service.Repository().GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

func (h *Handler) Events(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	events, err := h.service.Repository().Events(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, events)
}

func (h *Handler) Send(c *gin.Context) {
	h.transition(c, h.service.Send)
}

func (h *Handler) Withdraw(c *gin.Context) {
	h.transition(c, h.service.Withdraw)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, cmd TransitionCommand) (*Proposal, error)) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req TransitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
	}
	p, err := fn(c.Request.Context(), TransitionCommand{
		ProposalID:      id,
		ExpectedVersion: req.ExpectedVersion,
		Actor:           middleware.Actor(c),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, p)
}

func (h *Handler) Accept(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid acceptance", errs)
		return
	}

	res, err := h.service.Accept(c.Request.Context(), AcceptCommand{
		ProposalID:                 id,
		ExpectedVersion:            req.ExpectedVersion,
		AcceptedBy:                 middleware.Actor(c),
		ContactName:                req.ContactName,
		ContactEmail:               req.ContactEmail,
		ContactPhone:               req.ContactPhone,
		Gratuity:                   req.Gratuity,
		TermsAccepted:              req.TermsAccepted,
		CancellationPolicyAccepted: req.CancellationPolicyAccepted,
		Signature:                  req.Signature,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, res)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "invalid proposal id")
		return 0, false
	}
	return id, true
}
