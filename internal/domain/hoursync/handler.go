package hoursync

import (
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
	clock      *TimeClock
	reconciler *Reconciler
}

func NewHandler(clock *TimeClock, reconciler *Reconciler) *Handler {
	return &Handler{clock: clock, reconciler: reconciler}
}

// RegisterTimeclockRoutes mounts the endpoints driver devices call. The group
// must be guarded by middleware.TimeclockToken.
func (h *Handler) RegisterTimeclockRoutes(rg *gin.RouterGroup) {
	rg.POST("/time-records", h.ClockIn)
	rg.POST("/time-records/:id/clock-out", h.ClockOut)
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/bookings/:id/time-records", h.ListRecords)
	rg.PUT("/bookings/:id/actual-hours", h.CorrectHours)
	rg.GET("/bookings/:id/hours-corrections", h.Corrections)
	rg.POST("/time-records/:id/republish", h.Republish)
}

type ClockInRequest struct {
	BookingID  int64  `json:"booking_id" validate:"required,gt=0"`
	DriverName string `json:"driver_name" validate:"required"`
	At         string `json:"at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type ClockOutRequest struct {
	At string `json:"at" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type CorrectHoursRequest struct {
	Hours  decimal.Decimal `json:"hours"`
	Reason string          `json:"reason" validate:"required"`
}

func (h *Handler) ClockIn(c *gin.Context) {
	var req ClockInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid clock-in", errs)
		return
	}
	rec, err := h.clock.ClockIn(c.Request.Context(), ClockInCommand{
		BookingID:  req.BookingID,
		DriverName: req.DriverName,
		At:         parseAt(req.At),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, rec)
}

func (h *Handler) ClockOut(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ClockOutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		if errs := validator.Validate(req); errs != nil {
			response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid clock-out", errs)
			return
		}
	}
	rec, err := h.clock.ClockOut(c.Request.Context(), id, parseAt(req.At))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, rec)
}

func (h *Handler) ListRecords(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	list, err := h.clock.ListForBooking(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

func (h *Handler) CorrectHours(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CorrectHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid correction", errs)
		return
	}
	b, err := h.reconciler.CorrectHours(c.Request.Context(), CorrectionCommand{
		BookingID: id,
		Hours:     req.Hours,
		Actor:     middleware.Actor(c),
		Reason:    req.Reason,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, b)
}

func (h *Handler) Corrections(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	list, err := h.reconciler.Corrections(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, list)
}

func (h *Handler) Republish(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.clock.Republish(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"republished": id})
}

// parseAt returns the zero time for an empty value; the service then uses
// the current time. Format is checked by the validator beforehand.
func parseAt(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, raw)
	return t
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "INVALID_ID", "invalid id")
		return 0, false
	}
	return id, true
}
