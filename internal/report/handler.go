package report

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"winetours/internal/pkg/response"
)

type Handler struct {
	builder *Builder
}

func NewHandler(builder *Builder) *Handler {
	return &Handler{builder: builder}
}

func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/reports/:year", h.Download)
}

// Download streams the workbook for a year.
func (h *Handler) Download(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 2000 || year > 9999 {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid year")
		return
	}
	f, _, err := h.builder.BuildWorkbook(c.Request.Context(), year)
	if err != nil {
		response.FromError(c, err)
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		response.FromError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=winetours-%d.xlsx", year))
	c.Data(http.StatusOK, ContentType, buf.Bytes())
}
