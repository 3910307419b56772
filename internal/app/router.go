package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"winetours/internal/domain/booking"
	"winetours/internal/domain/hoursync"
	"winetours/internal/domain/invoice"
	"winetours/internal/domain/proposal"
	"winetours/internal/domain/rates"
	"winetours/internal/middleware"
	"winetours/internal/report"
)

// NewRouter mounts every handler under /api/v1. Staff routes need a staff or
// admin token, /admin routes an admin token and /timeclock the shared time
// clock token.
func NewRouter(a *App) *gin.Engine {
	r := gin.New()
	r.Use(middleware.ErrorLogger(a.Log))
	r.Use(middleware.CORS(a.Config.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	ratesHandler := rates.NewHandler(a.Rates)
	proposalHandler := proposal.NewHandler(a.Proposals)
	bookingHandler := booking.NewHandler(a.Bookings)
	invoiceHandler := invoice.NewHandler(a.Invoices, a.Hub)
	hoursHandler := hoursync.NewHandler(a.TimeClock, a.Reconciler)
	reportHandler := report.NewHandler(a.Reports)

	v1 := r.Group("/api/v1")

	staff := v1.Group("")
	staff.Use(middleware.JWTAuth(a.JWT), middleware.RequireRole(middleware.RoleStaff, middleware.RoleAdmin))
	{
		ratesHandler.RegisterRoutes(staff)
		proposalHandler.RegisterRoutes(staff)
		bookingHandler.RegisterRoutes(staff)
		invoiceHandler.RegisterRoutes(staff)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.JWTAuth(a.JWT), middleware.AdminOnly())
	{
		ratesHandler.RegisterAdminRoutes(admin)
		bookingHandler.RegisterAdminRoutes(admin)
		invoiceHandler.RegisterAdminRoutes(admin)
		hoursHandler.RegisterAdminRoutes(admin)
		reportHandler.RegisterAdminRoutes(admin)
	}

	timeclock := v1.Group("/timeclock")
	timeclock.Use(middleware.TimeclockToken(a.Config.TimeclockTokenHash, a.Log))
	hoursHandler.RegisterTimeclockRoutes(timeclock)

	return r
}
