package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"winetours/internal/config"
	"winetours/internal/database"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/refund"
	"winetours/internal/logging"
	"winetours/internal/middleware"
)

const clockToken = "clock-secret"

type suite struct {
	t      *testing.T
	router *gin.Engine
	app    *App
	staff  string
	admin  string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func setupSuite(t *testing.T) *suite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect(fmt.Sprintf("file:app_%s?mode=memory&cache=shared", uuid.NewString()), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	a, err := New(context.Background(), testConfig(t), logging.Discard(), Options{DB: db})
	require.NoError(t, err)
	_, created, err := a.Rates.Bootstrap(context.Background(), "seed")
	require.NoError(t, err)
	require.True(t, created)

	staff, err := a.JWT.GenerateToken("sam@winetours.test", middleware.RoleStaff)
	require.NoError(t, err)
	admin, err := a.JWT.GenerateToken("ops@winetours.test", middleware.RoleAdmin)
	require.NoError(t, err)

	return &suite{t: t, router: NewRouter(a), app: a, staff: staff, admin: admin}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(clockToken), bcrypt.MinCost)
	require.NoError(t, err)
	return &config.Config{
		AppEnv:             "test",
		JWTSecret:          "test-secret",
		JWTTTL:             time.Hour,
		TimeclockTokenHash: string(hash),
		Location:           time.UTC,
		Numbering:          config.NumberingConfig{InvoicePrefix: "WWT", ProposalPrefix: "PRO", BookingPrefix: "BK"},
		Invoice:            config.InvoiceConfig{FinalDueAfter: 48 * time.Hour, ApprovalLockTTL: time.Second},
		Proposal:           config.ProposalConfig{Validity: 14 * 24 * time.Hour, SweepInterval: time.Minute},
	}
}

func (s *suite) do(method, path, token string, body any, headers ...string) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type idOnly struct {
	ID int64 `json:"id"`
}

type invoiceView struct {
	ID            int64  `json:"id"`
	InvoiceNumber string `json:"invoice_number"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
}

func TestProposalToFinalInvoiceFlow(t *testing.T) {
	s := setupSuite(t)

	code, env := s.do(http.MethodPost, "/api/v1/proposals", s.staff, map[string]any{
		"client_name":  "Dana Reyes",
		"client_email": "dana@example.com",
		"items": []map[string]any{{
			"description": "Walla Walla private tour",
			"tour":        map[string]any{"party_size": 4, "hours": "6", "tour_date": "2030-06-11", "tour_type": "PRIVATE"},
		}},
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	prop := decode[struct {
		ID             int64  `json:"id"`
		ProposalNumber string `json:"proposal_number"`
		Total          string `json:"total"`
		DepositAmount  string `json:"deposit_amount"`
	}](t, env)
	assert.Regexp(t, `^PRO-\d{2}-00001$`, prop.ProposalNumber)
	assert.Equal(t, "620.73", prop.Total)
	assert.Equal(t, "310.37", prop.DepositAmount)

	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/send", prop.ID), s.staff, nil)
	require.Equal(t, http.StatusOK, code)

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/accept", prop.ID), s.staff, map[string]any{
		"contact_name":                 "Dana Reyes",
		"contact_email":                "dana@example.com",
		"terms_accepted":               true,
		"cancellation_policy_accepted": true,
		"signature":                    "Dana Reyes",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	accepted := decode[struct {
		Booking        idOnly      `json:"booking"`
		DepositInvoice invoiceView `json:"deposit_invoice"`
	}](t, env)
	bookingID := accepted.Booking.ID
	assert.Equal(t, "310.37", accepted.DepositInvoice.Amount)

	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/proposals/%d/accept", prop.ID), s.staff, map[string]any{
		"contact_name":                 "Dana Reyes",
		"contact_email":                "dana@example.com",
		"terms_accepted":               true,
		"cancellation_policy_accepted": true,
		"signature":                    "Dana Reyes",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/payments", accepted.DepositInvoice.ID), s.staff, map[string]any{"payment_token": "tok_visa"})
	require.Equal(t, http.StatusOK, code, env.Error)

	// Approval before hours arrive is too early.
	code, _ = s.do(http.MethodPost, fmt.Sprintf("/api/v1/admin/bookings/%d/final-invoice", bookingID), s.admin, nil)
	assert.Equal(t, http.StatusTooEarly, code)

	code, env = s.do(http.MethodPost, "/api/v1/timeclock/time-records", clockToken, map[string]any{
		"booking_id": bookingID, "driver_name": "Sam", "at": "2030-06-11T17:00:00Z",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)
	rec := decode[idOnly](t, env)
	code, env = s.do(http.MethodPost, fmt.Sprintf("/api/v1/timeclock/time-records/%d/clock-out", rec.ID), clockToken, map[string]any{
		"at": "2030-06-11T23:00:00Z",
	})
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = s.do(http.MethodGet, "/api/v1/admin/invoices/queue", s.admin, nil)
	require.Equal(t, http.StatusOK, code)
	queue := decode[[]struct {
		BookingID      int64  `json:"booking_id"`
		ProposedAmount string `json:"proposed_amount"`
	}](t, env)
	require.Len(t, queue, 1)
	assert.Equal(t, bookingID, queue[0].BookingID)
	assert.Equal(t, "310.36", queue[0].ProposedAmount)

	path := fmt.Sprintf("/api/v1/admin/bookings/%d/final-invoice", bookingID)
	code, env = s.do(http.MethodPost, path, s.admin, nil, "Idempotency-Key", "approve-1")
	require.Equal(t, http.StatusCreated, code, env.Error)
	final := decode[invoiceView](t, env)
	assert.Equal(t, "FINAL", final.Kind)
	assert.Equal(t, "310.36", final.Amount)
	assert.Equal(t, "SENT", final.Status)

	code, env = s.do(http.MethodPost, path, s.admin, nil, "Idempotency-Key", "approve-1")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, final.InvoiceNumber, decode[invoiceView](t, env).InvoiceNumber)

	code, _ = s.do(http.MethodPost, path, s.admin, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d/invoices", bookingID), s.staff, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]invoiceView](t, env), 2)
}

func TestRouterAuth(t *testing.T) {
	s := setupSuite(t)

	code, _ := s.do(http.MethodGet, "/api/v1/proposals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(http.MethodGet, "/api/v1/admin/invoices/queue", s.staff, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/api/v1/timeclock/time-records", "wrong-token", map[string]any{"booking_id": 1, "driver_name": "Sam"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodGet, "/api/v1/rates/active", s.staff, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestNewMigratesFreshDatabase(t *testing.T) {
	db, err := database.Connect(fmt.Sprintf("file:fresh_%s?mode=memory&cache=shared", uuid.NewString()), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)

	a, err := New(context.Background(), testConfig(t), logging.Discard(), Options{DB: db, Migrate: true})
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("rate_table_versions"))
	_, created, err := a.Rates.Bootstrap(context.Background(), "seed")
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRefundRegistryReadsWeatherPolicy(t *testing.T) {
	db, err := database.Connect(fmt.Sprintf("file:weather_%s?mode=memory&cache=shared", uuid.NewString()), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	rs := rates.NewService(db, logging.Discard())

	reg := refundRegistry(context.Background(), rs, logging.Discard())
	assert.Equal(t, refund.DefaultPolicy.Tiers, reg.For(WeatherReasonCode).Tiers)

	payload := rates.DefaultPayload()
	payload.WeatherCancellationPolicy = json.RawMessage(`{"tiers":[{"min_days":2,"pct":100},{"min_days":0,"pct":50}]}`)
	raw, err := payload.Canonical()
	require.NoError(t, err)
	_, err = rs.UpdateRateTable(context.Background(), []byte(raw), "ops@winetours.test", "weather terms")
	require.NoError(t, err)

	reg = refundRegistry(context.Background(), rs, logging.Discard())
	weather := reg.For(WeatherReasonCode)
	assert.Equal(t, "weather", weather.Name)
	require.Len(t, weather.Tiers, 2)
	assert.Equal(t, 100, weather.Tiers[0].Pct)
	assert.Equal(t, refund.DefaultPolicy.Tiers, reg.For("").Tiers)
}

func TestModelsMigrate(t *testing.T) {
	db, err := database.Connect(fmt.Sprintf("file:migrate_%s?mode=memory&cache=shared", uuid.NewString()), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))
	for _, table := range []string{"invoices", "bookings", "proposals", "time_records", "rate_table_versions", "invoice_number_sequences"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
