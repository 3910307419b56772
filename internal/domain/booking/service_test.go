package booking

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"winetours/internal/apperr"
	"winetours/internal/database"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/refund"
	"winetours/internal/domain/sequence"
	"winetours/internal/logging"
	"winetours/internal/notification"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) DepositPaid(_ *gorm.DB, bookingID int64) (decimal.Decimal, error) {
	args := m.Called(bookingID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, msg notification.Message) (notification.Status, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(notification.Status), args.Error(1)
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	ledger   *mockLedger
	notifier *mockNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Connect(fmt.Sprintf("file:booking_%s?mode=memory&cache=shared", uuid.NewString()), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(append(Models(), rates.Models()...)...))
	require.NoError(t, db.AutoMigrate(&sequence.Counter{}))

	rateSvc := rates.NewService(db, logging.Discard())
	_, _, err = rateSvc.Bootstrap(context.Background(), "seed")
	require.NoError(t, err)

	f := &fixture{db: db, ledger: new(mockLedger), notifier: new(mockNotifier)}
	f.svc = NewService(Deps{
		DB:       db,
		Rates:    rateSvc,
		Numbers:  sequence.NewAllocator("BK", time.UTC),
		Refunds:  &refund.Registry{Default: refund.DefaultPolicy},
		Ledger:   f.ledger,
		Notifier: f.notifier,
		Log:      logging.Discard(),
		Location: time.UTC,
	})
	return f
}

func (f *fixture) book(t *testing.T) *Booking {
	t.Helper()
	b, err := f.svc.Create(context.Background(), DirectCommand{
		ClientName:  "Dana Reyes",
		ClientEmail: "dana@example.com",
		Request: rates.QuoteRequest{
			PartySize: 4,
			Hours:     decimal.NewFromInt(6),
			TourDate:  time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC),
			TourType:  rates.Private,
		},
	})
	require.NoError(t, err)
	return b
}

func TestCreateSnapshotsQuote(t *testing.T) {
	f := setup(t)
	b := f.book(t)

	assert.Regexp(t, `^BK-\d{2}-00001$`, b.BookingNumber)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, "105", b.HourlyRate.String())
	assert.Equal(t, "686.07", b.QuotedTotal.StringFixed(2))
	assert.Equal(t, "343.04", b.DepositAmount.StringFixed(2))
	assert.EqualValues(t, 1, b.Version)

	second := f.book(t)
	assert.Regexp(t, `^BK-\d{2}-00002$`, second.BookingNumber)
}

func TestCreateRequiresEmail(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Create(context.Background(), DirectCommand{
		ClientName: "No Email",
		Request: rates.QuoteRequest{
			PartySize: 2,
			Hours:     decimal.NewFromInt(5),
			TourDate:  time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			TourType:  rates.Private,
		},
	})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestQuotedFinalUsesActualHours(t *testing.T) {
	f := setup(t)
	b := f.book(t)

	// 4h actual is billed as-is: round(4*105*1.089, 2)
	assert.Equal(t, "457.38", b.QuotedFinal(decimal.NewFromInt(4)).StringFixed(2))

	b.ExtrasTotal = decimal.NewFromInt(40)
	assert.Equal(t, "726.07", b.QuotedFinal(decimal.NewFromInt(6)).StringFixed(2))
}

func TestQuotedFinalSharedKeepsExtras(t *testing.T) {
	b := &Booking{
		TourType:    rates.Shared,
		QuotedTotal: decimal.RequireFromString("413.82"),
		ExtrasTotal: decimal.RequireFromString("620.73"),
	}
	assert.Equal(t, "1034.55", b.QuotedFinal(decimal.NewFromInt(3)).StringFixed(2))
	assert.Equal(t, "1034.55", b.QuotedFinal(decimal.NewFromInt(8)).StringFixed(2))
}

func TestCancelRefundTiers(t *testing.T) {
	cases := []struct {
		name       string
		cancelAt   time.Time
		wantPct    int
		wantAmount string
	}{
		{"44 days notice", time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC), 100, "343.04"},
		{"25 days notice", time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC), 50, "171.52"},
		{"13 days notice", time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), 25, "85.76"},
		{"4 days notice", time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC), 0, "0.00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			b := f.book(t)
			f.ledger.On("DepositPaid", b.ID).Return(decimal.RequireFromString("343.04"), nil).Once()
			f.notifier.On("Send", mock.Anything, mock.MatchedBy(func(m notification.Message) bool {
				return m.TemplateID == notification.TemplateBookingCancelled && m.To == "dana@example.com"
			})).Return(notification.StatusQueued, nil).Once()

			res, err := f.svc.Cancel(context.Background(), CancelCommand{
				BookingID:   b.ID,
				CancelledAt: tc.cancelAt,
				Actor:       "admin",
				Reason:      "client request",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantPct, res.Refund.Pct)
			assert.Equal(t, tc.wantAmount, res.Amount.StringFixed(2))

			stored, err := f.svc.Repository().GetByID(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, stored.Status)
			require.NotNil(t, stored.RefundPct)
			assert.Equal(t, tc.wantPct, *stored.RefundPct)
			assert.EqualValues(t, 2, stored.Version)
			f.ledger.AssertExpectations(t)
			f.notifier.AssertExpectations(t)
		})
	}
}

func TestCancelWithoutDepositRefundsNothing(t *testing.T) {
	f := setup(t)
	b := f.book(t)
	f.ledger.On("DepositPaid", b.ID).Return(decimal.Zero, nil).Once()
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(notification.StatusQueued, nil)

	res, err := f.svc.Cancel(context.Background(), CancelCommand{
		BookingID:   b.ID,
		CancelledAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		Actor:       "admin",
		Reason:      "client request",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Refund.Pct)
	assert.True(t, res.Amount.IsZero())
}

func TestCancelTwiceIsStateConflict(t *testing.T) {
	f := setup(t)
	b := f.book(t)
	f.ledger.On("DepositPaid", b.ID).Return(decimal.Zero, nil)
	f.notifier.On("Send", mock.Anything, mock.Anything).Return(notification.StatusQueued, nil)

	cmd := CancelCommand{BookingID: b.ID, Actor: "admin", Reason: "weather", CancelledAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)}
	_, err := f.svc.Cancel(context.Background(), cmd)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, apperr.IsStateConflict(err))
	assert.ErrorIs(t, err, ErrInvalidBookingState)
}

func TestCancelAfterFinalInvoiceIsRejected(t *testing.T) {
	f := setup(t)
	b := f.book(t)
	require.NoError(t, f.db.Model(&Booking{}).Where("id = ?", b.ID).Update("final_invoice_sent", true).Error)

	_, err := f.svc.Cancel(context.Background(), CancelCommand{BookingID: b.ID, Actor: "admin", Reason: "late"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFinalInvoiceSent)
	f.notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestCancelValidatesInput(t *testing.T) {
	f := setup(t)
	b := f.book(t)

	_, err := f.svc.Cancel(context.Background(), CancelCommand{BookingID: b.ID, Reason: "x"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Cancel(context.Background(), CancelCommand{BookingID: b.ID, Actor: "admin"})
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Cancel(context.Background(), CancelCommand{BookingID: 999, Actor: "admin", Reason: "x"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestSpecialCircumstancePolicy(t *testing.T) {
	f := setup(t)
	reg, err := refund.NewRegistry(map[string]refund.Policy{
		"weather": {Name: "weather", Tiers: []refund.Tier{{MinDays: 0, Pct: 100}}},
	})
	require.NoError(t, err)
	f.svc.refunds = reg
	b := f.book(t)
	f.ledger.On("DepositPaid", b.ID).Return(decimal.RequireFromString("343.04"), nil)

	res, err := f.svc.PreviewRefund(context.Background(), b.ID, time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC), "weather")
	require.NoError(t, err)
	assert.Equal(t, "weather", res.Refund.Policy)
	assert.Equal(t, "343.04", res.Amount.StringFixed(2))

	res, err = f.svc.PreviewRefund(context.Background(), b.ID, time.Date(2025, 6, 12, 8, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Refund.Pct)
}

func TestForceFinalDueNow(t *testing.T) {
	f := setup(t)
	b := f.book(t)
	fixed := time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return fixed }

	got, err := f.svc.ForceFinalDueNow(context.Background(), b.ID, "admin")
	require.NoError(t, err)
	require.NotNil(t, got.FinalDueAt)
	assert.True(t, got.FinalDueAt.Equal(fixed))
	assert.EqualValues(t, 2, got.Version)

	_, err = f.svc.ForceFinalDueNow(context.Background(), b.ID, "")
	assert.True(t, apperr.IsValidation(err))
}

func TestCompareAndSwapDetectsStaleVersion(t *testing.T) {
	f := setup(t)
	b := f.book(t)
	stale := *b

	require.NoError(t, CompareAndSwap(f.db, b, map[string]any{"client_phone": "555-0100"}))
	err := CompareAndSwap(f.db, &stale, map[string]any{"client_phone": "555-0199"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleBooking)
}
