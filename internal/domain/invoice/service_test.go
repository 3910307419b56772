package invoice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
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
	"winetours/internal/domain/booking"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/sequence"
	"winetours/internal/logging"
	"winetours/internal/notification"
	"winetours/internal/payment"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, msg notification.Message) (notification.Status, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(notification.Status), args.Error(1)
}

// countingCharger authorizes every charge after a delay and remembers the
// idempotency keys it saw.
type countingCharger struct {
	mu    sync.Mutex
	delay time.Duration
	fail  error
	keys  []string
}

func (c *countingCharger) Charge(_ context.Context, _ decimal.Decimal, _, key string) (payment.Result, error) {
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.mu.Unlock()
	time.Sleep(c.delay)
	if c.fail != nil {
		return payment.Result{}, c.fail
	}
	return payment.Result{Outcome: payment.Authorized, Reference: "ch_" + key}, nil
}

func (c *countingCharger) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

var fixedNow = time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *gorm.DB, *mockNotifier) {
	t.Helper()
	db, err := database.Connect(fmt.Sprintf("file:invoice_%s?mode=memory&cache=shared", uuid.NewString()), database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(append(booking.Models(), Models()...)...))
	require.NoError(t, db.AutoMigrate(&sequence.Counter{}))

	n := new(mockNotifier)
	n.On("Send", mock.Anything, mock.Anything).Return(notification.StatusQueued, nil).Maybe()
	svc := NewService(Deps{
		DB:       db,
		Numbers:  sequence.NewAllocator("WWT", time.UTC),
		Charger:  payment.SandboxCharger{},
		Notifier: n,
		Hub:      NewQueueHub(),
		Log:      logging.Discard(),
	})
	svc.now = func() time.Time { return fixedNow }
	return svc, db, n
}

// seedBooking stores a private 6h tour for four on a Tuesday at 95/h.
func seedBooking(t *testing.T, db *gorm.DB, mutate func(*booking.Booking)) *booking.Booking {
	t.Helper()
	completed := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	due := completed.Add(48 * time.Hour)
	b := &booking.Booking{
		BookingNumber:        "BK-25-" + uuid.NewString()[:8],
		ClientName:           "Dana Reyes",
		ClientEmail:          "dana@example.com",
		TourDate:             time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		TourType:             rates.Private,
		PartySize:            4,
		EstimatedHours:       decimal.NewFromInt(6),
		ActualHours:          decimal.NewNullDecimal(decimal.NewFromInt(6)),
		HourlyRate:           decimal.NewFromInt(95),
		TaxRate:              decimal.RequireFromString("0.089"),
		RateVersion:          1,
		QuotedTotal:          decimal.RequireFromString("620.73"),
		DepositAmount:        decimal.RequireFromString("310.37"),
		Status:               booking.StatusCompleted,
		ReadyForFinalInvoice: true,
		CompletedAt:          &completed,
		FinalDueAt:           &due,
		Version:              1,
	}
	if mutate != nil {
		mutate(b)
	}
	require.NoError(t, db.Create(b).Error)
	return b
}

func countFinal(t *testing.T, db *gorm.DB, bookingID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&Invoice{}).Where("booking_id = ? AND kind = ?", bookingID, KindFinal).Count(&n).Error)
	return n
}

func TestIssueDepositInTx(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, func(b *booking.Booking) { b.Status = booking.StatusConfirmed })

	var inv *Invoice
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = svc.IssueDepositInTx(tx, b)
		return err
	}))
	assert.Equal(t, "WWT-25-00001", inv.InvoiceNumber)
	assert.Equal(t, StatusSent, inv.Status)
	assert.Equal(t, "310.37", inv.Amount.StringFixed(2))

	_, err := svc.IssueDeposit(context.Background(), b.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDepositAlreadyIssued)
	assert.True(t, apperr.IsStateConflict(err))
}

func TestInsertMapsDuplicateKindToConflict(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, nil)
	require.NoError(t, svc.insert(db, &Invoice{InvoiceNumber: "WWT-25-00001", BookingID: b.ID, Kind: KindDeposit, Amount: b.DepositAmount, Status: StatusSent}))

	err := svc.insert(db, &Invoice{InvoiceNumber: "WWT-25-00002", BookingID: b.ID, Kind: KindDeposit, Amount: b.DepositAmount, Status: StatusSent})
	require.Error(t, err)
	assert.True(t, apperr.IsStateConflict(err))
	assert.ErrorIs(t, err, ErrDepositAlreadyIssued)

	require.NoError(t, svc.insert(db, &Invoice{InvoiceNumber: "WWT-25-00003", BookingID: b.ID, Kind: KindFinal, Amount: b.QuotedTotal, Status: StatusSent}))
	err = svc.insert(db, &Invoice{InvoiceNumber: "WWT-25-00004", BookingID: b.ID, Kind: KindFinal, Amount: b.QuotedTotal, Status: StatusSent})
	assert.ErrorIs(t, err, ErrFinalInvoiceAlreadySent)

	other := seedBooking(t, db, nil)
	err = svc.insert(db, &Invoice{InvoiceNumber: "WWT-25-00001", BookingID: other.ID, Kind: KindDeposit, Amount: other.DepositAmount, Status: StatusSent})
	require.Error(t, err)
	assert.True(t, apperr.IsIntegrity(err))
	assert.ErrorIs(t, err, ErrInvoiceNumberCollision)
}

func TestDepositPaidOnlyCountsPaidDeposit(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, nil)

	paid, err := svc.DepositPaid(db, b.ID)
	require.NoError(t, err)
	assert.True(t, paid.IsZero())

	inv, err := svc.IssueDeposit(context.Background(), seedBooking(t, db, func(b *booking.Booking) { b.Status = booking.StatusConfirmed }).ID)
	require.NoError(t, err)
	paid, err = svc.DepositPaid(db, inv.BookingID)
	require.NoError(t, err)
	assert.True(t, paid.IsZero(), "SENT deposit is not paid")

	require.NoError(t, db.Model(&Invoice{}).Where("id = ?", inv.ID).Update("status", StatusPaid).Error)
	paid, err = svc.DepositPaid(db, inv.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "310.37", paid.StringFixed(2))
}

func TestApproveAndSendComputesAmount(t *testing.T) {
	svc, db, n := setup(t)
	b := seedBooking(t, db, func(b *booking.Booking) {
		b.GratuityAmount = decimal.NewFromInt(50)
	})
	require.NoError(t, db.Create(&Invoice{
		InvoiceNumber: "WWT-25-09999",
		BookingID:     b.ID,
		Kind:          KindDeposit,
		Amount:        b.DepositAmount,
		Status:        StatusPaid,
	}).Error)

	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)

	assert.Equal(t, KindFinal, inv.Kind)
	assert.Equal(t, "310.36", inv.Amount.StringFixed(2)) // 620.73 - 310.37
	assert.Equal(t, "50.00", inv.TipAmount.StringFixed(2))
	assert.Equal(t, "360.36", inv.AmountDue().StringFixed(2))
	assert.Equal(t, "310.37", inv.DepositCredit.StringFixed(2))
	require.NotNil(t, inv.DueAt)
	assert.True(t, inv.DueAt.Equal(b.CompletedAt.Add(48*time.Hour)))

	stored, err := booking.NewRepository(db).GetByID(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, stored.FinalInvoiceSent)
	require.NotNil(t, stored.FinalInvoiceApprovedBy)
	assert.Equal(t, "ops-lead", *stored.FinalInvoiceApprovedBy)

	n.AssertCalled(t, "Send", mock.Anything, mock.MatchedBy(func(m notification.Message) bool {
		return m.TemplateID == notification.TemplateFinalInvoice && m.Payload["amount_due"] == "360.36"
	}))
}

func TestApproveAndSendBillsActualHours(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, func(b *booking.Booking) {
		b.ActualHours = decimal.NewNullDecimal(decimal.RequireFromString("7.5"))
	})

	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)
	// 7.5 * 95 = 712.50, tax 63.41; no deposit paid yet
	assert.Equal(t, "775.91", inv.Amount.StringFixed(2))
}

func TestApproveAndSendSharedTourBillsExtras(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, func(b *booking.Booking) {
		b.TourType = rates.Shared
		b.QuotedTotal = decimal.RequireFromString("413.82")
		b.ExtrasTotal = decimal.RequireFromString("620.73")
	})

	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)
	assert.Equal(t, "1034.55", inv.Amount.StringFixed(2))
}

func TestApproveTwiceFails(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, nil)

	_, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)

	_, err = svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFinalInvoiceAlreadySent)
	assert.True(t, apperr.IsStateConflict(err))
	assert.EqualValues(t, 1, countFinal(t, db, b.ID))
}

func TestApproveWithIdempotencyKeyReplays(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, nil)
	other := seedBooking(t, db, nil)

	first, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead", IdempotencyKey: "approve-1"})
	require.NoError(t, err)
	again, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead", IdempotencyKey: "approve-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.InvoiceNumber, again.InvoiceNumber)
	assert.EqualValues(t, 1, countFinal(t, db, b.ID))

	_, err = svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: other.ID, Approver: "ops-lead", IdempotencyKey: "approve-1"})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
}

func TestApproveRequiresHourSync(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, func(b *booking.Booking) {
		b.Status = booking.StatusConfirmed
		b.ReadyForFinalInvoice = false
		b.ActualHours = decimal.NullDecimal{}
	})

	_, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.Error(t, err)
	assert.True(t, apperr.IsEligibility(err))
	assert.ErrorIs(t, err, ErrNotReadyForFinalInvoice)
	assert.EqualValues(t, 0, countFinal(t, db, b.ID))

	var counters int64
	require.NoError(t, db.Model(&sequence.Counter{}).Count(&counters).Error)
	assert.Zero(t, counters, "no number is consumed on rejection")
}

func TestApproveRejectsCancelledAndMissingApprover(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, func(b *booking.Booking) { b.Status = booking.StatusCancelled })

	_, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	assert.ErrorIs(t, err, ErrBookingCancelled)

	_, err = svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID})
	assert.True(t, apperr.IsValidation(err))

	_, err = svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: 4040, Approver: "ops-lead"})
	assert.True(t, apperr.IsNotFound(err))
}

func TestConcurrentApprovalsGetContiguousNumbers(t *testing.T) {
	svc, db, _ := setup(t)
	const n = 12
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = seedBooking(t, db, nil).ID
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: id, Approver: "ops-lead"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, inv.InvoiceNumber)
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	require.Len(t, numbers, n)
	sort.Strings(numbers)
	for i, num := range numbers {
		assert.Equal(t, sequence.Format("WWT", 2025, int64(i+1)), num)
	}
}

func TestCollectPayment(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, nil)
	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)

	declined, err := svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_decline_insufficient"})
	require.NoError(t, err)
	assert.Equal(t, string(payment.Declined), declined.Attempt.Outcome)
	assert.Equal(t, StatusSent, declined.Invoice.Status)

	paid, err := svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Invoice.Status)
	assert.Equal(t, "620.73", paid.Attempt.Amount.StringFixed(2))

	_, err = svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_visa"})
	assert.ErrorIs(t, err, ErrInvoiceAlreadyPaid)

	var attempts int64
	require.NoError(t, db.Model(&PaymentAttempt{}).Where("invoice_id = ?", inv.ID).Count(&attempts).Error)
	assert.EqualValues(t, 2, attempts)

	_, err = svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID})
	assert.True(t, apperr.IsValidation(err))
}

func TestConcurrentCollectChargesOnce(t *testing.T) {
	svc, db, _ := setup(t)
	charger := &countingCharger{delay: 50 * time.Millisecond}
	svc.charger = charger
	b := seedBooking(t, db, nil)
	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_visa"})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, charger.calls())
	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, apperr.IsStateConflict(err), err)
	}
	assert.Equal(t, 1, ok)

	stored, err := svc.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, stored.Status)

	var attempts []PaymentAttempt
	require.NoError(t, db.Where("invoice_id = ?", inv.ID).Find(&attempts).Error)
	require.Len(t, attempts, 1)
	assert.Equal(t, string(payment.Authorized), attempts[0].Outcome)
	assert.Equal(t, charger.keys[0], attempts[0].ChargeKey)
}

func TestCollectReleasesClaimWhenProcessorFails(t *testing.T) {
	svc, db, _ := setup(t)
	charger := &countingCharger{fail: errors.New("processor unreachable")}
	svc.charger = charger
	b := seedBooking(t, db, nil)
	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)

	_, err = svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_visa"})
	require.Error(t, err)

	stored, err := svc.Get(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)

	var attempt PaymentAttempt
	require.NoError(t, db.Where("invoice_id = ?", inv.ID).First(&attempt).Error)
	assert.Equal(t, OutcomeError, attempt.Outcome)

	charger.fail = nil
	paid, err := svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_visa"})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, paid.Invoice.Status)
	assert.NotEqual(t, attempt.ChargeKey, paid.Attempt.ChargeKey)
}

func TestVoidRejectsInvoiceBeingPaid(t *testing.T) {
	svc, db, _ := setup(t)
	b := seedBooking(t, db, nil)
	inv, err := svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: b.ID, Approver: "ops-lead"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&Invoice{}).Where("id = ?", inv.ID).Update("status", StatusPaying).Error)

	_, err = svc.Void(context.Background(), VoidCommand{InvoiceID: inv.ID, Actor: "ops-lead", Reason: "duplicate"})
	assert.ErrorIs(t, err, ErrPaymentInProgress)
	_, err = svc.CollectPayment(context.Background(), CollectCommand{InvoiceID: inv.ID, Token: "tok_visa"})
	assert.ErrorIs(t, err, ErrPaymentInProgress)
}

func TestVoidKeepsNumberConsumed(t *testing.T) {
	svc, db, _ := setup(t)
	first := seedBooking(t, db, func(b *booking.Booking) { b.Status = booking.StatusConfirmed })
	second := seedBooking(t, db, func(b *booking.Booking) { b.Status = booking.StatusConfirmed })

	inv, err := svc.IssueDeposit(context.Background(), first.ID)
	require.NoError(t, err)
	voided, err := svc.Void(context.Background(), VoidCommand{InvoiceID: inv.ID, Actor: "admin", Reason: "duplicate booking"})
	require.NoError(t, err)
	assert.Equal(t, StatusVoid, voided.Status)

	_, err = svc.Void(context.Background(), VoidCommand{InvoiceID: inv.ID, Actor: "admin", Reason: "again"})
	assert.ErrorIs(t, err, ErrInvalidInvoiceState)

	next, err := svc.IssueDeposit(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, "WWT-25-00002", next.InvoiceNumber)

	_, err = svc.Void(context.Background(), VoidCommand{InvoiceID: next.ID, Actor: "admin"})
	assert.True(t, apperr.IsValidation(err))
}

func TestQueueOrdersByTimeSinceCompletion(t *testing.T) {
	svc, db, _ := setup(t)
	recent := time.Date(2025, 6, 19, 12, 0, 0, 0, time.UTC)
	recentDue := recent.Add(48 * time.Hour)
	newer := seedBooking(t, db, func(b *booking.Booking) {
		b.CompletedAt = &recent
		b.FinalDueAt = &recentDue
	})
	older := seedBooking(t, db, nil)
	seedBooking(t, db, func(b *booking.Booking) {
		b.ReadyForFinalInvoice = false
		b.ActualHours = decimal.NullDecimal{}
	})

	entries, err := svc.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, older.ID, entries[0].BookingID)
	assert.Equal(t, "234", entries[0].HoursSinceCompletion.String())
	assert.True(t, entries[0].Overdue)
	assert.Equal(t, newer.ID, entries[1].BookingID)
	assert.False(t, entries[1].Overdue)
	assert.Equal(t, "620.73", entries[1].ProposedAmount.StringFixed(2))

	_, err = svc.ApproveAndSend(context.Background(), ApproveCommand{BookingID: older.ID, Approver: "ops-lead"})
	require.NoError(t, err)
	entries, err = svc.Queue(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
