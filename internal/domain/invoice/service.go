package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"winetours/internal/apperr"
	"winetours/internal/database"
	"winetours/internal/domain/booking"
	"winetours/internal/domain/sequence"
	"winetours/internal/logging"
	"winetours/internal/notification"
	"winetours/internal/payment"
)

const defaultFinalDueAfter = 48 * time.Hour

type Service struct {
	db            *gorm.DB
	bookings      *booking.Repository
	numbers       *sequence.Allocator
	charger       payment.Charger
	notifier      notification.Dispatcher
	locker        *redislock.Client
	hub           *QueueHub
	log           logrus.FieldLogger
	tracer        trace.Tracer
	finalDueAfter time.Duration
	lockTTL       time.Duration
	now           func() time.Time
}

type Deps struct {
	DB       *gorm.DB
	Numbers  *sequence.Allocator
	Charger  payment.Charger
	Notifier notification.Dispatcher
	// Locker is optional; without it concurrent approvals are serialized by
	// the booking row lock alone.
	Locker        *redislock.Client
	Hub           *QueueHub
	Log           logrus.FieldLogger
	FinalDueAfter time.Duration
	LockTTL       time.Duration
}

func NewService(d Deps) *Service {
	if d.FinalDueAfter <= 0 {
		d.FinalDueAfter = defaultFinalDueAfter
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 30 * time.Second
	}
	return &Service{
		db:            d.DB,
		bookings:      booking.NewRepository(d.DB),
		numbers:       d.Numbers,
		charger:       d.Charger,
		notifier:      d.Notifier,
		locker:        d.Locker,
		hub:           d.Hub,
		log:           d.Log,
		tracer:        otel.Tracer("winetours/invoice"),
		finalDueAfter: d.FinalDueAfter,
		lockTTL:       d.LockTTL,
		now:           time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return getByID(s.db.WithContext(ctx), id)
}

func (s *Service) ListForBooking(ctx context.Context, bookingID int64) ([]Invoice, error) {
	var list []Invoice
	err := s.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id asc").Find(&list).Error
	return list, err
}

// IssueDepositInTx creates the booking's deposit invoice, already SENT, inside
// the caller's transaction.
func (s *Service) IssueDepositInTx(tx *gorm.DB, b *booking.Booking) (*Invoice, error) {
	var existing int64
	if err := tx.Model(&Invoice{}).Where("booking_id = ? AND kind = ?", b.ID, KindDeposit).Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, apperr.Conflict("booking", b.ID, ErrDepositAlreadyIssued)
	}

	at := s.now()
	num, err := s.numbers.Issue(tx, at)
	if err != nil {
		return nil, err
	}
	inv := &Invoice{
		InvoiceNumber: num.Text,
		BookingID:     b.ID,
		Kind:          KindDeposit,
		Amount:        b.DepositAmount,
		TipAmount:     decimal.Zero,
		Status:        StatusSent,
		DueAt:         &at,
		SentAt:        &at,
	}
	if err := s.insert(tx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// IssueDeposit raises the deposit invoice for a booking made without a
// proposal.
func (s *Service) IssueDeposit(ctx context.Context, bookingID int64) (*Invoice, error) {
	var (
		inv *Invoice
		b   *booking.Booking
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if b, err = booking.LockForUpdate(tx, bookingID); err != nil {
			return err
		}
		if b.Status != booking.StatusConfirmed {
			return apperr.Conflict("booking", b.ID, booking.ErrInvalidBookingState)
		}
		inv, err = s.IssueDepositInTx(tx, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	notification.Fire(ctx, s.notifier, s.log, notification.Message{
		To:         b.ClientEmail,
		TemplateID: notification.TemplateDepositInvoice,
		Payload: map[string]any{
			"booking_number": b.BookingNumber,
			"invoice_number": inv.InvoiceNumber,
			"amount":         inv.Amount.StringFixed(2),
		},
	})
	return inv, nil
}

// DepositPaid is the amount of the booking's deposit invoice once it is PAID,
// zero otherwise.
func (s *Service) DepositPaid(tx *gorm.DB, bookingID int64) (decimal.Decimal, error) {
	var inv Invoice
	err := tx.Where("booking_id = ? AND kind = ? AND status = ?", bookingID, KindDeposit, StatusPaid).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Amount, nil
}

type ApproveCommand struct {
	BookingID int64
	Approver  string
	// IdempotencyKey makes redelivery of the same approval a no-op.
	IdempotencyKey string
}

// ApproveAndSend issues and sends the final invoice for a booking whose hours
// have been synced. It is the only way a FINAL invoice comes into existence.
func (s *Service) ApproveAndSend(ctx context.Context, cmd ApproveCommand) (*Invoice, error) {
	ctx, span := s.tracer.Start(ctx, "invoice.ApproveAndSend", trace.WithAttributes(
		attribute.Int64("booking.id", cmd.BookingID),
	))
	defer span.End()

	approver := strings.TrimSpace(cmd.Approver)
	if approver == "" {
		return nil, apperr.Validation("approver", ErrApproverRequired)
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key != "" {
		prior, err := s.byIdempotencyKey(s.db.WithContext(ctx), key)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			if prior.BookingID != cmd.BookingID {
				return nil, apperr.Conflict("invoice", prior.ID, ErrIdempotencyKeyReused)
			}
			span.SetAttributes(attribute.Bool("invoice.replay", true))
			return prior, nil
		}
	}

	release := s.lockBooking(ctx, cmd.BookingID)
	defer release()

	var (
		inv    *Invoice
		b      *booking.Booking
		replay bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if b, err = booking.LockForUpdate(tx, cmd.BookingID); err != nil {
			return err
		}
		if b.FinalInvoiceSent {
			// A concurrent redelivery of the same key may land here after
			// the first attempt committed.
			if key != "" {
				if prior, err := s.byIdempotencyKey(tx, key); err != nil {
					return err
				} else if prior != nil && prior.BookingID == b.ID {
					inv, replay = prior, true
					return nil
				}
			}
			return apperr.Conflict("booking", b.ID, ErrFinalInvoiceAlreadySent)
		}
		if b.Status == booking.StatusCancelled {
			return apperr.Conflict("booking", b.ID, ErrBookingCancelled)
		}
		if !b.ReadyForFinalInvoice || !b.ActualHours.Valid {
			return apperr.Ineligible("booking", b.ID, ErrNotReadyForFinalInvoice)
		}

		amount, credit, err := s.finalAmount(tx, b)
		if err != nil {
			return err
		}
		at := s.now()
		num, err := s.numbers.Issue(tx, at)
		if err != nil {
			return err
		}
		due := s.dueAt(b, at)
		inv = &Invoice{
			InvoiceNumber: num.Text,
			BookingID:     b.ID,
			Kind:          KindFinal,
			Amount:        amount,
			TipAmount:     b.GratuityAmount,
			Status:        StatusSent,
			HoursBilled:   b.ActualHours,
			DepositCredit: credit,
			DueAt:         &due,
			ApprovedBy:    &approver,
			SentAt:        &at,
		}
		if key != "" {
			inv.IdempotencyKey = &key
		}
		if err := s.insert(tx, inv); err != nil {
			return err
		}
		if err := booking.CompareAndSwap(tx, b, map[string]any{
			"final_invoice_sent":        true,
			"final_invoice_approved_by": approver,
		}); err != nil {
			return err
		}
		b.FinalInvoiceSent = true
		b.FinalInvoiceApprovedBy = &approver
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return nil, err
	}
	if replay {
		span.SetAttributes(attribute.Bool("invoice.replay", true))
		return inv, nil
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":     b.ID,
		"invoice_number": inv.InvoiceNumber,
		"approver":       approver,
		"amount":         inv.Amount.StringFixed(2),
	}).Info("final invoice approved")
	notification.Fire(ctx, s.notifier, s.log, notification.Message{
		To:         b.ClientEmail,
		TemplateID: notification.TemplateFinalInvoice,
		Payload: map[string]any{
			"booking_number": b.BookingNumber,
			"invoice_number": inv.InvoiceNumber,
			"amount":         inv.Amount.StringFixed(2),
			"tip_amount":     inv.TipAmount.StringFixed(2),
			"amount_due":     inv.AmountDue().StringFixed(2),
			"due_at":         inv.DueAt,
		},
	})
	s.hub.Publish(QueueEvent{Type: EventApproved, BookingID: b.ID, InvoiceNumber: inv.InvoiceNumber})
	return inv, nil
}

// finalAmount re-prices the tour at actual hours and credits the paid
// deposit. A deposit larger than the final price leaves nothing due; the
// difference is a manual refund.
func (s *Service) finalAmount(tx *gorm.DB, b *booking.Booking) (amount, credit decimal.Decimal, err error) {
	credit, err = s.DepositPaid(tx, b.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	amount = b.QuotedFinal(b.ActualHours.Decimal).Sub(credit)
	if amount.IsNegative() {
		s.log.WithFields(logrus.Fields{
			"booking_id": b.ID,
			"overpaid":   amount.Neg().StringFixed(2),
		}).Warn("deposit exceeds final price")
		amount = decimal.Zero
	}
	return amount, credit, nil
}

func (s *Service) dueAt(b *booking.Booking, now time.Time) time.Time {
	switch {
	case b.FinalDueAt != nil:
		return *b.FinalDueAt
	case b.CompletedAt != nil:
		return b.CompletedAt.Add(s.finalDueAfter)
	default:
		return now.Add(s.finalDueAfter)
	}
}

func (s *Service) lockBooking(ctx context.Context, bookingID int64) func() {
	if s.locker == nil {
		return func() {}
	}
	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("lock:invoice-approval:%d", bookingID), s.lockTTL, nil)
	if err != nil {
		entry := s.log.WithFields(logrus.Fields{"booking_id": bookingID})
		if errors.Is(err, redislock.ErrNotObtained) {
			entry.Warn("approval lock held elsewhere; relying on row lock")
		} else {
			entry.WithError(err).Warn("approval lock unavailable; relying on row lock")
		}
		return func() {}
	}
	return func() {
		_ = lock.Release(context.Background())
	}
}

type CollectCommand struct {
	InvoiceID int64
	Token     string
}

type CollectResult struct {
	Invoice *Invoice        `json:"invoice"`
	Attempt *PaymentAttempt `json:"attempt"`
}

// CollectPayment charges the amount due. The invoice is claimed as PAYING
// before the processor is called, so a concurrent collect is rejected rather
// than charging twice. A decline is recorded and puts the invoice back to
// SENT.
func (s *Service) CollectPayment(ctx context.Context, cmd CollectCommand) (*CollectResult, error) {
	if strings.TrimSpace(cmd.Token) == "" {
		return nil, apperr.Validation("payment_token", ErrPaymentTokenRequired)
	}
	inv, attempt, err := s.claimForPayment(ctx, cmd.InvoiceID)
	if err != nil {
		return nil, err
	}

	res, err := s.charger.Charge(ctx, attempt.Amount, cmd.Token, attempt.ChargeKey)
	if err != nil {
		logging.LogError(s.log, "invoice", "CollectPayment", "charge failed", inv.InvoiceNumber, err)
		attempt.Outcome = OutcomeError
		attempt.Reason = err.Error()
		if rerr := s.settle(context.WithoutCancel(ctx), inv, attempt, StatusSent); rerr != nil {
			logging.LogError(s.log, "invoice", "CollectPayment", "release payment claim", attempt.ChargeKey, rerr)
		}
		return nil, err
	}

	attempt.Outcome = string(res.Outcome)
	attempt.Reference = res.Reference
	attempt.Reason = res.Reason
	next := StatusSent
	if res.Outcome == payment.Authorized {
		next = StatusPaid
	}
	if err := s.settle(context.WithoutCancel(ctx), inv, attempt, next); err != nil {
		logging.LogError(s.log, "invoice", "CollectPayment", "record charge outcome", res.Reference, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"invoice_number": inv.InvoiceNumber,
		"outcome":        res.Outcome,
	}).Info("payment attempt recorded")
	return &CollectResult{Invoice: inv, Attempt: attempt}, nil
}

// claimForPayment moves a chargeable invoice from SENT to PAYING and opens a
// pending attempt carrying the processor idempotency key.
func (s *Service) claimForPayment(ctx context.Context, invoiceID int64) (*Invoice, *PaymentAttempt, error) {
	var (
		inv     *Invoice
		attempt *PaymentAttempt
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if inv, err = getByID(tx.Clauses(clause.Locking{Strength: "UPDATE"}), invoiceID); err != nil {
			return err
		}
		if err := chargeable(inv); err != nil {
			return err
		}
		upd := tx.Model(&Invoice{}).
			Where("id = ? AND status = ?", inv.ID, StatusSent).
			Update("status", StatusPaying)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return apperr.Conflict("invoice", inv.ID, ErrPaymentInProgress)
		}
		inv.Status = StatusPaying
		attempt = &PaymentAttempt{
			InvoiceID: inv.ID,
			ChargeKey: fmt.Sprintf("%s-%s", inv.InvoiceNumber, uuid.NewString()),
			Amount:    inv.AmountDue(),
			Outcome:   OutcomePending,
		}
		return tx.Create(attempt).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, attempt, nil
}

// settle records the attempt's outcome and releases the PAYING claim.
func (s *Service) settle(ctx context.Context, inv *Invoice, attempt *PaymentAttempt, next Status) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(attempt).Updates(map[string]any{
			"outcome":   attempt.Outcome,
			"reference": attempt.Reference,
			"reason":    attempt.Reason,
		}).Error; err != nil {
			return err
		}
		fields := map[string]any{"status": next}
		var paidAt time.Time
		if next == StatusPaid {
			paidAt = s.now()
			fields["paid_at"] = paidAt
		}
		upd := tx.Model(&Invoice{}).
			Where("id = ? AND status = ?", inv.ID, StatusPaying).
			Updates(fields)
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected != 1 {
			return apperr.Integrity("invoice", inv.ID, ErrInvalidInvoiceState)
		}
		inv.Status = next
		if next == StatusPaid {
			inv.PaidAt = &paidAt
		}
		return nil
	})
}

func chargeable(inv *Invoice) error {
	switch inv.Status {
	case StatusSent:
	case StatusPaid:
		return apperr.Conflict("invoice", inv.ID, ErrInvoiceAlreadyPaid)
	case StatusPaying:
		return apperr.Conflict("invoice", inv.ID, ErrPaymentInProgress)
	default:
		return apperr.Conflict("invoice", inv.ID, ErrInvalidInvoiceState)
	}
	if !inv.AmountDue().IsPositive() {
		return apperr.Conflict("invoice", inv.ID, ErrNothingToCharge)
	}
	return nil
}

type VoidCommand struct {
	InvoiceID int64
	Actor     string
	Reason    string
}

// Void retires an unpaid invoice. Its number stays consumed.
func (s *Service) Void(ctx context.Context, cmd VoidCommand) (*Invoice, error) {
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return nil, apperr.Validation("actor", ErrApproverRequired)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason", ErrVoidReasonRequired)
	}

	var inv *Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if inv, err = getByID(tx.Clauses(clause.Locking{Strength: "UPDATE"}), cmd.InvoiceID); err != nil {
			return err
		}
		switch inv.Status {
		case StatusPaid:
			return apperr.Conflict("invoice", inv.ID, ErrInvoiceAlreadyPaid)
		case StatusPaying:
			return apperr.Conflict("invoice", inv.ID, ErrPaymentInProgress)
		case StatusVoid:
			return apperr.Conflict("invoice", inv.ID, ErrInvalidInvoiceState)
		}
		at := s.now()
		if err := tx.Model(inv).Updates(map[string]any{
			"status":      StatusVoid,
			"voided_at":   at,
			"voided_by":   actor,
			"void_reason": reason,
		}).Error; err != nil {
			return err
		}
		inv.Status = StatusVoid
		inv.VoidedAt = &at
		inv.VoidedBy = &actor
		inv.VoidReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"invoice_number": inv.InvoiceNumber, "actor": actor}).Info("invoice voided")
	return inv, nil
}

// bookingKindIndex names the (booking_id, kind) index as each driver
// reports it.
var bookingKindIndex = []string{"idx_invoices_booking_kind", "invoices.booking_id, invoices.kind"}

func (s *Service) insert(tx *gorm.DB, inv *Invoice) error {
	err := tx.Create(inv).Error
	if err == nil {
		return nil
	}
	switch {
	case database.IsUniqueViolationOn(err, bookingKindIndex...):
		// A racing issue of the same kind committed first.
		if inv.Kind == KindDeposit {
			return apperr.Conflict("booking", inv.BookingID, ErrDepositAlreadyIssued)
		}
		return apperr.Conflict("booking", inv.BookingID, ErrFinalInvoiceAlreadySent)
	case database.IsUniqueViolation(err):
		err = apperr.Integrity("invoice", inv.InvoiceNumber, fmt.Errorf("%w: %v", ErrInvoiceNumberCollision, err))
		logging.LogError(s.log, "invoice", "insert", "unique violation while persisting invoice", inv.InvoiceNumber, err)
	}
	return err
}

func (s *Service) byIdempotencyKey(db *gorm.DB, key string) (*Invoice, error) {
	var inv Invoice
	err := db.Where("idempotency_key = ?", key).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func getByID(db *gorm.DB, id int64) (*Invoice, error) {
	var inv Invoice
	err := db.First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("invoice", id, ErrInvoiceNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
