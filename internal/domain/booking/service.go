package booking

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"winetours/internal/apperr"
	"winetours/internal/domain/rates"
	"winetours/internal/domain/refund"
	"winetours/internal/domain/sequence"
	"winetours/internal/notification"
)

// RateSource supplies the active rate table for direct bookings.
type RateSource interface {
	Active(ctx context.Context) (*rates.Table, error)
}

// DepositLedger reports how much deposit a booking has actually paid.
type DepositLedger interface {
	DepositPaid(tx *gorm.DB, bookingID int64) (decimal.Decimal, error)
}

type Service struct {
	db       *gorm.DB
	repo     *Repository
	rates    RateSource
	numbers  *sequence.Allocator
	refunds  *refund.Registry
	ledger   DepositLedger
	notifier notification.Dispatcher
	log      logrus.FieldLogger
	loc      *time.Location
	now      func() time.Time
}

type Deps struct {
	DB       *gorm.DB
	Rates    RateSource
	Numbers  *sequence.Allocator
	Refunds  *refund.Registry
	Ledger   DepositLedger
	Notifier notification.Dispatcher
	Log      logrus.FieldLogger
	Location *time.Location
}

func NewService(d Deps) *Service {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:       d.DB,
		repo:     NewRepository(d.DB),
		rates:    d.Rates,
		numbers:  d.Numbers,
		refunds:  d.Refunds,
		ledger:   d.Ledger,
		notifier: d.Notifier,
		log:      d.Log,
		loc:      loc,
		now:      time.Now,
	}
}

func (s *Service) Repository() *Repository { return s.repo }

// CreateInTx persists a booking inside the caller's transaction.
func (s *Service) CreateInTx(tx *gorm.DB, in NewBooking) (*Booking, error) {
	if strings.TrimSpace(in.ClientEmail) == "" {
		return nil, apperr.Validation("client_email", ErrClientEmailRequired)
	}
	num, err := s.numbers.Issue(tx, s.now())
	if err != nil {
		return nil, err
	}
	q := in.Quote
	b := &Booking{
		BookingNumber:  num.Text,
		ProposalID:     in.ProposalID,
		ClientName:     strings.TrimSpace(in.ClientName),
		ClientEmail:    strings.TrimSpace(in.ClientEmail),
		ClientPhone:    strings.TrimSpace(in.ClientPhone),
		TourDate:       q.TourDate,
		TourType:       q.TourType,
		LunchIncluded:  q.LunchIncluded,
		PartySize:      q.PartySize,
		EstimatedHours: q.BilledHours,
		HourlyRate:     q.HourlyRate,
		TaxRate:        q.TaxRate,
		RateVersion:    q.RateVersion,
		QuotedTotal:    q.Total,
		ExtrasTotal:    in.ExtrasTotal,
		GratuityAmount: in.GratuityAmount,
		DepositAmount:  in.DepositAmount,
		Status:         StatusConfirmed,
		Version:        1,
	}
	if err := tx.Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

type DirectCommand struct {
	ClientName  string
	ClientEmail string
	ClientPhone string
	Request     rates.QuoteRequest
	// DepositPct overrides the rate table default when set.
	DepositPct *decimal.Decimal
}

// Create books a tour without a proposal, quoting it with the active table.
func (s *Service) Create(ctx context.Context, cmd DirectCommand) (*Booking, error) {
	table, err := s.rates.Active(ctx)
	if err != nil {
		return nil, err
	}
	q, err := table.Quote(cmd.Request)
	if err != nil {
		return nil, err
	}
	pct := table.DefaultDepositPct
	if cmd.DepositPct != nil {
		pct = *cmd.DepositPct
	}

	var b *Booking
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		b, err = s.CreateInTx(tx, NewBooking{
			ClientName:    cmd.ClientName,
			ClientEmail:   cmd.ClientEmail,
			ClientPhone:   cmd.ClientPhone,
			Quote:         q,
			DepositAmount: rates.RoundMoney(q.Total.Mul(pct)),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

type CancelCommand struct {
	BookingID   int64
	CancelledAt time.Time
	Actor       string
	Reason      string
	// ReasonCode selects a special-circumstance refund policy, if configured.
	ReasonCode string
}

type CancelResult struct {
	Booking *Booking        `json:"booking"`
	Refund  refund.Refund   `json:"refund"`
	Amount  decimal.Decimal `json:"refund_amount"`
}

// PreviewRefund computes the refund a cancellation at cancelledAt would get.
func (s *Service) PreviewRefund(ctx context.Context, bookingID int64, cancelledAt time.Time, reasonCode string) (*CancelResult, error) {
	var res *CancelResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := getByID(tx, bookingID)
		if err != nil {
			return err
		}
		res, err = s.refundFor(tx, b, cancelledAt, reasonCode)
		return err
	})
	return res, err
}

// Cancel cancels a confirmed booking and records the refund owed on the
// paid deposit.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*CancelResult, error) {
	if strings.TrimSpace(cmd.Actor) == "" {
		return nil, apperr.Validation("actor", ErrActorRequired)
	}
	if strings.TrimSpace(cmd.Reason) == "" {
		return nil, apperr.Validation("reason", ErrReasonRequired)
	}
	if cmd.CancelledAt.IsZero() {
		cmd.CancelledAt = s.now()
	}

	var res *CancelResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := LockForUpdate(tx, cmd.BookingID)
		if err != nil {
			return err
		}
		if b.FinalInvoiceSent {
			return apperr.Conflict("booking", b.ID, ErrFinalInvoiceSent)
		}
		if b.Status != StatusConfirmed {
			return apperr.Conflict("booking", b.ID, ErrInvalidBookingState)
		}

		res, err = s.refundFor(tx, b, cmd.CancelledAt, cmd.ReasonCode)
		if err != nil {
			return err
		}
		cancelledAt := cmd.CancelledAt
		pct := res.Refund.Pct
		if err := CompareAndSwap(tx, b, map[string]any{
			"status":                  StatusCancelled,
			"cancelled_at":            cancelledAt,
			"cancel_reason":           strings.TrimSpace(cmd.Reason),
			"refund_pct":              pct,
			"refund_amount":           decimal.NewNullDecimal(res.Amount),
			"ready_for_final_invoice": false,
		}); err != nil {
			return err
		}
		b.Status = StatusCancelled
		b.CancelledAt = &cancelledAt
		b.CancelReason = strings.TrimSpace(cmd.Reason)
		b.RefundPct = &pct
		b.RefundAmount = decimal.NewNullDecimal(res.Amount)
		b.ReadyForFinalInvoice = false
		res.Booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":  res.Booking.ID,
		"actor":       cmd.Actor,
		"notice_days": res.Refund.NoticeDays,
		"refund_pct":  res.Refund.Pct,
	}).Info("booking cancelled")
	notification.Fire(ctx, s.notifier, s.log, notification.Message{
		To:         res.Booking.ClientEmail,
		TemplateID: notification.TemplateBookingCancelled,
		Payload: map[string]any{
			"booking_number": res.Booking.BookingNumber,
			"refund_pct":     res.Refund.Pct,
			"refund_amount":  res.Amount.StringFixed(2),
		},
	})
	return res, nil
}

func (s *Service) refundFor(tx *gorm.DB, b *Booking, cancelledAt time.Time, reasonCode string) (*CancelResult, error) {
	paid := decimal.Zero
	if s.ledger != nil {
		var err error
		if paid, err = s.ledger.DepositPaid(tx, b.ID); err != nil {
			return nil, err
		}
	}
	tourDay := time.Date(b.TourDate.Year(), b.TourDate.Month(), b.TourDate.Day(), 0, 0, 0, 0, s.loc)
	r := s.refunds.For(reasonCode).Compute(tourDay, cancelledAt)
	return &CancelResult{Booking: b, Refund: r, Amount: r.Amount(paid)}, nil
}

// ForceFinalDueNow makes the final payment due immediately instead of after
// the post-completion grace window.
func (s *Service) ForceFinalDueNow(ctx context.Context, bookingID int64, actor string) (*Booking, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperr.Validation("actor", ErrActorRequired)
	}
	var b *Booking
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if b, err = LockForUpdate(tx, bookingID); err != nil {
			return err
		}
		if b.FinalInvoiceSent {
			return apperr.Conflict("booking", b.ID, ErrFinalInvoiceSent)
		}
		if b.Status == StatusCancelled {
			return apperr.Conflict("booking", b.ID, ErrInvalidBookingState)
		}
		due := s.now()
		if err := CompareAndSwap(tx, b, map[string]any{"final_due_at": due, "final_due_forced_by": actor}); err != nil {
			return err
		}
		b.FinalDueAt = &due
		b.FinalDueForcedBy = &actor
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
