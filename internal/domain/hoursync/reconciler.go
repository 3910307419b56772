// Package hoursync copies worked hours from completed driver shifts onto
// bookings and marks them ready for final invoicing.
package hoursync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"winetours/internal/apperr"
	"winetours/internal/database"
	"winetours/internal/domain/booking"
)

const defaultFinalDueAfter = 48 * time.Hour

// ReadySink hears about bookings that joined the final-invoice queue.
type ReadySink interface {
	BookingReady(bookingID int64)
}

type Reconciler struct {
	db            *gorm.DB
	sink          ReadySink
	log           logrus.FieldLogger
	finalDueAfter time.Duration
	now           func() time.Time
}

func NewReconciler(db *gorm.DB, sink ReadySink, log logrus.FieldLogger, finalDueAfter time.Duration) *Reconciler {
	if finalDueAfter <= 0 {
		finalDueAfter = defaultFinalDueAfter
	}
	return &Reconciler{db: db, sink: sink, log: log, finalDueAfter: finalDueAfter, now: time.Now}
}

type Result struct {
	BookingID            int64           `json:"booking_id"`
	ActualHoursApplied   decimal.Decimal `json:"actual_hours_applied"`
	ReadyForFinalInvoice bool            `json:"ready_for_final_invoice"`
	// Applied is false when the event changed nothing.
	Applied   bool `json:"applied"`
	Duplicate bool `json:"duplicate"`
}

func (ev ClockOutEvent) validate() error {
	switch {
	case strings.TrimSpace(ev.EventID) == "":
		return apperr.Validation("event_id", ErrEventIDRequired)
	case ev.BookingID <= 0 || ev.TimeRecordID <= 0:
		return apperr.Validation("booking_id", ErrInvalidReference)
	case !ev.ClockOut.After(ev.ClockIn):
		return apperr.Validation("clock_out", ErrInvalidShift)
	}
	return nil
}

// Reconcile applies one clock-out. The first completed shift wins; later
// shifts and redeliveries of the same event are recorded but change nothing.
// Hours come from the stored time record, which must belong to the event's
// booking and be clocked out.
func (r *Reconciler) Reconcile(ctx context.Context, ev ClockOutEvent) (*Result, error) {
	if err := ev.validate(); err != nil {
		return nil, err
	}

	var hours decimal.Decimal
	res := &Result{BookingID: ev.BookingID}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := booking.LockForUpdate(tx, ev.BookingID)
		if err != nil {
			return err
		}
		rec, err := getRecord(tx, ev.TimeRecordID)
		if err != nil {
			return err
		}
		if rec.BookingID != b.ID {
			return apperr.Validation("time_record_id", ErrRecordBookingMismatch)
		}
		worked, closed := rec.Hours()
		if !closed {
			return apperr.Validation("time_record_id", ErrNotClockedOut)
		}
		hours = worked
		completedAt := *rec.ClockOut

		res.ActualHoursApplied = b.ActualHours.Decimal
		res.ReadyForFinalInvoice = b.ReadyForFinalInvoice

		seen, err := alreadyProcessed(tx, ev)
		if err != nil || seen {
			res.Duplicate = seen
			return err
		}

		marker := &Marker{BookingID: b.ID, TimeRecordID: ev.TimeRecordID, EventID: ev.EventID, Hours: hours}
		if !b.ActualHours.Valid && b.Status == booking.StatusConfirmed {
			updates := map[string]any{
				"actual_hours":            decimal.NewNullDecimal(hours),
				"ready_for_final_invoice": true,
				"status":                  booking.StatusCompleted,
				"completed_at":            completedAt,
			}
			if b.FinalDueForcedBy == nil {
				updates["final_due_at"] = completedAt.Add(r.finalDueAfter)
			}
			if err := booking.CompareAndSwap(tx, b, updates); err != nil {
				return err
			}
			marker.Applied = true
			res.Applied = true
			res.ActualHoursApplied = hours
			res.ReadyForFinalInvoice = true
		}
		if err := tx.Create(marker).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.Conflict("booking", b.ID, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entry := r.log.WithFields(logrus.Fields{
		"booking_id":     ev.BookingID,
		"time_record_id": ev.TimeRecordID,
		"event_id":       ev.EventID,
		"hours":          hours.String(),
	})
	switch {
	case res.Duplicate:
		entry.Debug("clock-out already reconciled")
	case res.Applied:
		entry.Info("actual hours applied")
		if r.sink != nil {
			r.sink.BookingReady(ev.BookingID)
		}
	default:
		entry.Warn("clock-out recorded without changing booking")
	}
	return res, nil
}

func alreadyProcessed(tx *gorm.DB, ev ClockOutEvent) (bool, error) {
	var m Marker
	err := tx.Where("event_id = ? OR (booking_id = ? AND time_record_id = ?)", ev.EventID, ev.BookingID, ev.TimeRecordID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

type CorrectionCommand struct {
	BookingID int64
	Hours     decimal.Decimal
	Actor     string
	Reason    string
}

// CorrectHours overrides a booking's actual hours and logs the change. Once
// the final invoice is out, corrections are manual adjustments instead.
func (r *Reconciler) CorrectHours(ctx context.Context, cmd CorrectionCommand) (*booking.Booking, error) {
	actor := strings.TrimSpace(cmd.Actor)
	reason := strings.TrimSpace(cmd.Reason)
	switch {
	case !cmd.Hours.IsPositive():
		return nil, apperr.Validation("hours", ErrInvalidHours)
	case actor == "":
		return nil, apperr.Validation("actor", ErrActorRequired)
	case reason == "":
		return nil, apperr.Validation("reason", ErrReasonRequired)
	}
	hours := cmd.Hours.Round(2)

	var b *booking.Booking
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if b, err = booking.LockForUpdate(tx, cmd.BookingID); err != nil {
			return err
		}
		if b.FinalInvoiceSent {
			return apperr.Conflict("booking", b.ID, ErrInvoiceAlreadyFinalized)
		}
		if b.Status == booking.StatusCancelled {
			return apperr.Conflict("booking", b.ID, booking.ErrInvalidBookingState)
		}

		if err := tx.Create(&Correction{
			BookingID: b.ID,
			OldHours:  b.ActualHours,
			NewHours:  hours,
			Actor:     actor,
			Reason:    reason,
		}).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"actual_hours":            decimal.NewNullDecimal(hours),
			"ready_for_final_invoice": true,
			"status":                  booking.StatusCompleted,
		}
		if b.CompletedAt == nil {
			at := r.now()
			updates["completed_at"] = at
			b.CompletedAt = &at
			if b.FinalDueForcedBy == nil {
				due := at.Add(r.finalDueAfter)
				updates["final_due_at"] = due
				b.FinalDueAt = &due
			}
		}
		if err := booking.CompareAndSwap(tx, b, updates); err != nil {
			return err
		}
		b.ActualHours = decimal.NewNullDecimal(hours)
		b.ReadyForFinalInvoice = true
		b.Status = booking.StatusCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"actor":      actor,
		"new_hours":  hours.String(),
	}).Info("actual hours corrected")
	if r.sink != nil {
		r.sink.BookingReady(b.ID)
	}
	return b, nil
}

func (r *Reconciler) Corrections(ctx context.Context, bookingID int64) ([]Correction, error) {
	var list []Correction
	err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id asc").Find(&list).Error
	return list, err
}
