package hoursync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"winetours/internal/apperr"
	"winetours/internal/domain/booking"
	"winetours/internal/logging"
)

// EventPublisher hands a completed shift to the reconciler, directly or
// through a queue.
type EventPublisher interface {
	Publish(ctx context.Context, ev ClockOutEvent) error
}

// DirectPublisher reconciles in-process.
type DirectPublisher struct {
	Reconciler *Reconciler
}

func (p DirectPublisher) Publish(ctx context.Context, ev ClockOutEvent) error {
	_, err := p.Reconciler.Reconcile(ctx, ev)
	return err
}

// TimeClock stores driver shifts and emits a ClockOutEvent when one ends.
type TimeClock struct {
	db        *gorm.DB
	publisher EventPublisher
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewTimeClock(db *gorm.DB, publisher EventPublisher, log logrus.FieldLogger) *TimeClock {
	return &TimeClock{db: db, publisher: publisher, log: log, now: time.Now}
}

type ClockInCommand struct {
	BookingID  int64
	DriverName string
	At         time.Time
}

func (c *TimeClock) ClockIn(ctx context.Context, cmd ClockInCommand) (*TimeRecord, error) {
	driver := strings.TrimSpace(cmd.DriverName)
	if driver == "" {
		return nil, apperr.Validation("driver_name", ErrDriverRequired)
	}
	at := cmd.At
	if at.IsZero() {
		at = c.now()
	}

	rec := &TimeRecord{BookingID: cmd.BookingID, DriverName: driver, ClockIn: at}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := booking.LockForUpdate(tx, cmd.BookingID)
		if err != nil {
			return err
		}
		if b.Status == booking.StatusCancelled {
			return apperr.Conflict("booking", b.ID, booking.ErrInvalidBookingState)
		}
		var open int64
		if err := tx.Model(&TimeRecord{}).Where("booking_id = ? AND clock_out IS NULL", b.ID).Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.Conflict("booking", b.ID, ErrAlreadyClockedIn)
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ClockOut closes a shift and publishes its completion. A publish failure
// leaves the shift closed; Republish retries with the same event id.
func (c *TimeClock) ClockOut(ctx context.Context, recordID int64, at time.Time) (*TimeRecord, error) {
	if at.IsZero() {
		at = c.now()
	}
	var rec *TimeRecord
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if rec, err = getRecord(tx.Clauses(clause.Locking{Strength: "UPDATE"}), recordID); err != nil {
			return err
		}
		if rec.ClockOut != nil {
			return apperr.Conflict("time_record", rec.ID, ErrAlreadyClockedOut)
		}
		if !at.After(rec.ClockIn) {
			return apperr.Validation("clock_out", ErrInvalidShift)
		}
		eventID := uuid.NewString()
		if err := tx.Model(rec).Updates(map[string]any{"clock_out": at, "clock_out_event_id": eventID}).Error; err != nil {
			return err
		}
		rec.ClockOut = &at
		rec.ClockOutEventID = &eventID
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.publish(ctx, rec)
	return rec, nil
}

// Republish re-emits the completion event of a closed shift.
func (c *TimeClock) Republish(ctx context.Context, recordID int64) error {
	rec, err := getRecord(c.db.WithContext(ctx), recordID)
	if err != nil {
		return err
	}
	if rec.ClockOut == nil || rec.ClockOutEventID == nil {
		return apperr.Conflict("time_record", rec.ID, ErrNotClockedOut)
	}
	return c.publisher.Publish(ctx, eventFor(rec))
}

func (c *TimeClock) ListForBooking(ctx context.Context, bookingID int64) ([]TimeRecord, error) {
	var list []TimeRecord
	err := c.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("clock_in asc").Find(&list).Error
	return list, err
}

func (c *TimeClock) publish(ctx context.Context, rec *TimeRecord) {
	if err := c.publisher.Publish(ctx, eventFor(rec)); err != nil {
		logging.LogError(c.log, "hoursync", "ClockOut", "clock-out event not delivered", rec.ID, err)
	}
}

func eventFor(rec *TimeRecord) ClockOutEvent {
	return ClockOutEvent{
		EventID:      *rec.ClockOutEventID,
		TimeRecordID: rec.ID,
		BookingID:    rec.BookingID,
		ClockIn:      rec.ClockIn,
		ClockOut:     *rec.ClockOut,
	}
}

func getRecord(db *gorm.DB, id int64) (*TimeRecord, error) {
	var rec TimeRecord
	err := db.First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("time_record", id, ErrTimeRecordNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
