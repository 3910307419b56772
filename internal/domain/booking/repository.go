package booking

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"winetours/internal/apperr"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*Booking, error) {
	return getByID(r.db.WithContext(ctx), id)
}

func (r *Repository) GetByNumber(ctx context.Context, number string) (*Booking, error) {
	var b Booking
	err := r.db.WithContext(ctx).Where("booking_number = ?", number).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("booking", number, ErrBookingNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

func (r *Repository) List(ctx context.Context, f ListFilter) ([]Booking, int64, error) {
	q := r.db.WithContext(ctx).Model(&Booking{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	var list []Booking
	err := q.Order("tour_date asc, id asc").Limit(f.Limit).Offset(f.Offset).Find(&list).Error
	return list, total, err
}

// AwaitingFinalInvoice returns bookings with synced hours and no final invoice.
func (r *Repository) AwaitingFinalInvoice(ctx context.Context) ([]Booking, error) {
	var list []Booking
	err := r.db.WithContext(ctx).
		Where("ready_for_final_invoice = ? AND final_invoice_sent = ? AND status <> ?", true, false, StatusCancelled).
		Order("completed_at asc, id asc").
		Find(&list).Error
	return list, err
}

// LockForUpdate loads a booking inside tx with a row lock.
func LockForUpdate(tx *gorm.DB, id int64) (*Booking, error) {
	return getByID(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

// CompareAndSwap writes updates only if the booking still has version. It
// bumps the version and reports a state conflict when another writer won.
func CompareAndSwap(tx *gorm.DB, b *Booking, updates map[string]any) error {
	updates["version"] = b.Version + 1
	res := tx.Model(&Booking{}).Where("id = ? AND version = ?", b.ID, b.Version).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return apperr.Conflict("booking", b.ID, ErrStaleBooking)
	}
	b.Version++
	return nil
}

func getByID(db *gorm.DB, id int64) (*Booking, error) {
	var b Booking
	err := db.First(&b, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("booking", id, ErrBookingNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
