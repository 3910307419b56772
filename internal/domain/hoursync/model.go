package hoursync

import (
	"time"

	"github.com/shopspring/decimal"
)

// TimeRecord is a driver shift on a booking's service date.
type TimeRecord struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	BookingID  int64      `gorm:"not null;index" json:"booking_id"`
	DriverName string     `gorm:"size:120;not null" json:"driver_name"`
	ClockIn    time.Time  `gorm:"not null" json:"clock_in"`
	ClockOut   *time.Time `json:"clock_out,omitempty"`
	// ClockOutEventID is fixed at clock-out so a republished event keeps
	// its identity.
	ClockOutEventID *string   `gorm:"size:64;uniqueIndex" json:"clock_out_event_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (TimeRecord) TableName() string { return "time_records" }

// Hours is the worked duration in decimal hours, rounded to cents of an hour.
func (r *TimeRecord) Hours() (decimal.Decimal, bool) {
	if r.ClockOut == nil {
		return decimal.Zero, false
	}
	return WorkedHours(r.ClockIn, *r.ClockOut), true
}

// Marker records that a completion event was processed for a booking. Its
// unique keys make redelivery detectable.
type Marker struct {
	ID           int64           `gorm:"primaryKey" json:"id"`
	BookingID    int64           `gorm:"not null;uniqueIndex:idx_hoursync_markers_booking_record" json:"booking_id"`
	TimeRecordID int64           `gorm:"not null;uniqueIndex:idx_hoursync_markers_booking_record" json:"time_record_id"`
	EventID      string          `gorm:"size:64;not null;uniqueIndex" json:"event_id"`
	Hours        decimal.Decimal `gorm:"type:decimal(8,2);not null" json:"hours"`
	// Applied is false when the booking already had hours or was cancelled.
	Applied   bool      `gorm:"not null" json:"applied"`
	CreatedAt time.Time `json:"created_at"`
}

func (Marker) TableName() string { return "hoursync_markers" }

// Correction logs a manual change of a booking's actual hours.
type Correction struct {
	ID        int64               `gorm:"primaryKey" json:"id"`
	BookingID int64               `gorm:"not null;index" json:"booking_id"`
	OldHours  decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"old_hours"`
	NewHours  decimal.Decimal     `gorm:"type:decimal(8,2);not null" json:"new_hours"`
	Actor     string              `gorm:"size:120;not null" json:"actor"`
	Reason    string              `gorm:"type:text;not null" json:"reason"`
	CreatedAt time.Time           `json:"created_at"`
}

func (Correction) TableName() string { return "hours_corrections" }

func Models() []any {
	return []any{&TimeRecord{}, &Marker{}, &Correction{}}
}

// ClockOutEvent is emitted once per completed shift. EventID is the
// idempotency key.
type ClockOutEvent struct {
	EventID      string    `json:"event_id"`
	TimeRecordID int64     `json:"time_record_id"`
	BookingID    int64     `json:"booking_id"`
	ClockIn      time.Time `json:"clock_in"`
	ClockOut     time.Time `json:"clock_out"`
}

// WorkedHours converts a shift into decimal hours.
func WorkedHours(in, out time.Time) decimal.Decimal {
	secs := decimal.NewFromInt(int64(out.Sub(in) / time.Second))
	return secs.Div(decimal.NewFromInt(3600)).Round(2)
}
