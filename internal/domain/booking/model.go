package booking

import (
	"time"

	"github.com/shopspring/decimal"

	"winetours/internal/domain/rates"
)

type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Booking is a confirmed tour. Money fields are snapshots taken from the
// rate version active when it was quoted.
type Booking struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	BookingNumber string `gorm:"size:32;uniqueIndex;not null" json:"booking_number"`
	// ProposalID is a back-reference only; deleting a booking never touches
	// the proposal and vice versa.
	ProposalID  *int64 `gorm:"index" json:"proposal_id,omitempty"`
	ClientName  string `gorm:"size:160;not null" json:"client_name"`
	ClientEmail string `gorm:"size:160;not null" json:"client_email"`
	ClientPhone string `gorm:"size:40" json:"client_phone,omitempty"`

	TourDate       time.Time           `gorm:"not null;index" json:"tour_date"`
	TourType       rates.TourType      `gorm:"size:16;not null" json:"tour_type"`
	LunchIncluded  bool                `gorm:"not null;default:false" json:"lunch_included"`
	PartySize      int                 `gorm:"not null" json:"party_size"`
	EstimatedHours decimal.Decimal     `gorm:"type:decimal(8,2);not null" json:"estimated_hours"`
	ActualHours    decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"actual_hours"`
	HourlyRate     decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"hourly_rate"`
	TaxRate        decimal.Decimal     `gorm:"type:decimal(6,4);not null" json:"tax_rate"`
	RateVersion    int64               `gorm:"not null" json:"rate_version"`
	QuotedTotal    decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"quoted_total"`
	// ExtrasTotal carries proposal items beyond the primary tour; they are
	// billed as quoted.
	ExtrasTotal    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"extras_total"`
	GratuityAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"gratuity_amount"`
	DepositAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"deposit_amount"`

	Status                 Status     `gorm:"size:16;not null;index" json:"status"`
	ReadyForFinalInvoice   bool       `gorm:"not null;default:false;index" json:"ready_for_final_invoice"`
	FinalInvoiceSent       bool       `gorm:"not null;default:false" json:"final_invoice_sent"`
	FinalInvoiceApprovedBy *string    `gorm:"size:120" json:"final_invoice_approved_by,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	FinalDueAt             *time.Time `json:"final_due_at,omitempty"`
	FinalDueForcedBy       *string    `gorm:"size:120" json:"final_due_forced_by,omitempty"`

	CancelledAt  *time.Time          `json:"cancelled_at,omitempty"`
	CancelReason string              `gorm:"type:text" json:"cancel_reason,omitempty"`
	RefundPct    *int                `json:"refund_pct,omitempty"`
	RefundAmount decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"refund_amount"`

	Version   int64     `gorm:"not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

func Models() []any {
	return []any{&Booking{}}
}

// QuotedFinal is what the booking costs before deposit credit: the
// hour-dependent tour at hours plus extras. A shared tour is priced per
// seat, so its hours never move the price.
func (b *Booking) QuotedFinal(hours decimal.Decimal) decimal.Decimal {
	if b.TourType == rates.Shared {
		return b.QuotedTotal.Add(b.ExtrasTotal)
	}
	_, total := rates.Taxed(b.HourlyRate.Mul(hours), b.TaxRate)
	return total.Add(b.ExtrasTotal)
}

// NewBooking is the input for creating a booking from an accepted proposal.
type NewBooking struct {
	ProposalID     *int64
	ClientName     string
	ClientEmail    string
	ClientPhone    string
	Quote          rates.Quote
	ExtrasTotal    decimal.Decimal
	GratuityAmount decimal.Decimal
	DepositAmount  decimal.Decimal
}
