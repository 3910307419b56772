package invoice

import (
	"time"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDeposit Kind = "DEPOSIT"
	KindFinal   Kind = "FINAL"
)

type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusSent   Status = "SENT"
	// StatusPaying marks an invoice claimed by a charge in flight.
	StatusPaying Status = "PAYING"
	StatusPaid   Status = "PAID"
	StatusVoid   Status = "VOID"
)

// Invoice belongs to a booking. The (booking_id, kind) index bounds a
// booking to one deposit and one final invoice.
type Invoice struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	InvoiceNumber string          `gorm:"size:32;uniqueIndex;not null" json:"invoice_number"`
	BookingID     int64           `gorm:"not null;uniqueIndex:idx_invoices_booking_kind" json:"booking_id"`
	Kind          Kind            `gorm:"size:16;not null;uniqueIndex:idx_invoices_booking_kind" json:"kind"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	TipAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tip_amount"`
	Status        Status          `gorm:"size:16;not null;index" json:"status"`

	HoursBilled    decimal.NullDecimal `gorm:"type:decimal(8,2)" json:"hours_billed"`
	DepositCredit  decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"deposit_credit"`
	DueAt          *time.Time          `json:"due_at,omitempty"`
	ApprovedBy     *string             `gorm:"size:120" json:"approved_by,omitempty"`
	IdempotencyKey *string             `gorm:"size:80;uniqueIndex" json:"-"`

	SentAt     *time.Time `json:"sent_at,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidedBy   *string    `gorm:"size:120" json:"voided_by,omitempty"`
	VoidReason string     `gorm:"type:text" json:"void_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// AmountDue is what the client is asked to pay.
func (i *Invoice) AmountDue() decimal.Decimal {
	return i.Amount.Add(i.TipAmount)
}

// Outcomes an attempt can hold besides the processor's own.
const (
	OutcomePending = "pending"
	OutcomeError   = "error"
)

// PaymentAttempt records every charge made against an invoice, including
// declines. Its ChargeKey is the idempotency key handed to the processor.
type PaymentAttempt struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	InvoiceID int64           `gorm:"not null;index" json:"invoice_id"`
	ChargeKey string          `gorm:"size:64;uniqueIndex;not null" json:"charge_key"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Outcome   string          `gorm:"size:16;not null" json:"outcome"`
	Reference string          `gorm:"size:80" json:"reference"`
	Reason    string          `gorm:"size:200" json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }

func Models() []any {
	return []any{&Invoice{}, &PaymentAttempt{}}
}
