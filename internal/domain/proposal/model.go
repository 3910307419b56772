package proposal

import (
	"time"

	"github.com/shopspring/decimal"

	"winetours/internal/domain/rates"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusAccepted  Status = "ACCEPTED"
	StatusExpired   Status = "EXPIRED"
	StatusWithdrawn Status = "WITHDRAWN"
)

// AllowedTransitions is the proposal state flow. ACCEPTED, EXPIRED and
// WITHDRAWN are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusDraft: {StatusSent, StatusWithdrawn},
	StatusSent:  {StatusAccepted, StatusExpired, StatusWithdrawn},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Proposal struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	ProposalNumber string `gorm:"size:32;uniqueIndex;not null" json:"proposal_number"`
	ClientName     string `gorm:"size:160;not null" json:"client_name"`
	ClientEmail    string `gorm:"size:160;not null" json:"client_email"`
	ClientPhone    string `gorm:"size:40" json:"client_phone,omitempty"`

	Items           []ServiceItem       `gorm:"foreignKey:ProposalID;constraint:OnDelete:CASCADE" json:"items"`
	Subtotal        decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	Tax             decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"tax"`
	Total           decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"total"`
	DepositAmount   decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"deposit_amount"`
	DepositOverride decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"deposit_override"`
	GratuityEnabled bool                `gorm:"not null;default:false" json:"gratuity_enabled"`
	RateVersion     int64               `gorm:"not null" json:"rate_version"`

	Status     Status    `gorm:"size:16;not null;index" json:"status"`
	ValidUntil time.Time `gorm:"not null;index" json:"valid_until"`
	Version    int64     `gorm:"not null;default:1" json:"version"`
	CreatedBy  string    `gorm:"size:120" json:"created_by"`

	AcceptedBy                 *string             `gorm:"size:120" json:"accepted_by,omitempty"`
	AcceptedAt                 *time.Time          `json:"accepted_at,omitempty"`
	GratuityAmount             decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"gratuity_amount"`
	FinalTotal                 decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"final_total"`
	Signature                  string              `gorm:"type:text" json:"signature,omitempty"`
	SignatureAt                *time.Time          `json:"signature_at,omitempty"`
	TermsAccepted              bool                `gorm:"not null;default:false" json:"terms_accepted"`
	CancellationPolicyAccepted bool                `gorm:"not null;default:false" json:"cancellation_policy_accepted"`
	BookingID                  *int64              `gorm:"index" json:"booking_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Proposal) TableName() string { return "proposals" }

// ServiceItem is one independently quoted tour. A price override replaces
// the quoted subtotal; tax is recomputed on it.
type ServiceItem struct {
	ID             int64               `gorm:"primaryKey" json:"id"`
	ProposalID     int64               `gorm:"not null;index" json:"proposal_id"`
	Position       int                 `gorm:"not null" json:"position"`
	Description    string              `gorm:"size:200" json:"description,omitempty"`
	PartySize      int                 `gorm:"not null" json:"party_size"`
	RequestedHours decimal.Decimal     `gorm:"type:decimal(8,2);not null" json:"requested_hours"`
	BilledHours    decimal.Decimal     `gorm:"type:decimal(8,2);not null" json:"billed_hours"`
	TourDate       time.Time           `gorm:"not null" json:"tour_date"`
	TourType       rates.TourType      `gorm:"size:16;not null" json:"tour_type"`
	LunchIncluded  bool                `gorm:"not null;default:false" json:"lunch_included"`
	WeekdayGroup   rates.WeekdayGroup  `gorm:"size:16;not null" json:"weekday_group"`
	HourlyRate     decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"hourly_rate"`
	PerPersonRate  decimal.Decimal     `gorm:"type:decimal(12,2);not null;default:0" json:"per_person_rate"`
	TaxRate        decimal.Decimal     `gorm:"type:decimal(6,4);not null" json:"tax_rate"`
	Subtotal       decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	Tax            decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"tax"`
	Total          decimal.Decimal     `gorm:"type:decimal(12,2);not null" json:"total"`
	PriceOverride  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"price_override"`
	OverrideReason string              `gorm:"type:text" json:"override_reason,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (ServiceItem) TableName() string { return "proposal_items" }

// Quote rebuilds the engine quote the item was priced from, with the
// override applied.
func (i ServiceItem) Quote(rateVersion int64) rates.Quote {
	return rates.Quote{
		PartySize:     i.PartySize,
		Hours:         i.RequestedHours,
		BilledHours:   i.BilledHours,
		TourDate:      i.TourDate,
		TourType:      i.TourType,
		LunchIncluded: i.LunchIncluded,
		WeekdayGroup:  i.WeekdayGroup,
		HourlyRate:    i.HourlyRate,
		PerPersonRate: i.PerPersonRate,
		TaxRate:       i.TaxRate,
		Subtotal:      i.Subtotal,
		Tax:           i.Tax,
		Total:         i.Total,
		RateVersion:   rateVersion,
	}
}

// Event is one status change.
type Event struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	ProposalID int64     `gorm:"not null;index" json:"proposal_id"`
	FromStatus Status    `gorm:"size:16" json:"from_status"`
	ToStatus   Status    `gorm:"size:16;not null" json:"to_status"`
	Actor      string    `gorm:"size:120;not null" json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Event) TableName() string { return "proposal_events" }

func Models() []any {
	return []any{&Proposal{}, &ServiceItem{}, &Event{}}
}
