package rates

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type WeekdayGroup string

const (
	SunWed WeekdayGroup = "SUN_WED"
	ThuSat WeekdayGroup = "THU_SAT"
)

var weekdayGroups = []WeekdayGroup{SunWed, ThuSat}

type TourType string

const (
	Private TourType = "PRIVATE"
	Shared  TourType = "SHARED"
)

// Tier prices one party-size range for one weekday group.
type Tier struct {
	MinParty     int             `json:"min_party" validate:"gte=1"`
	MaxParty     int             `json:"max_party" validate:"gtefield=MinParty"`
	WeekdayGroup WeekdayGroup    `json:"weekday_group" validate:"oneof=SUN_WED THU_SAT"`
	HourlyRate   decimal.Decimal `json:"hourly_rate"`
}

func (t Tier) contains(party int) bool {
	return party >= t.MinParty && party <= t.MaxParty
}

// Payload is the editable content of a rate table version.
type Payload struct {
	Tiers               []Tier          `json:"tiers" validate:"required,min=1,dive"`
	MinimumHours        decimal.Decimal `json:"minimum_hours"`
	TaxRate             decimal.Decimal `json:"tax_rate"`
	DefaultDepositPct   decimal.Decimal `json:"default_deposit_pct"`
	SharedTourBaseRate  decimal.Decimal `json:"shared_tour_base_rate"`
	SharedTourLunchRate decimal.Decimal `json:"shared_tour_lunch_rate"`
	SharedTourMaxParty  int             `json:"shared_tour_max_party" validate:"gte=0"`

	// Stored as given and never priced.
	WeatherCancellationPolicy json.RawMessage `json:"weather_cancellation_policy,omitempty"`
	TransferPricing           json.RawMessage `json:"transfer_pricing,omitempty"`
}

// Table is a parsed, coverage-checked rate table version. It is never
// mutated after Parse returns.
type Table struct {
	Version       int64     `json:"version_id"`
	EffectiveFrom time.Time `json:"effective_from"`
	Payload

	partyLimit int
}

func (t *Table) MaxParty() int { return t.partyLimit }

// TableVersion is the persisted form of a rate table.
type TableVersion struct {
	ID            int64     `gorm:"primaryKey" json:"version_id"`
	EffectiveFrom time.Time `gorm:"not null;index" json:"effective_from"`
	Payload       string    `gorm:"type:text;not null" json:"json_payload"`
	CreatedBy     string    `gorm:"size:120;not null" json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

func (TableVersion) TableName() string { return "rate_table_versions" }

// Audit records one administrative edit.
type Audit struct {
	ID                int64     `gorm:"primaryKey" json:"id"`
	VersionID         int64     `gorm:"not null;index" json:"version_id"`
	PreviousVersionID *int64    `json:"previous_version_id,omitempty"`
	OldPayload        string    `gorm:"type:text" json:"old_payload"`
	NewPayload        string    `gorm:"type:text;not null" json:"new_payload"`
	Editor            string    `gorm:"size:120;not null" json:"editor"`
	Reason            string    `gorm:"type:text;not null" json:"reason"`
	CreatedAt         time.Time `json:"created_at"`
}

func (Audit) TableName() string { return "rate_table_audits" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&TableVersion{}, &Audit{}}
}
