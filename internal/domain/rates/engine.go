package rates

import (
	"time"

	"github.com/shopspring/decimal"

	"winetours/internal/apperr"
)

type QuoteRequest struct {
	PartySize     int
	Hours         decimal.Decimal
	TourDate      time.Time
	TourType      TourType
	LunchIncluded bool
}

// Adjustment records a deliberate deviation between requested and billed input.
type Adjustment struct {
	Code      string          `json:"code"`
	Requested decimal.Decimal `json:"requested"`
	Applied   decimal.Decimal `json:"applied"`
}

type Quote struct {
	PartySize     int             `json:"party_size"`
	Hours         decimal.Decimal `json:"hours"`
	BilledHours   decimal.Decimal `json:"billed_hours"`
	TourDate      time.Time       `json:"tour_date"`
	TourType      TourType        `json:"tour_type"`
	LunchIncluded bool            `json:"lunch_included"`
	WeekdayGroup  WeekdayGroup    `json:"weekday_group"`
	HourlyRate    decimal.Decimal `json:"hourly_rate"`
	PerPersonRate decimal.Decimal `json:"per_person_rate"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	RateVersion   int64           `json:"rate_version"`
	Adjustments   []Adjustment    `json:"adjustments,omitempty"`
}

// GroupOf maps a calendar day to its weekday group.
func GroupOf(day time.Time) WeekdayGroup {
	switch day.Weekday() {
	case time.Sunday, time.Monday, time.Tuesday, time.Wednesday:
		return SunWed
	default:
		return ThuSat
	}
}

// RoundMoney rounds half away from zero to cents.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Taxed returns tax and total for a subtotal.
func Taxed(subtotal, taxRate decimal.Decimal) (tax, total decimal.Decimal) {
	subtotal = RoundMoney(subtotal)
	tax = RoundMoney(subtotal.Mul(taxRate))
	return tax, subtotal.Add(tax)
}

// Quote prices a tour against this table version. It has no side effects.
func (t *Table) Quote(req QuoteRequest) (Quote, error) {
	if req.PartySize < 1 || req.PartySize > t.partyLimit {
		return Quote{}, apperr.Validation("party_size", ErrInvalidPartySize)
	}

	group := GroupOf(req.TourDate)
	q := Quote{
		PartySize:     req.PartySize,
		Hours:         req.Hours,
		TourDate:      req.TourDate,
		TourType:      req.TourType,
		LunchIncluded: req.LunchIncluded,
		WeekdayGroup:  group,
		TaxRate:       t.TaxRate,
		RateVersion:   t.Version,
	}

	switch req.TourType {
	case Private:
		if !req.Hours.IsPositive() {
			return Quote{}, apperr.Validation("hours", ErrInvalidHours)
		}
		tier, err := t.Lookup(req.PartySize, group)
		if err != nil {
			return Quote{}, err
		}
		q.HourlyRate = tier.HourlyRate
		q.BilledHours = req.Hours
		if req.Hours.LessThan(t.MinimumHours) {
			q.BilledHours = t.MinimumHours
			q.Adjustments = append(q.Adjustments, Adjustment{
				Code:      AdjustmentBelowMinimumDuration,
				Requested: req.Hours,
				Applied:   t.MinimumHours,
			})
		}
		q.Subtotal = RoundMoney(tier.HourlyRate.Mul(q.BilledHours))

	case Shared:
		if group != SunWed || req.PartySize > t.SharedTourMaxParty {
			return Quote{}, apperr.Validation("tour_type", ErrUnsupportedTourConfiguration)
		}
		q.PerPersonRate = t.SharedTourBaseRate
		if req.LunchIncluded {
			q.PerPersonRate = t.SharedTourLunchRate
		}
		q.BilledHours = req.Hours
		q.Subtotal = RoundMoney(q.PerPersonRate.Mul(decimal.NewFromInt(int64(req.PartySize))))

	default:
		return Quote{}, apperr.Validation("tour_type", ErrUnsupportedTourConfiguration)
	}

	q.Tax, q.Total = Taxed(q.Subtotal, t.TaxRate)
	return q, nil
}
