// Package refund maps a cancellation's notice period to a refund percentage.
package refund

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jinzhu/now"
	"github.com/shopspring/decimal"
)

// Tier grants Pct percent when notice is at least MinDays.
type Tier struct {
	MinDays int `json:"min_days"`
	Pct     int `json:"pct"`
}

// Policy is an ordered set of tiers; notice below every tier refunds nothing.
type Policy struct {
	Name  string `json:"name"`
	Tiers []Tier `json:"tiers"`
}

type Refund struct {
	NoticeDays int    `json:"notice_days"`
	Pct        int    `json:"refund_pct"`
	Policy     string `json:"policy"`
}

var DefaultPolicy = Policy{
	Name: "standard",
	Tiers: []Tier{
		{MinDays: 40, Pct: 100},
		{MinDays: 20, Pct: 50},
		{MinDays: 10, Pct: 25},
	},
}

var ErrInvalidPolicy = errors.New("invalid refund policy")

// Compute applies DefaultPolicy.
func Compute(tourDate, cancellationDate time.Time) Refund {
	return DefaultPolicy.Compute(tourDate, cancellationDate)
}

func (p Policy) Compute(tourDate, cancellationDate time.Time) Refund {
	days := NoticeDays(tourDate, cancellationDate)
	return Refund{NoticeDays: days, Pct: p.PctFor(days), Policy: p.Name}
}

// PctFor returns the refund percentage for a notice period in days.
func (p Policy) PctFor(days int) int {
	best, pct := math.MinInt, 0
	for _, t := range p.Tiers {
		if days >= t.MinDays && t.MinDays > best {
			best, pct = t.MinDays, t.Pct
		}
	}
	return pct
}

func (p Policy) Validate() error {
	if len(p.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidPolicy)
	}
	tiers := append([]Tier(nil), p.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinDays > tiers[j].MinDays })
	for i, t := range tiers {
		if t.Pct < 0 || t.Pct > 100 {
			return fmt.Errorf("%w: pct %d out of range", ErrInvalidPolicy, t.Pct)
		}
		if i > 0 && (tiers[i-1].MinDays == t.MinDays || tiers[i-1].Pct < t.Pct) {
			return fmt.Errorf("%w: tiers must refund less for shorter notice", ErrInvalidPolicy)
		}
	}
	return nil
}

// NoticeDays counts calendar days from the cancellation day to the tour day,
// both taken in the tour date's location. Cancelling after the tour yields a
// negative count.
func NoticeDays(tourDate, cancellationDate time.Time) int {
	loc := tourDate.Location()
	tour := now.With(tourDate).BeginningOfDay()
	cancel := now.With(cancellationDate.In(loc)).BeginningOfDay()
	return int(math.Round(tour.Sub(cancel).Hours() / 24))
}

// Amount is the refundable share of paid.
func (r Refund) Amount(paid decimal.Decimal) decimal.Decimal {
	return paid.Mul(decimal.NewFromInt(int64(r.Pct))).Div(decimal.NewFromInt(100)).Round(2)
}

// Registry resolves special-circumstance policies (weather, emergency) by
// reason code. Codes without a configured policy fall back to the default.
type Registry struct {
	Default  Policy
	Policies map[string]Policy
}

func NewRegistry(policies map[string]Policy) (*Registry, error) {
	for code, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", code, err)
		}
	}
	return &Registry{Default: DefaultPolicy, Policies: policies}, nil
}

func (r *Registry) For(reasonCode string) Policy {
	if r != nil {
		if p, ok := r.Policies[reasonCode]; ok {
			return p
		}
		return r.Default
	}
	return DefaultPolicy
}
