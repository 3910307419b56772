package rates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"winetours/internal/apperr"
	"winetours/internal/pkg/validator"
)

// Parse decodes and validates a rate table payload. Coverage problems are
// reported as integrity errors; malformed input as validation errors.
func Parse(raw []byte) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, apperr.Validation("payload", fmt.Errorf("%w: %v", ErrInvalidTable, err))
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Check validates field ranges and verifies that every party size from 1 to
// the largest tier resolves to exactly one tier in each weekday group.
func (p *Payload) Check() error {
	if errs := validator.Validate(p); errs != nil {
		return apperr.Validation("payload", fmt.Errorf("%w: %s", ErrInvalidTable, joinFieldErrors(errs)))
	}

	positive := map[string]decimal.Decimal{"minimum_hours": p.MinimumHours}
	for i, t := range p.Tiers {
		positive[fmt.Sprintf("tiers[%d].hourly_rate", i)] = t.HourlyRate
	}
	for field, v := range positive {
		if !v.IsPositive() {
			return apperr.Validation(field, fmt.Errorf("%w: must be > 0", ErrInvalidTable))
		}
	}
	fractions := map[string]decimal.Decimal{"tax_rate": p.TaxRate, "default_deposit_pct": p.DefaultDepositPct}
	for field, v := range fractions {
		if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(1)) {
			return apperr.Validation(field, fmt.Errorf("%w: must be within [0, 1]", ErrInvalidTable))
		}
	}
	if p.SharedTourBaseRate.IsNegative() || p.SharedTourLunchRate.IsNegative() {
		return apperr.Validation("shared_tour_rates", fmt.Errorf("%w: must be >= 0", ErrInvalidTable))
	}

	maxParty := p.maxParty()
	for _, group := range weekdayGroups {
		for party := 1; party <= maxParty; party++ {
			matches := 0
			for _, t := range p.Tiers {
				if t.WeekdayGroup == group && t.contains(party) {
					matches++
				}
			}
			switch {
			case matches == 0:
				return apperr.Integrity("rate_table", nil, fmt.Errorf("%w: party %d on %s", ErrCoverageGap, party, group))
			case matches > 1:
				return apperr.Integrity("rate_table", nil, fmt.Errorf("%w: party %d on %s", ErrTierOverlap, party, group))
			}
		}
	}
	if p.SharedTourMaxParty > maxParty {
		return apperr.Validation("shared_tour_max_party", fmt.Errorf("%w: exceeds largest tier %d", ErrInvalidTable, maxParty))
	}
	return nil
}

func (p *Payload) maxParty() int {
	max := 0
	for _, t := range p.Tiers {
		if t.MaxParty > max {
			max = t.MaxParty
		}
	}
	return max
}

// NewTable wraps a checked payload as an immutable version.
func NewTable(version int64, effectiveFrom time.Time, p Payload) (*Table, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	tiers := make([]Tier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].WeekdayGroup != tiers[j].WeekdayGroup {
			return tiers[i].WeekdayGroup < tiers[j].WeekdayGroup
		}
		return tiers[i].MinParty < tiers[j].MinParty
	})
	p.Tiers = tiers
	return &Table{Version: version, EffectiveFrom: effectiveFrom, Payload: p, partyLimit: p.maxParty()}, nil
}

// Lookup returns the tier covering party for group.
func (t *Table) Lookup(party int, group WeekdayGroup) (Tier, error) {
	if party < 1 || party > t.partyLimit {
		return Tier{}, apperr.Validation("party_size", ErrInvalidPartySize)
	}
	for _, tier := range t.Tiers {
		if tier.WeekdayGroup == group && tier.contains(party) {
			return tier, nil
		}
	}
	return Tier{}, apperr.Integrity("rate_table", t.Version, fmt.Errorf("%w: party %d on %s", ErrCoverageGap, party, group))
}

// Canonical returns the normalized JSON stored for this payload.
func (p Payload) Canonical() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func joinFieldErrors(errs map[string]string) string {
	parts := make([]string, 0, len(errs))
	for field, tag := range errs {
		parts = append(parts, field+"="+tag)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
