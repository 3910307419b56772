package rates

import "github.com/shopspring/decimal"

// DefaultPayload is the 2025 season rate sheet installed by the seeder.
func DefaultPayload() Payload {
	type row struct {
		min, max       int
		sunWed, thuSat int64
	}
	rows := []row{
		{1, 2, 85, 95},
		{3, 4, 95, 105},
		{5, 6, 105, 115},
		{7, 8, 115, 125},
		{9, 11, 130, 140},
		{12, 14, 140, 150},
	}

	var tiers []Tier
	for _, r := range rows {
		tiers = append(tiers,
			Tier{MinParty: r.min, MaxParty: r.max, WeekdayGroup: SunWed, HourlyRate: decimal.NewFromInt(r.sunWed)},
			Tier{MinParty: r.min, MaxParty: r.max, WeekdayGroup: ThuSat, HourlyRate: decimal.NewFromInt(r.thuSat)},
		)
	}

	return Payload{
		Tiers:               tiers,
		MinimumHours:        decimal.NewFromInt(5),
		TaxRate:             decimal.RequireFromString("0.089"),
		DefaultDepositPct:   decimal.RequireFromString("0.50"),
		SharedTourBaseRate:  decimal.NewFromInt(95),
		SharedTourLunchRate: decimal.NewFromInt(115),
		SharedTourMaxParty:  14,
	}
}
