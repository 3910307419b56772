package proposal

import (
	"github.com/shopspring/decimal"

	"winetours/internal/apperr"
	"winetours/internal/domain/rates"
)

var gratuityPresets = map[int]bool{15: true, 20: true, 25: true}

// GratuityChoice is the client's tip selection at acceptance. The zero value
// means no gratuity.
type GratuityChoice struct {
	PresetPct    int              `json:"preset_pct"`
	CustomAmount *decimal.Decimal `json:"custom_amount"`
}

func (g GratuityChoice) IsZero() bool {
	return g.PresetPct == 0 && g.CustomAmount == nil
}

// Amount resolves the choice against the proposal subtotal.
func (g GratuityChoice) Amount(subtotal decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case g.IsZero():
		return decimal.Zero, nil
	case g.PresetPct != 0 && g.CustomAmount != nil:
		return decimal.Zero, apperr.Validation("gratuity", ErrInvalidGratuity)
	case g.CustomAmount != nil:
		if g.CustomAmount.IsNegative() {
			return decimal.Zero, apperr.Validation("gratuity.custom_amount", ErrNegativeAmount)
		}
		return rates.RoundMoney(*g.CustomAmount), nil
	case !gratuityPresets[g.PresetPct]:
		return decimal.Zero, apperr.Validation("gratuity.preset_pct", ErrInvalidGratuity)
	default:
		pct := decimal.NewFromInt(int64(g.PresetPct)).Div(decimal.NewFromInt(100))
		return rates.RoundMoney(subtotal.Mul(pct)), nil
	}
}
