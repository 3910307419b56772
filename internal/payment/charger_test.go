package payment

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxCharger(t *testing.T) {
	ctx := context.Background()
	c := SandboxCharger{}
	amount := decimal.RequireFromString("310.37")

	res, err := c.Charge(ctx, amount, "tok_visa", "")
	require.NoError(t, err)
	assert.Equal(t, Authorized, res.Outcome)
	assert.NotEmpty(t, res.Reference)

	keyed, err := c.Charge(ctx, amount, "tok_visa", "pay_1")
	require.NoError(t, err)
	assert.Equal(t, "sbx_pay_1", keyed.Reference)

	res, err = c.Charge(ctx, amount, "tok_decline_insufficient", "pay_2")
	require.NoError(t, err)
	assert.Equal(t, Declined, res.Outcome)

	_, err = c.Charge(ctx, amount, "", "pay_3")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = c.Charge(ctx, decimal.Zero, "tok_visa", "pay_4")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
