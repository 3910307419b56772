// Package payment defines the card-charging collaborator.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	Authorized Outcome = "authorized"
	Declined   Outcome = "declined"
)

var (
	ErrMissingToken  = errors.New("payment method token is required")
	ErrInvalidAmount = errors.New("charge amount must be positive")
)

type Result struct {
	Outcome   Outcome `json:"outcome"`
	Reference string  `json:"reference"`
	Reason    string  `json:"reason,omitempty"`
}

// Charger charges a tokenized payment method. A decline is a Result, not an
// error; errors mean the processor could not be reached. Processors treat a
// repeated idempotency key as the same charge.
type Charger interface {
	Charge(ctx context.Context, amount decimal.Decimal, token, idempotencyKey string) (Result, error)
}

// SandboxCharger authorizes every token except those starting with
// "tok_decline". It stands in for the processor outside production.
type SandboxCharger struct{}

func (SandboxCharger) Charge(ctx context.Context, amount decimal.Decimal, token, idempotencyKey string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(token) == "" {
		return Result{}, ErrMissingToken
	}
	if !amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	ref := "sbx_" + idempotencyKey
	if idempotencyKey == "" {
		ref = "sbx_" + uuid.NewString()
	}
	if strings.HasPrefix(token, "tok_decline") {
		return Result{Outcome: Declined, Reference: ref, Reason: "card_declined"}, nil
	}
	return Result{Outcome: Authorized, Reference: ref}, nil
}
