package invoice

import "errors"

var (
	ErrInvoiceNotFound         = errors.New("invoice not found")
	ErrFinalInvoiceAlreadySent = errors.New("final invoice already sent")
	ErrDepositAlreadyIssued    = errors.New("deposit invoice already issued")
	ErrNotReadyForFinalInvoice = errors.New("booking is not ready for final invoice")
	ErrBookingCancelled        = errors.New("booking is cancelled")
	ErrInvoiceNumberCollision  = errors.New("invoice number collision")
	ErrIdempotencyKeyReused    = errors.New("idempotency key belongs to another booking")
	ErrInvalidInvoiceState     = errors.New("invalid invoice state")
	ErrInvoiceAlreadyPaid      = errors.New("invoice already paid")
	ErrApproverRequired        = errors.New("approver is required")
	ErrPaymentTokenRequired    = errors.New("payment method token is required")
	ErrVoidReasonRequired      = errors.New("void reason is required")
	ErrNothingToCharge         = errors.New("invoice has nothing to charge")
	ErrPaymentInProgress       = errors.New("payment already in progress")
)
