package booking

import "errors"

var (
	ErrBookingNotFound     = errors.New("booking not found")
	ErrInvalidBookingState = errors.New("booking is not in a state that allows this action")
	ErrFinalInvoiceSent    = errors.New("final invoice already sent for booking")
	ErrStaleBooking        = errors.New("booking was modified concurrently")
	ErrActorRequired       = errors.New("actor is required")
	ErrReasonRequired      = errors.New("reason is required")
	ErrClientEmailRequired = errors.New("client email is required")
)
