package hoursync

import "errors"

var (
	ErrEventIDRequired         = errors.New("event id is required")
	ErrInvalidShift            = errors.New("clock-out must be after clock-in")
	ErrInvalidReference        = errors.New("booking and time record ids are required")
	ErrInvoiceAlreadyFinalized = errors.New("final invoice already sent; adjust manually")
	ErrInvalidHours            = errors.New("hours must be positive")
	ErrActorRequired           = errors.New("actor is required")
	ErrReasonRequired          = errors.New("reason is required")
	ErrTimeRecordNotFound      = errors.New("time record not found")
	ErrAlreadyClockedIn        = errors.New("driver already clocked in for this booking")
	ErrAlreadyClockedOut       = errors.New("time record already clocked out")
	ErrNotClockedOut           = errors.New("time record has not been clocked out")
	ErrDriverRequired          = errors.New("driver name is required")
	ErrRecordBookingMismatch   = errors.New("time record belongs to another booking")
)
