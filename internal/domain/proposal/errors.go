package proposal

import "errors"

var (
	ErrProposalNotFound       = errors.New("proposal not found")
	ErrInvalidProposalState   = errors.New("invalid proposal state")
	ErrProposalExpired        = errors.New("proposal expired")
	ErrStaleProposal          = errors.New("proposal was modified concurrently")
	ErrNoItems                = errors.New("proposal needs at least one service item")
	ErrClientEmailRequired    = errors.New("client email is required")
	ErrClientNameRequired     = errors.New("client name is required")
	ErrOverrideReasonRequired = errors.New("price override requires a reason")
	ErrNegativeAmount         = errors.New("amount must not be negative")
	ErrValidUntilInPast       = errors.New("valid_until must be in the future")
	ErrSignatureRequired      = errors.New("signature is required")
	ErrTermsNotAccepted       = errors.New("terms must be accepted")
	ErrPolicyNotAccepted      = errors.New("cancellation policy must be accepted")
	ErrInvalidGratuity        = errors.New("gratuity must be a 15, 20 or 25 percent preset or a custom amount")
	ErrGratuityDisabled       = errors.New("gratuity is not enabled on this proposal")
	ErrActorRequired          = errors.New("actor is required")
)
