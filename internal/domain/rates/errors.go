package rates

import "errors"

var (
	ErrInvalidPartySize             = errors.New("party size outside the rate table")
	ErrUnsupportedTourConfiguration = errors.New("unsupported tour configuration")
	ErrInvalidHours                 = errors.New("hours must be positive")
	ErrCoverageGap                  = errors.New("rate table coverage gap")
	ErrTierOverlap                  = errors.New("rate table tiers overlap")
	ErrInvalidTable                 = errors.New("invalid rate table")
	ErrNoActiveTable                = errors.New("no rate table configured")
	ErrEditorRequired               = errors.New("editor is required")
	ErrReasonRequired               = errors.New("reason is required")
)

// AdjustmentBelowMinimumDuration marks a private quote billed at the table minimum.
const AdjustmentBelowMinimumDuration = "BELOW_MINIMUM_DURATION"
