package deposit

import "errors"

// Provider and oracle failures are typed so the transport can render a
// precise message instead of a generic failure.
var (
	ErrRateUnavailable     = errors.New("exchange rate unavailable")
	ErrBelowMinimum        = errors.New("amount below provider minimum")
	ErrInvalidResponse     = errors.New("invalid provider response")
	ErrInvalidAPIKey       = errors.New("provider rejected api key")
	ErrProviderTimeout     = errors.New("provider request timed out")
	ErrInvalidNotification = errors.New("notification missing required fields")
)
