package irrigation

import "errors"

// Domain errors for the irrigation package.
var (
	// ErrInvalidParameter is returned when a valve parameter is missing,
	// negative or carries an unknown unit. The valve is skipped.
	ErrInvalidParameter = errors.New("irrigation: invalid parameter")

	// ErrMissingHistory is returned when the valve's on/off history cannot
	// be read from the hub.
	ErrMissingHistory = errors.New("irrigation: history unavailable")

	// ErrForecastUnavailable is returned when no forecast source answered.
	ErrForecastUnavailable = errors.New("irrigation: forecast unavailable")
)
